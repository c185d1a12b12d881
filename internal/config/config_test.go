package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mapBackend is an in-memory ConfigBackend.
type mapBackend map[string]any

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	i, _ := v.(int)
	return i, true, nil
}

func (m mapBackend) SetString(key, val string) error { m[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error { m[key] = val; return nil }
func (m mapBackend) Delete(key string) error { delete(m, key); return nil }

func clearSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ECORETURNS_OPENAI_API_KEY", "")
	t.Setenv("ECORETURNS_SERVER_API_TOKEN", "")
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestDefaults verifies all default values are applied when nothing is configured.
func TestDefaults(t *testing.T) {
	clearSecrets(t)
	cfg, err := loadWith(mapBackend{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Generation.Provider != ProviderNone {
		t.Errorf("Generation.Provider = %q, want %q", cfg.Generation.Provider, ProviderNone)
	}
	if cfg.Embedding.Provider != ProviderHash {
		t.Errorf("Embedding.Provider = %q, want %q", cfg.Embedding.Provider, ProviderHash)
	}
	if cfg.Retrieval.TopK != 4 || cfg.Retrieval.AnswerChunks != 2 {
		t.Errorf("Retrieval = %+v, want top_k 4 and answer_chunks 2", cfg.Retrieval)
	}
	if cfg.Retrieval.ChunkSize != 500 || cfg.Retrieval.ChunkOverlap != 50 {
		t.Errorf("chunking = %d/%d, want 500/50", cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
	}
	if cfg.Router.MaxSteps != 3 {
		t.Errorf("Router.MaxSteps = %d, want 3", cfg.Router.MaxSteps)
	}
	if cfg.Generation.Timeout != 20*time.Second {
		t.Errorf("Generation.Timeout = %v, want 20s", cfg.Generation.Timeout)
	}
	if !strings.HasSuffix(cfg.Storage.DataDir, "ecoreturns") && cfg.Storage.DataDir != "ecoreturns-data" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	clearSecrets(t)
	path := writeTempConfig(t, `server:
  port: 8080
log:
  level: debug
  pretty: true
generation:
  provider: ollama
  timeout: 45s
embedding:
  dimensions: 128
retrieval:
  top_k: 6
router:
  classifier_enabled: true
catalog:
  file: /etc/ecoreturns/catalog.yaml
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Pretty {
		t.Errorf("Log = %+v, want debug/pretty", cfg.Log)
	}
	if cfg.Generation.Provider != ProviderOllama || cfg.Generation.Timeout != 45*time.Second {
		t.Errorf("Generation = %+v", cfg.Generation)
	}
	if cfg.Embedding.Dimensions != 128 {
		t.Errorf("Embedding.Dimensions = %d, want 128", cfg.Embedding.Dimensions)
	}
	if cfg.Retrieval.TopK != 6 {
		t.Errorf("Retrieval.TopK = %d, want 6", cfg.Retrieval.TopK)
	}
	if !cfg.Router.ClassifierEnabled {
		t.Error("Router.ClassifierEnabled = false, want true")
	}
	if cfg.Catalog.File != "/etc/ecoreturns/catalog.yaml" {
		t.Errorf("Catalog.File = %q", cfg.Catalog.File)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	clearSecrets(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want default 4000", cfg.Server.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearSecrets(t)
	t.Setenv("ECORETURNS_SERVER_PORT", "9999")
	t.Setenv("ECORETURNS_ROUTER_MAX_STEPS", "5")
	t.Setenv("ECORETURNS_EMBEDDING_CACHE_TTL", "5m")
	t.Setenv("ECORETURNS_LOG_PRETTY", "not-a-bool")

	cfg, err := loadWith(mapBackend{"server.port": 8080})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Router.MaxSteps != 5 {
		t.Errorf("Router.MaxSteps = %d, want 5", cfg.Router.MaxSteps)
	}
	if cfg.Embedding.CacheTTL != 5*time.Minute {
		t.Errorf("Embedding.CacheTTL = %v, want 5m", cfg.Embedding.CacheTTL)
	}
	if cfg.Log.Pretty {
		t.Error("unparseable bool should keep the default")
	}
}

func TestSecrets(t *testing.T) {
	clearSecrets(t)

	// Secrets in the file are ignored.
	cfg, err := loadWith(mapBackend{"openai.api_key": "from-file", "server.api_token": "tok"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAI.APIKey != "" || cfg.Server.APIToken != "" {
		t.Errorf("secrets read from file: %+v %+v", cfg.OpenAI, cfg.Server)
	}

	t.Setenv("OPENAI_API_KEY", "fallback")
	cfg, _ = loadWith(mapBackend{})
	if cfg.OpenAI.APIKey != "fallback" {
		t.Errorf("APIKey = %q, want fallback", cfg.OpenAI.APIKey)
	}

	t.Setenv("ECORETURNS_OPENAI_API_KEY", "primary")
	cfg, _ = loadWith(mapBackend{})
	if cfg.OpenAI.APIKey != "primary" {
		t.Errorf("APIKey = %q, want primary", cfg.OpenAI.APIKey)
	}
}

func TestValidate(t *testing.T) {
	clearSecrets(t)
	tests := []struct {
		name    string
		backend mapBackend
		wantErr string
	}{
		{"openai without key", mapBackend{"generation.provider": "openai"}, "OpenAI API key"},
		{"openai embeddings without key", mapBackend{"embedding.provider": "openai"}, "OpenAI API key"},
		{"unknown generation", mapBackend{"generation.provider": "llamafile"}, "generation.provider"},
		{"unknown embedding", mapBackend{"embedding.provider": "bert"}, "embedding.provider"},
		{"overlap too large", mapBackend{"retrieval.chunk_size": 50, "retrieval.chunk_overlap": 50}, "chunking"},
		{"zero steps", mapBackend{"router.max_steps": 0}, "max_steps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadWith(tt.backend)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestFileBackend_InvalidInt(t *testing.T) {
	clearSecrets(t)
	path := writeTempConfig(t, "server:\n  port: abc\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for non-integer port")
	}
}

func TestSetKey_RoundTrip(t *testing.T) {
	clearSecrets(t)
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	t.Setenv("ECORETURNS_CONFIG", path)

	if err := SetKey("server.port", "7000"); err != nil {
		t.Fatalf("SetKey port: %v", err)
	}
	if err := SetKey("generation.timeout", "30s"); err != nil {
		t.Fatalf("SetKey timeout: %v", err)
	}
	if err := SetKey("router.classifier_enabled", "true"); err != nil {
		t.Fatalf("SetKey classifier: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7000 || cfg.Generation.Timeout != 30*time.Second || !cfg.Router.ClassifierEnabled {
		t.Errorf("round trip lost values: port=%d timeout=%v classifier=%v",
			cfg.Server.Port, cfg.Generation.Timeout, cfg.Router.ClassifierEnabled)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}

	if err := UnsetKey("server.port"); err != nil {
		t.Fatalf("UnsetKey: %v", err)
	}
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load after unset: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d after unset, want 4000", cfg.Server.Port)
	}
	if cfg.Generation.Timeout != 30*time.Second {
		t.Errorf("unset removed unrelated key: timeout=%v", cfg.Generation.Timeout)
	}
}

func TestSetKey_Rejects(t *testing.T) {
	b := mapBackend{}
	if err := setKey(b, "openai.api_key", "sk-x"); err == nil || !strings.Contains(err.Error(), "ECORETURNS_OPENAI_API_KEY") {
		t.Errorf("secret key error = %v", err)
	}
	if err := setKey(b, "server.port", "eighty"); err == nil {
		t.Error("expected error for invalid integer")
	}
	if err := setKey(b, "generation.timeout", "soon"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if err := setKey(b, "no.such_key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if len(b) != 0 {
		t.Errorf("rejected writes reached the backend: %v", b)
	}
}

func TestShowAll_MasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.OpenAI.APIKey = "sk-secret"

	var seenKey, seenToken bool
	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Value, "sk-secret") {
			t.Errorf("secret leaked in %s", ki.Key)
		}
		switch ki.Key {
		case "openai.api_key":
			seenKey = true
			if ki.Value != "********" || !ki.Secret {
				t.Errorf("openai.api_key = %+v", ki)
			}
		case "server.api_token":
			seenToken = true
			if ki.Value != "(unset)" {
				t.Errorf("server.api_token = %q, want (unset)", ki.Value)
			}
		}
	}
	if !seenKey || !seenToken {
		t.Error("secret keys missing from ShowAll")
	}

	for _, k := range ValidKeys() {
		if k == "openai.api_key" || k == "server.api_token" {
			t.Errorf("ValidKeys includes secret %s", k)
		}
	}
}
