package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kalambet/ecoreturns/internal/api"
	"github.com/kalambet/ecoreturns/internal/config"
	"github.com/kalambet/ecoreturns/internal/extract"
	"github.com/kalambet/ecoreturns/internal/ingest"
	"github.com/kalambet/ecoreturns/internal/retrieval"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the ingest worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running ecoreturns server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the return tools over MCP on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "ecoreturns.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(ctx context.Context) error {
	fmt.Fprintf(os.Stderr, "ecoreturns version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("ecoreturns is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("ecoreturns is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	if cfg.Server.APIToken == "" {
		log.Warn().Msg("no server.api_token configured, API authentication is disabled")
	}

	printStep("building knowledge index")
	a, err := buildApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	handler := api.NewHandler(api.Deps{
		Queries: a.orch,
		Store:   a.store,
		Stats:   a.stats,
		Index:   a.retriever,
		Token:   cfg.Server.APIToken,
		Timeout: requestTimeout(cfg.Generation.Timeout, cfg.Router.MaxSteps),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	worker := ingest.NewWorker(a.store, a.knowledge, extract.Fetcher{}, 500*time.Millisecond)
	go worker.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "ecoreturns listening on %s (generation: %s)\n", addr, a.generator)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// requestTimeout bounds one HTTP query: every plan step may call the
// generator once, plus a fixed allowance for retrieval.
func requestTimeout(generation time.Duration, maxSteps int) time.Duration {
	if generation <= 0 {
		return 0
	}
	if maxSteps < 1 {
		maxSteps = 1
	}
	return time.Duration(maxSteps)*generation + 10*time.Second
}

func runMCP(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)

	a, err := buildApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	worker := ingest.NewWorker(a.store, a.knowledge, extract.Fetcher{}, time.Second)
	go worker.Run(ctx)

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Rules:    a.rules,
		Labels:   a.labels,
		Answerer: a.answerer,
		Queries:  a.orch,
		Store:    a.store,
		Stats:    a.stats,
		Version:  version,
	})
	log.Info().Str("generation", a.generator).Msg("MCP server started (stdio transport)")
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := loadConfig()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("ecoreturns is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop ecoreturns (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to ecoreturns (PID %d)", pid)
	return nil
}

type healthResponse struct {
	Status string                `json:"status"`
	Index  *retrieval.IndexStats `json:"index"`
}

func showStatus(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	var health healthResponse
	running := false
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/health", nil)
	resp, err := client.Do(req)
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	default:
		running = true
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			log.Debug().Err(err).Msg("decoding health response")
		}
		resp.Body.Close()
		printStatus("Server", "running on port %d", cfg.Server.Port)
	}

	if running && health.Index != nil {
		printStatus("Index", "%d documents, %d chunks (%s)", health.Index.Documents, health.Index.Chunks, health.Index.Embedder)
	}

	printStatus("Generation", "%s", cfg.Generation.Provider)
	printStatus("Embedding", "%s", cfg.Embedding.Provider)
	if cfg.Generation.Provider == config.ProviderOllama || cfg.Embedding.Provider == config.ProviderOllama {
		ollamaReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Ollama.BaseURL+"/api/version", nil)
		if ollamaResp, err := client.Do(ollamaReq); err != nil {
			printStatus("Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
