package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfigError_Unwrap(t *testing.T) {
	base := errors.New("bad row")
	err := fmt.Errorf("loading: %w", Config("catalog.csv", base))

	if !IsConfig(err) {
		t.Fatal("expected IsConfig to match wrapped ConfigError")
	}
	if !errors.Is(err, base) {
		t.Error("expected errors.Is to reach the underlying error")
	}
	if got := Config("x", nil); got != nil {
		t.Errorf("Config(nil) = %v, want nil", got)
	}
}

func TestConfigError_Message(t *testing.T) {
	err := Configf("policy.yaml", "unknown category %q", "toys")
	want := `configuration error in policy.yaml: unknown category "toys"`
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if IsConfig(errors.New("plain")) {
		t.Error("plain error must not be a ConfigError")
	}
}
