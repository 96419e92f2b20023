package config

import (
	"testing"

	"github.com/spf13/afero"
)

func TestLoadOverridesWinOverDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg, err := Load(fs, Config{Home: "/cache", GRPCEndpoint: "https://example.invalid"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Home != "/cache" {
		t.Fatalf("expected override home, got %q", cfg.Home)
	}
	if cfg.GRPCEndpoint != "https://example.invalid" {
		t.Fatalf("expected override endpoint, got %q", cfg.GRPCEndpoint)
	}
}

func TestLoadMergesConfigFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/cache/config.json", []byte(`{"grpc_endpoint":"https://from-file.invalid"}`), 0o644)
	cfg, err := Load(fs, Config{Home: "/cache"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GRPCEndpoint != "https://from-file.invalid" {
		t.Fatalf("expected config file value, got %q", cfg.GRPCEndpoint)
	}
}

func TestLoadToleratesMissingConfigFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if _, err := Load(fs, Config{Home: "/nonexistent"}); err != nil {
		t.Fatalf("expected no error for missing config file, got %v", err)
	}
}
