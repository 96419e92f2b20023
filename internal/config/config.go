// Package config resolves runtime configuration from, in ascending
// precedence: built-in defaults, a SUI_SANDBOX_HOME-relative config file (if
// present), recognized environment variables, then explicit caller-supplied
// overrides. This mirrors the teacher's override-order idiom for chain
// configuration (defaults, then genesis file, then flags).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Config holds everything the transport and store layers need to find their
// endpoints and cache root.
type Config struct {
	// Home is the root of all persistent caches (object store, package
	// index, tx-digest index, dynamic-field cache, progress tracker).
	Home string `json:"home,omitempty"`

	GRPCEndpoint         string `json:"grpc_endpoint,omitempty"`
	GRPCAPIKey           string `json:"grpc_api_key,omitempty"`
	GRPCTestnetEndpoint  string `json:"grpc_testnet_endpoint,omitempty"`
	GRPCArchiveEndpoint  string `json:"grpc_archive_endpoint,omitempty"`
}

// defaultConfigFileName is the file consulted under Home, if present.
const defaultConfigFileName = "config.json"

// envVar names recognized per the external interfaces section.
const (
	envHome             = "SUI_SANDBOX_HOME"
	envGRPCEndpoint     = "SUI_GRPC_ENDPOINT"
	envGRPCAPIKey       = "SUI_GRPC_API_KEY"
	envGRPCTestnetEP    = "SUI_GRPC_TESTNET_ENDPOINT"
	envGRPCArchiveEP    = "SUI_GRPC_ARCHIVE_ENDPOINT"
)

// Default returns the built-in baseline configuration before any file or
// environment overlay is applied.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Home: filepath.Join(home, ".sui-sandbox"),
	}
}

// Load builds a Config by layering defaults, an optional config file under
// Home, environment variables, and finally overrides (in that ascending
// precedence). fs is injectable for tests; pass afero.NewOsFs() in
// production.
func Load(fs afero.Fs, overrides Config) (Config, error) {
	cfg := Default()

	if h := os.Getenv(envHome); h != "" {
		cfg.Home = h
	}
	if overrides.Home != "" {
		cfg.Home = overrides.Home
	}

	cfg = mergeFile(fs, cfg)

	if v := os.Getenv(envGRPCEndpoint); v != "" {
		cfg.GRPCEndpoint = v
	}
	if v := os.Getenv(envGRPCAPIKey); v != "" {
		cfg.GRPCAPIKey = v
	}
	if v := os.Getenv(envGRPCTestnetEP); v != "" {
		cfg.GRPCTestnetEndpoint = v
	}
	if v := os.Getenv(envGRPCArchiveEP); v != "" {
		cfg.GRPCArchiveEndpoint = v
	}

	if overrides.GRPCEndpoint != "" {
		cfg.GRPCEndpoint = overrides.GRPCEndpoint
	}
	if overrides.GRPCAPIKey != "" {
		cfg.GRPCAPIKey = overrides.GRPCAPIKey
	}
	if overrides.GRPCTestnetEndpoint != "" {
		cfg.GRPCTestnetEndpoint = overrides.GRPCTestnetEndpoint
	}
	if overrides.GRPCArchiveEndpoint != "" {
		cfg.GRPCArchiveEndpoint = overrides.GRPCArchiveEndpoint
	}

	return cfg, nil
}

// mergeFile overlays the optional Home/config.json file on top of cfg. A
// missing or malformed file is not an error: configuration files are
// optional convenience, and the policy across this repository is
// log-and-continue for optional, best-effort reads.
func mergeFile(fs afero.Fs, cfg Config) Config {
	path := filepath.Join(cfg.Home, defaultConfigFileName)
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return cfg
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return cfg
	}
	if fileCfg.GRPCEndpoint != "" {
		cfg.GRPCEndpoint = fileCfg.GRPCEndpoint
	}
	if fileCfg.GRPCAPIKey != "" {
		cfg.GRPCAPIKey = fileCfg.GRPCAPIKey
	}
	if fileCfg.GRPCTestnetEndpoint != "" {
		cfg.GRPCTestnetEndpoint = fileCfg.GRPCTestnetEndpoint
	}
	if fileCfg.GRPCArchiveEndpoint != "" {
		cfg.GRPCArchiveEndpoint = fileCfg.GRPCArchiveEndpoint
	}
	return cfg
}
