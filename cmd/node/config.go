package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"VeriStake/internal/identity"
	"VeriStake/internal/types"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// FeedAddress is the QUIC event feed listen address.
	// Empty disables the feed.
	FeedAddress string

	// KeyPath is the path to the node's 32-byte key seed file.
	KeyPath string

	// Key is the node's BLS signing key.
	Key *identity.KeyPair

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string

	// MinStake is the admission threshold for attestor registration.
	MinStake uint64

	// MinDelay is the governance timelock floor in seconds.
	MinDelay uint64

	// Governor is the genesis governor principal in base58.
	// Empty defaults to the node's own principal.
	Governor string

	// ModuleDir is a directory of verifier WASM modules loaded at boot.
	ModuleDir string

	// VerifyGas is the gas limit per WASM verification. Zero selects
	// the pool default.
	VerifyGas uint64

	// Grants are one-time token grants applied on first boot.
	Grants []Grant
}

// Grant is one genesis token grant from the config file.
type Grant struct {
	Principal string `yaml:"principal"`
	Amount    uint64 `yaml:"amount"`
}

// fileConfig mirrors Config for the YAML file. Pointer fields
// distinguish absent keys from zero values.
type fileConfig struct {
	DataPath    *string `yaml:"data"`
	HTTPAddress *string `yaml:"http"`
	FeedAddress *string `yaml:"feed"`
	KeyPath     *string `yaml:"key"`
	LogLevel    *string `yaml:"log-level"`
	MinStake    *uint64 `yaml:"min-stake"`
	MinDelay    *uint64 `yaml:"min-delay"`
	Governor    *string `yaml:"governor"`
	ModuleDir   *string `yaml:"module-dir"`
	VerifyGas   *uint64 `yaml:"verify-gas"`
	Grants      []Grant `yaml:"grants"`
}

// defaultConfig returns the built-in defaults.
func defaultConfig() *Config {
	return &Config{
		DataPath:    "./data",
		HTTPAddress: ":8080",
		FeedAddress: ":9000",
		KeyPath:     "./node.key",
		LogLevel:    "info",
		MinStake:    1_000,
		MinDelay:    86_400,
	}
}

// parseFlags builds the node configuration. Precedence is flags over
// config file over built-in defaults.
func parseFlags() (*Config, error) {
	cfg := defaultConfig()

	var configPath string
	flag.StringVar(&configPath, "config", "", "YAML config file path")
	flag.StringVar(&cfg.DataPath, "data", cfg.DataPath, "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", cfg.HTTPAddress, "HTTP API address")
	flag.StringVar(&cfg.FeedAddress, "feed", cfg.FeedAddress, "QUIC event feed address (empty disables)")
	flag.StringVar(&cfg.KeyPath, "key", cfg.KeyPath, "Key seed file path (generates new if missing)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Minimum log level (debug, info, warn, error)")
	flag.Uint64Var(&cfg.MinStake, "min-stake", cfg.MinStake, "Registration stake threshold")
	flag.Uint64Var(&cfg.MinDelay, "min-delay", cfg.MinDelay, "Governance timelock floor in seconds")
	flag.StringVar(&cfg.Governor, "governor", cfg.Governor, "Genesis governor principal (defaults to the node key)")
	flag.StringVar(&cfg.ModuleDir, "modules", cfg.ModuleDir, "Verifier WASM module directory")
	flag.Uint64Var(&cfg.VerifyGas, "verify-gas", cfg.VerifyGas, "Gas limit per WASM verification (0 = pool default)")
	flag.Parse()

	if configPath == "" {
		return cfg, nil
	}

	if err := applyConfigFile(cfg, configPath); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyConfigFile overlays file values onto cfg for every field not
// set explicitly on the command line.
func applyConfigFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file:\n%w", err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse config file:\n%w", err)
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if file.DataPath != nil && !set["data"] {
		cfg.DataPath = *file.DataPath
	}
	if file.HTTPAddress != nil && !set["http"] {
		cfg.HTTPAddress = *file.HTTPAddress
	}
	if file.FeedAddress != nil && !set["feed"] {
		cfg.FeedAddress = *file.FeedAddress
	}
	if file.KeyPath != nil && !set["key"] {
		cfg.KeyPath = *file.KeyPath
	}
	if file.LogLevel != nil && !set["log-level"] {
		cfg.LogLevel = *file.LogLevel
	}
	if file.MinStake != nil && !set["min-stake"] {
		cfg.MinStake = *file.MinStake
	}
	if file.MinDelay != nil && !set["min-delay"] {
		cfg.MinDelay = *file.MinDelay
	}
	if file.Governor != nil && !set["governor"] {
		cfg.Governor = *file.Governor
	}
	if file.ModuleDir != nil && !set["modules"] {
		cfg.ModuleDir = *file.ModuleDir
	}
	if file.VerifyGas != nil && !set["verify-gas"] {
		cfg.VerifyGas = *file.VerifyGas
	}

	// Grants have no flag form.
	cfg.Grants = file.Grants

	return nil
}

// genesisGovernor resolves the configured governor principal, falling
// back to the node's own identity.
func (c *Config) genesisGovernor() (types.Principal, error) {
	if c.Governor == "" {
		return c.Key.Principal(), nil
	}

	p, err := types.ParsePrincipal(c.Governor)
	if err != nil {
		return types.Principal{}, fmt.Errorf("governor principal: %w", err)
	}

	return p, nil
}
