package main

import (
	"fmt"
	"os"

	"VeriStake/internal/identity"
	"VeriStake/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run() error {
	cfg, err := parseFlags()
	if err != nil {
		return fmt.Errorf("load config:\n%w", err)
	}

	logger.Init(cfg.LogLevel)

	cfg.Key, err = identity.LoadOrCreate(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(cfg)

	return node.Run()
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config) {
	logger.Info("starting VeriStake node",
		"principal", cfg.Key.Principal().String(),
		"http", cfg.HTTPAddress,
		"feed", cfg.FeedAddress,
		"data", cfg.DataPath,
		"min_stake", cfg.MinStake,
		"min_delay", cfg.MinDelay,
	)

	if len(cfg.Grants) > 0 {
		logger.Info("genesis configuration", "grants", len(cfg.Grants))
	}
}
