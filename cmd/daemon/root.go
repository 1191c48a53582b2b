// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/tunegate/internal/config"
	"github.com/ManuGH/tunegate/internal/log"
	"github.com/ManuGH/tunegate/internal/version"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "tunegate",
		Short: "Resolve and proxy audio streams for video identifiers",
		Long: `tunegate turns a video identifier into playable audio stream candidates
by walking an ordered chain of upstream sources, and proxies the audio bytes
from allow-listed CDNs with throttling-aware range retrieval.

Use "tunegate [command] --help" for more information about a command.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is read (empty disables)")
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newServeCmd(opts),
		newResolveCmd(opts),
		newFetchCmd(opts),
		newHealthcheckCmd(),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) loader() *config.Loader {
	return config.NewLoader(o.configPath, version.Version).WithEnvFile(o.envFile)
}

// loadConfig loads and validates the configuration and applies its log settings.
func (o *rootOptions) loadConfig() (config.Config, *config.Loader, error) {
	loader := o.loader()
	cfg, err := loader.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	configureLogging(cfg)
	return cfg, loader, nil
}

func configureLogging(cfg config.Config) {
	log.Configure(log.Config{
		Level:   cfg.Log.Level,
		Service: cfg.Log.Service,
		Version: version.Version,
	})
}
