package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"orderbatch/internal/config"
	"orderbatch/internal/logging"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "orderbatch",
	Short:        "Order upload and delivery batch planning service",
	SilenceUsage: true,
	RunE:         serve,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "optional configuration file (.yaml or .json)")
}

// loadConfig reads configuration and applies the logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}
