package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"orderbatch/internal/api"
	"orderbatch/internal/batching"
	"orderbatch/internal/logging"
)

var (
	genClusters  int
	genGroupSize int
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run one batching pass against the configured store and print the summary",
	RunE:  generate,
}

func init() {
	generateCmd.Flags().IntVar(&genClusters, "clusters", 0, "explicit cluster count (default from config)")
	generateCmd.Flags().IntVar(&genGroupSize, "group-size", 0, "orders per cluster in derived mode")
	generateCmd.MarkFlagsMutuallyExclusive("clusters", "group-size")
	rootCmd.AddCommand(generateCmd)
}

func generate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New("generate")
	srvDeps, err := api.NewServer(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = srvDeps.Close() }()

	req := batching.Request{Mode: batching.ModeDerived, GroupSize: genGroupSize}
	if cmd.Flags().Changed("clusters") {
		req = batching.Request{Mode: batching.ModeExplicit, Clusters: genClusters}
	}
	sum, err := srvDeps.Batches.Generate(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return err
	}
	if sum.Status == batching.StatusFailed {
		return errors.New("every cluster failed to commit")
	}
	return nil
}
