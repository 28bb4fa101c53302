package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"noteflow/internal/config"
	"noteflow/internal/devnet"
)

func devnetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devnet",
		Short: "Development ledger",
	}
	cmd.AddCommand(devnetServeCommand())
	return cmd
}

func devnetServeCommand() *cobra.Command {
	var bindAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the development ledger over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustConfig(cmd)
			if bindAddr != "" {
				cfg.Devnet.BindAddr = bindAddr
			}
			logger := commonRun(cfg)
			return devnetServe(cfg, logger)
		},
	}
	cmd.Flags().StringVar(&bindAddr, "bind", "", "listen address (defaults to the configured devnet bindAddr)")
	return cmd
}

func devnetServe(cfg *config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	node, err := devnet.NewNode(devnet.Config{
		Logger:        logger,
		PromRegistry:  prometheus.DefaultRegisterer,
		StatePath:     cfg.DevnetStatePath(),
		ProduceOnSync: cfg.Devnet.ProduceOnSync,
		BlockInterval: cfg.Devnet.BlockInterval,
	})
	if err != nil {
		return err
	}
	server := devnet.NewServer(devnet.ServerConfig{
		Address:    cfg.Devnet.BindAddr,
		Node:       node,
		Logger:     logger,
		RateLimit:  rate.Limit(cfg.Devnet.RateLimit),
		RateBurst:  cfg.Devnet.RateBurst,
		Gatherer:   prometheus.DefaultGatherer,
		MaxPending: cfg.Devnet.MaxPending,
		Version:    version,
	})

	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	g, ctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		return node.Run(ctx)
	})
	g.Go(func() error {
		return server.ListenAndServe(ctx, nil)
	})
	err = g.Wait()
	logger.Info(
		fmt.Sprintf("devnet stopped at block %d", node.BlockNum()),
		"component", programName,
	)
	return err
}
