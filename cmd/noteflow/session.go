package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"noteflow/internal/config"
	"noteflow/internal/devnet"
	"noteflow/internal/flow"
	"noteflow/internal/journal"
	"noteflow/internal/rng"
	"noteflow/internal/rpc"
)

// session is one command's view of the ledger.
type session struct {
	flow    *flow.Client
	journal *journal.Store
}

// openSession connects to cfg.RPCEndpoint, or opens the local ledger stored in the
// data directory when no endpoint is configured.
func openSession(cfg *config.Config, logger *slog.Logger) (*session, error) {
	layout, err := cfg.Layout()
	if err != nil {
		return nil, err
	}
	s := &session{}
	// the journal creates the data directory the local ledger writes into
	s.journal, err = journal.New(cfg.JournalDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	var ledger rpc.Client
	if cfg.RPCEndpoint != "" {
		ledger = rpc.NewHTTPClient(rpc.HTTPClientConfig{
			Endpoint: cfg.RPCEndpoint,
			Timeout:  cfg.RPCTimeout,
			ClientID: programName,
			Logger:   logger,
		})
	} else {
		node, err := devnet.NewNode(devnet.Config{
			Logger:        logger,
			PromRegistry:  prometheus.NewRegistry(),
			StatePath:     cfg.DevnetStatePath(),
			ProduceOnSync: true,
		})
		if err != nil {
			_ = s.journal.Close()
			return nil, fmt.Errorf("opening local ledger: %w", err)
		}
		ledger = node
	}
	s.flow = flow.New(flow.Config{
		Ledger:          ledger,
		Journal:         s.journal,
		Rng:             rng.NewSecure(),
		Logger:          logger,
		PollInterval:    cfg.PollInterval,
		MaxWait:         cfg.MaxWait,
		NotFoundRetries: cfg.NotFoundRetries,
		BackoffFactor:   cfg.BackoffFactor,
		MaxPollInterval: cfg.MaxPollInterval,
		Layout:          layout,
	})
	return s, nil
}

func (s *session) Close() error {
	return s.journal.Close()
}
