package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noteflow/internal/config"
	"noteflow/internal/faucet"
	"noteflow/internal/flow"
	"noteflow/internal/note"
	"noteflow/internal/rpc"
)

var (
	faucetID = note.MustParseAccountID("0xd8e3fa793ea82360734ec91a98e798")
	aliceID  = note.MustParseAccountID("0xa1b2c3d4e5f6071011223344556677")
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxWait = time.Second
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestLocalLedgerPersistsAcrossSessions(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ctx := context.Background()

	s, err := openSession(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, s.flow.RegisterAccount(ctx, rpc.AccountRegistration{ID: aliceID}))
	sym, err := faucet.NewTokenSymbol("POL")
	require.NoError(t, err)
	f, err := faucet.NewNetworkFaucet(faucetID, sym, 6, 1000, aliceID)
	require.NoError(t, err)
	_, err = s.flow.DeployFaucet(ctx, f)
	require.NoError(t, err)
	res, err := s.flow.Issue(ctx, flow.MintRequest{Faucet: faucetID, Target: aliceID, Amount: 30, Aux: note.NewFelt(27)})
	require.NoError(t, err)
	notePath := filepath.Join(t.TempDir(), "p2id.json")
	require.NoError(t, writeNote(notePath, res.P2ID))
	require.NoError(t, s.Close())

	s, err = openSession(cfg, logger)
	require.NoError(t, err)
	defer s.Close()
	kept, err := readNote(notePath)
	require.NoError(t, err)
	assert.Equal(t, res.P2ID.Commitment(), kept.Commitment())
	_, err = s.flow.Consume(ctx, aliceID, kept)
	require.NoError(t, err)

	bal, err := s.flow.Balance(ctx, aliceID, faucetID)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), bal)

	results, err := s.flow.Resume(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestReadNoteRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"assets": "nope"}`), 0o600))
	_, err := readNote(path)
	assert.Error(t, err)
}
