package devnet

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noteflow/internal/faucet"
	"noteflow/internal/note"
	"noteflow/internal/rng"
	"noteflow/internal/rpc"
	"noteflow/internal/txn"
)

func newTestServer(t *testing.T, n *Node, cfg ServerConfig) (*httptest.Server, *rpc.HTTPClient) {
	t.Helper()
	cfg.Node = n
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.NewRegistry()
	}
	srv := httptest.NewServer(NewServer(cfg).Handler())
	t.Cleanup(srv.Close)
	client := rpc.NewHTTPClient(rpc.HTTPClientConfig{
		Endpoint: srv.URL,
		Timeout:  2 * time.Second,
		ClientID: t.Name(),
	})
	return srv, client
}

func TestHTTPClientRoundTrip(t *testing.T) {
	n := newTestNode(t, Config{ProduceOnSync: true})
	_, client := newTestServer(t, n, ServerConfig{})
	ctx := context.Background()

	require.NoError(t, client.RegisterAccount(ctx, rpc.AccountRegistration{ID: aliceID}))
	f := testFaucet(t, 1_000_000)
	require.NoError(t, client.RegisterAccount(ctx, rpc.AccountRegistration{
		ID:            faucetID,
		Storage:       faucet.LayoutV1{}.Encode(f),
		LayoutVersion: 1,
	}))
	err := client.RegisterAccount(ctx, rpc.AccountRegistration{ID: aliceID})
	assert.ErrorIs(t, err, rpc.ErrAccountExists)

	deploy, err := txn.NewRequestBuilder().CustomScript(faucet.DeployScript()).Build()
	require.NoError(t, err)
	id, err := client.SubmitTransaction(ctx, faucetID, deploy)
	require.NoError(t, err)

	status, err := client.LookupTransaction(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, txn.StatusPending, status.Kind)

	summary, err := client.SyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), summary.BlockNum)
	status, err = client.LookupTransaction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, txn.Committed(1), *status)

	// a full mint travels through the JSON codec
	r := rng.NewDeterministic([]byte("http"))
	p := p2idFor(t, aliceID, 50, r.DrawWord())
	mintReq, err := txn.NewRequestBuilder().OwnOutputNotes(mintFor(t, aliceID, p.Recipient().Digest(), 50, r)).Build()
	require.NoError(t, err)
	_, err = client.SubmitTransaction(ctx, faucetID, mintReq)
	require.NoError(t, err)
	consumeReq, err := txn.NewRequestBuilder().UnauthenticatedInputNotes(txn.UnauthenticatedInput{Note: p}).Build()
	require.NoError(t, err)
	_, err = client.SubmitTransaction(ctx, aliceID, consumeReq)
	require.NoError(t, err)
	_, err = client.SyncState(ctx)
	require.NoError(t, err)

	details, err := client.GetAccount(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), details.Balance(faucetID))

	owner, err := faucet.ResolveOwner(faucet.LayoutV1{}, mustAccount(t, client, faucetID))
	require.NoError(t, err)
	assert.Equal(t, aliceID, owner)

	missing, err := client.LookupTransaction(ctx, txn.ID(note.NewWord(9, 9, 9, 9)))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func mustAccount(t *testing.T, client rpc.Client, id note.AccountID) *rpc.AccountDetails {
	t.Helper()
	details, err := client.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return details
}

func TestHTTPClientErrorKinds(t *testing.T) {
	n := newTestNode(t, Config{})
	srv, client := newTestServer(t, n, ServerConfig{})
	ctx := context.Background()

	_, err := client.GetAccount(ctx, bobID)
	assert.ErrorIs(t, err, rpc.ErrAccountNotFound)
	assert.False(t, rpc.IsTransportError(err))

	req, err := txn.NewRequestBuilder().CustomScript(faucet.DeployScript()).Build()
	require.NoError(t, err)
	_, err = client.SubmitTransaction(ctx, bobID, req)
	var re *rpc.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, rpc.CodeRejected, re.Code)
	assert.False(t, rpc.IsTransportError(err))

	srv.Close()
	_, err = client.SyncState(ctx)
	require.Error(t, err)
	assert.True(t, rpc.IsTransportError(err))
}

func TestRateLimitPerHost(t *testing.T) {
	n := newTestNode(t, Config{})
	srv, client := newTestServer(t, n, ServerConfig{RateLimit: 0.001, RateBurst: 2})
	ctx := context.Background()

	for range 2 {
		_, err := client.SyncState(ctx)
		require.NoError(t, err)
	}
	_, err := client.SyncState(ctx)
	var re *rpc.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, rpc.CodeRateLimited, re.Code)

	// a fresh sender id from the same host shares the exhausted budget
	rotated := rpc.NewHTTPClient(rpc.HTTPClientConfig{
		Endpoint: srv.URL,
		Timeout:  2 * time.Second,
		ClientID: "someone-else",
	})
	_, err = rotated.SyncState(ctx)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, rpc.CodeRateLimited, re.Code)
}

func TestIdleLimitersAreEvicted(t *testing.T) {
	n := newTestNode(t, Config{})
	s := NewServer(ServerConfig{Node: n, Gatherer: prometheus.NewRegistry()})
	clock := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return clock }

	first := s.limiter("10.0.0.1")
	s.limiter("10.0.0.2")
	assert.Same(t, first, s.limiter("10.0.0.1"))
	assert.Len(t, s.limiters, 2)

	clock = clock.Add(limiterIdleTTL / 2)
	s.limiter("10.0.0.1")
	clock = clock.Add(limiterIdleTTL/2 + limiterSweepInterval)
	s.limiter("10.0.0.3")
	assert.Len(t, s.limiters, 2)
	assert.Contains(t, s.limiters, "10.0.0.1")
	assert.NotContains(t, s.limiters, "10.0.0.2")
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	n, err := NewNode(Config{PromRegistry: reg})
	require.NoError(t, err)
	srv, _ := newTestServer(t, n, ServerConfig{Gatherer: reg, MaxPending: 1, Version: "test"})
	ctx := context.Background()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var h SystemHealth
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, Healthy, h.OverallStatus)
	assert.Equal(t, "test", h.Version)

	require.NoError(t, n.RegisterAccount(ctx, rpc.AccountRegistration{ID: aliceID}))
	for i := range 2 {
		req, err := txn.NewRequestBuilder().CustomScript(note.ScriptFromSource("noop", []byte{byte(i)})).Build()
		require.NoError(t, err)
		_, err = n.SubmitTransaction(ctx, aliceID, req)
		require.NoError(t, err)
	}
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	resp.Body.Close()
	assert.Equal(t, Degraded, h.OverallStatus)
	assert.Equal(t, 2, h.Pending)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "noteflow_devnet_pending_transactions 2")
}
