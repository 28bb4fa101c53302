package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noteflow/internal/note"
	"noteflow/internal/txn"
)

// replyServer answers every rpc call with result.
func replyServer(t *testing.T, result string) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{Result: json.RawMessage(result)})
	}))
	t.Cleanup(srv.Close)
	return NewHTTPClient(HTTPClientConfig{Endpoint: srv.URL, Timeout: 2 * time.Second, ClientID: t.Name()})
}

func TestLookupTransactionReplies(t *testing.T) {
	id := txn.ID(note.NewWord(1, 2, 3, 4))
	ctx := context.Background()

	status, err := replyServer(t, `{"found":false}`).LookupTransaction(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, status)

	want := txn.Committed(9)
	committed, err := json.Marshal(GetTransactionResult{Found: true, Status: &want})
	require.NoError(t, err)
	status, err = replyServer(t, string(committed)).LookupTransaction(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, want, *status)

	// found without a status is a broken reply, not a missing transaction
	status, err = replyServer(t, `{"found":true}`).LookupTransaction(ctx, id)
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.Nil(t, status)
}
