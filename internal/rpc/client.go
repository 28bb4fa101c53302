// client.go - HTTP transport for the ledger contract.

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"noteflow/internal/note"
	"noteflow/internal/txn"
)

// DefaultTimeout is the per request timeout when none is configured.
const DefaultTimeout = 10 * time.Second

// HTTPClientConfig configures an HTTPClient. ClientID is sent as the message sender.
type HTTPClientConfig struct {
	Endpoint string
	Timeout  time.Duration
	ClientID string
	Logger   *slog.Logger
}

// HTTPClient talks to a ledger node's /rpc endpoint.
type HTTPClient struct {
	http     *resty.Client
	clientID string
	logger   *slog.Logger
}

// NewHTTPClient returns a client for cfg.Endpoint. It does not dial until the first call.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &HTTPClient{
		http: resty.New().
			SetBaseURL(cfg.Endpoint).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		clientID: cfg.ClientID,
		logger:   cfg.Logger,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return c
}

func (c *HTTPClient) call(ctx context.Context, method string, payload, result any) error {
	msg := Message{Type: method, SenderID: c.clientID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("rpc %s: encoding payload: %w", method, err)
		}
		msg.Payload = raw
	}
	var resp Response
	httpResp, err := c.http.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&resp).
		SetError(&resp).
		Post("/rpc")
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	if resp.Code != "" {
		c.logger.Debug(
			fmt.Sprintf("rpc call rejected: %s", resp.Message),
			"component", "rpc",
			"method", method,
			"code", resp.Code,
		)
		return &RemoteError{Method: method, Code: resp.Code, Message: resp.Message}
	}
	if httpResp.IsError() {
		return &TransportError{Method: method, Err: fmt.Errorf("unexpected HTTP status %s", httpResp.Status())}
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return &TransportError{Method: method, Err: fmt.Errorf("decoding result: %w", err)}
		}
	}
	return nil
}

// SyncState asks the node for its latest block.
func (c *HTTPClient) SyncState(ctx context.Context) (SyncSummary, error) {
	var summary SyncSummary
	err := c.call(ctx, MethodSyncState, nil, &summary)
	return summary, err
}

// SubmitTransaction sends req for account and returns the id the node assigned.
func (c *HTTPClient) SubmitTransaction(ctx context.Context, account note.AccountID, req *txn.Request) (txn.ID, error) {
	var res SubmitTransactionResult
	if err := c.call(ctx, MethodSubmitTransaction, SubmitTransactionPayload{Account: account, Request: req}, &res); err != nil {
		return txn.ID{}, err
	}
	return res.ID, nil
}

// LookupTransaction returns nil, nil when the node does not know id.
func (c *HTTPClient) LookupTransaction(ctx context.Context, id txn.ID) (*txn.Status, error) {
	var res GetTransactionResult
	if err := c.call(ctx, MethodGetTransaction, GetTransactionPayload{ID: id}, &res); err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, nil
	}
	if res.Status == nil {
		return nil, &TransportError{Method: MethodGetTransaction, Err: errors.New("malformed reply: found without a status")}
	}
	return res.Status, nil
}

// GetAccount maps a remote not-found to ErrAccountNotFound.
func (c *HTTPClient) GetAccount(ctx context.Context, id note.AccountID) (*AccountDetails, error) {
	var details AccountDetails
	err := c.call(ctx, MethodGetAccount, GetAccountPayload{ID: id}, &details)
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) && re.Code == CodeNotFound {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		return nil, err
	}
	return &details, nil
}

// RegisterAccount maps a remote conflict to ErrAccountExists.
func (c *HTTPClient) RegisterAccount(ctx context.Context, reg AccountRegistration) error {
	err := c.call(ctx, MethodRegisterAccount, reg, nil)
	var re *RemoteError
	if errors.As(err, &re) && re.Code == CodeConflict {
		return fmt.Errorf("%w: %s", ErrAccountExists, reg.ID)
	}
	return err
}
