// server.go - HTTP front end of the development ledger.
//
// POST /rpc     rpc.Message envelope, answered with rpc.Response
// GET  /health  SystemHealth as JSON
// GET  /metrics prometheus exposition

package devnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"noteflow/internal/rpc"
)

const (
	DefaultRateLimit = rate.Limit(50)
	DefaultRateBurst = 100
	maxRequestBytes  = 4 << 20
	shutdownTimeout  = 5 * time.Second

	// limiters idle this long are dropped, checked at most once per sweep interval
	limiterIdleTTL       = 10 * time.Minute
	limiterSweepInterval = time.Minute
)

// ServerConfig configures the HTTP front end. Node is required.
type ServerConfig struct {
	Address string
	Node    *Node
	Logger  *slog.Logger
	// RateLimit is per client host. Message.SenderID is only logged.
	RateLimit rate.Limit
	RateBurst int
	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
	// MaxPending marks the node degraded when more transactions are waiting.
	MaxPending int
	Version    string
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Server serves a Node over HTTP.
type Server struct {
	node       *Node
	logger     *slog.Logger
	address    string
	rateLimit  rate.Limit
	rateBurst  int
	gatherer   prometheus.Gatherer
	health     *HealthChecker
	limitersMu sync.Mutex
	limiters   map[string]*rateEntry
	lastSweep  time.Time
	now        func() time.Time
}

// NewServer builds a server and registers its health checks.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		node:      cfg.Node,
		logger:    cfg.Logger,
		address:   cfg.Address,
		rateLimit: cfg.RateLimit,
		rateBurst: cfg.RateBurst,
		gatherer:  cfg.Gatherer,
		health:    NewHealthChecker(cfg.Version),
		limiters:  make(map[string]*rateEntry),
		now:       time.Now,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if s.rateLimit == 0 {
		s.rateLimit = DefaultRateLimit
	}
	if s.rateBurst == 0 {
		s.rateBurst = DefaultRateBurst
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	s.health.Register("ledger_state", s.node.checkStateDir)
	maxPending := cfg.MaxPending
	s.health.Register("block_production", func() error {
		if maxPending > 0 {
			if p := s.node.PendingCount(); p > maxPending {
				return &DegradedError{Reason: fmt.Sprintf("%d transactions pending", p)}
			}
		}
		return nil
	})
	return s
}

// Handler returns the routes served by the node.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc", s.handleRPC)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully. ready, when not
// nil, receives the bound address once the listener is up.
func (s *Server) ListenAndServe(ctx context.Context, ready chan<- string) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	s.logger.Info(
		"devnet listening on "+listener.Addr().String(),
		"component", "devnet",
	)
	if ready != nil {
		ready <- listener.Addr().String()
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("devnet stopped", "component", "devnet")
	return nil
}

func (s *Server) limiter(key string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	now := s.now()
	if now.Sub(s.lastSweep) >= limiterSweepInterval {
		for k, e := range s.limiters {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}
	e, ok := s.limiters[key]
	if !ok {
		e = &rateEntry{limiter: rate.NewLimiter(s.rateLimit, s.rateBurst)}
		s.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// clientHost is the rate limit key. Message.SenderID is picked by the client, so it
// is never used for limiting.
func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.health.Check()
	h.BlockNum = s.node.BlockNum()
	h.Pending = s.node.PendingCount()
	status := http.StatusOK
	if h.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var msg rpc.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&msg); err != nil {
		s.writeError(w, &rpc.RemoteError{Code: rpc.CodeInvalidRequest, Message: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	host := clientHost(r)
	if !s.limiter(host).Allow() {
		s.writeError(w, &rpc.RemoteError{Method: msg.Type, Code: rpc.CodeRateLimited, Message: "too many requests"})
		return
	}
	s.logger.Debug(
		"rpc call",
		"component", "devnet",
		"method", msg.Type,
		"sender", msg.SenderID,
		"remote", host,
	)

	result, err := s.dispatch(r.Context(), msg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var raw json.RawMessage
	if result != nil {
		raw, err = json.Marshal(result)
		if err != nil {
			s.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, rpc.Response{Result: raw})
}

func decodePayload(msg rpc.Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return &rpc.RemoteError{Method: msg.Type, Code: rpc.CodeInvalidRequest, Message: err.Error()}
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, msg rpc.Message) (any, error) {
	switch msg.Type {
	case rpc.MethodSyncState:
		return s.node.SyncState(ctx)

	case rpc.MethodSubmitTransaction:
		var p rpc.SubmitTransactionPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		id, err := s.node.SubmitTransaction(ctx, p.Account, p.Request)
		if err != nil {
			return nil, err
		}
		return rpc.SubmitTransactionResult{ID: id}, nil

	case rpc.MethodGetTransaction:
		var p rpc.GetTransactionPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		status, err := s.node.LookupTransaction(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		return rpc.GetTransactionResult{Found: status != nil, Status: status}, nil

	case rpc.MethodGetAccount:
		var p rpc.GetAccountPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		return s.node.GetAccount(ctx, p.ID)

	case rpc.MethodRegisterAccount:
		var p rpc.AccountRegistration
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		return nil, s.node.RegisterAccount(ctx, p)
	}
	return nil, &rpc.RemoteError{Method: msg.Type, Code: rpc.CodeInvalidRequest, Message: fmt.Sprintf("unknown method %q", msg.Type)}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := rpc.Response{Code: rpc.CodeInternal, Message: err.Error()}
	var re *rpc.RemoteError
	switch {
	case errors.As(err, &re):
		resp.Code, resp.Message = re.Code, re.Message
	case errors.Is(err, rpc.ErrAccountNotFound):
		resp.Code = rpc.CodeNotFound
	case errors.Is(err, rpc.ErrAccountExists):
		resp.Code = rpc.CodeConflict
	}
	if resp.Code == rpc.CodeInternal {
		s.logger.Error(
			fmt.Sprintf("rpc call failed: %s", err),
			"component", "devnet",
		)
	}
	writeJSON(w, httpStatus(resp.Code), resp)
}

func httpStatus(code string) int {
	switch code {
	case rpc.CodeInvalidRequest:
		return http.StatusBadRequest
	case rpc.CodeNotFound:
		return http.StatusNotFound
	case rpc.CodeConflict:
		return http.StatusConflict
	case rpc.CodeRejected:
		return http.StatusUnprocessableEntity
	case rpc.CodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
