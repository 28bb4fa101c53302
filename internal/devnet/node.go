// node.go - In-process development ledger.
//
// Node implements rpc.Client over a Ledger. Submitted transactions wait in the pending
// queue until a block is produced, either on demand (ProduceBlock), on every resync
// (Config.ProduceOnSync) or on a timer (Run). Block production is deterministic and has
// nothing to do with consensus: pending transactions are executed in submission order
// and each one is committed or discarded as a whole.

package devnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"noteflow/internal/faucet"
	"noteflow/internal/note"
	"noteflow/internal/rpc"
	"noteflow/internal/txn"
)

// causeRestarted is the discard cause for transactions pending when the node stopped.
const causeRestarted = "node restarted before the transaction was included in a block"

// Config configures a Node. Every field is optional.
type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// StatePath persists the ledger after every change when set.
	StatePath string
	// ProduceOnSync seals pending transactions into a block on every SyncState.
	ProduceOnSync bool
	// BlockInterval drives Run. Zero disables timed production.
	BlockInterval time.Duration
	// Scripts resolves note scripts during execution. Defaults to the well-known set.
	Scripts note.ScriptRegistry
}

// Node is an in-process ledger implementing the rpc contract. Transactions wait in
// the mempool until a block is produced, then execute in submission order.
type Node struct {
	mu            sync.Mutex
	ledger        *Ledger
	logger        *slog.Logger
	statePath     string
	produceOnSync bool
	blockInterval time.Duration
	scripts       note.ScriptRegistry
	notes         *note.Factory
	metrics       struct {
		blocks       prometheus.Counter
		height       prometheus.Gauge
		pending      prometheus.Gauge
		transactions *prometheus.CounterVec
	}
}

var (
	_ rpc.Client           = (*Node)(nil)
	_ rpc.AccountRegistrar = (*Node)(nil)
)

// NewNode starts a node from the ledger at cfg.StatePath, or an empty one.
func NewNode(cfg Config) (*Node, error) {
	n := &Node{
		logger:        cfg.Logger,
		statePath:     cfg.StatePath,
		produceOnSync: cfg.ProduceOnSync,
		blockInterval: cfg.BlockInterval,
		scripts:       cfg.Scripts,
	}
	if n.logger == nil {
		n.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if n.scripts == nil {
		n.scripts = note.WellKnownScripts()
	}
	n.notes = note.NewFactory(n.scripts)
	n.ledger = NewLedger()
	if n.statePath != "" {
		l, err := LoadLedgerFromFile(n.statePath)
		switch {
		case err == nil:
			n.ledger = l
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}
	restarted := 0
	for _, tx := range n.ledger.Pending() {
		tx.Status = txn.Discarded(causeRestarted)
		tx.Request = nil
		restarted++
	}
	n.initMetrics(cfg.PromRegistry)
	n.metrics.height.Set(float64(n.ledger.BlockNum))
	if restarted > 0 {
		n.logger.Warn(
			fmt.Sprintf("discarded %d transactions left pending by a previous run", restarted),
			"component", "devnet",
		)
		n.metrics.transactions.WithLabelValues("discarded").Add(float64(restarted))
	}
	return n, nil
}

func (n *Node) initMetrics(reg prometheus.Registerer) {
	promautoFactory := promauto.With(reg)
	n.metrics.blocks = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "noteflow_devnet_blocks_total",
		Help: "blocks produced",
	})
	n.metrics.height = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "noteflow_devnet_block_height",
		Help: "latest block number",
	})
	n.metrics.pending = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "noteflow_devnet_pending_transactions",
		Help: "transactions waiting for a block",
	})
	n.metrics.transactions = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noteflow_devnet_transactions_total",
			Help: "transactions by final outcome",
		},
		[]string{"outcome"},
	)
}

// RegisterAccount adds an account with an empty vault and nonce zero. Faucet storage
// must decode under the named layout.
func (n *Node) RegisterAccount(ctx context.Context, reg rpc.AccountRegistration) error {
	const method = rpc.MethodRegisterAccount
	rec := &AccountRecord{
		ID:            reg.ID,
		Storage:       reg.Storage,
		LayoutVersion: reg.LayoutVersion,
	}
	switch {
	case reg.ID.Type() == note.AccountNonFungibleFaucet:
		return rpc.Rejected(method, "non-fungible faucets are not supported")
	case reg.ID.IsFaucet():
		layout, err := faucet.LayoutForVersion(reg.LayoutVersion)
		if err != nil {
			return rpc.Rejected(method, "%v", err)
		}
		if _, err := layout.Decode(reg.ID, rec); err != nil {
			return rpc.Rejected(method, "%v", err)
		}
	case reg.LayoutVersion != 0:
		return rpc.Rejected(method, "layout version given for non-faucet account %s", reg.ID)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.ledger.Accounts[reg.ID]; ok {
		return fmt.Errorf("%w: %s", rpc.ErrAccountExists, reg.ID)
	}
	n.ledger.Accounts[reg.ID] = rec
	n.logger.Info(
		"account registered",
		"component", "devnet",
		"account", reg.ID.Hex(),
		"type", reg.ID.Type().String(),
		"storage_mode", reg.ID.StorageMode().String(),
	)
	return n.persistLocked()
}

// SubmitTransaction validates req and queues it for the next block.
func (n *Node) SubmitTransaction(ctx context.Context, account note.AccountID, req *txn.Request) (txn.ID, error) {
	const method = rpc.MethodSubmitTransaction
	if err := req.Validate(); err != nil {
		return txn.ID{}, rpc.Rejected(method, "%v", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.ledger.Accounts[account]; !ok {
		return txn.ID{}, rpc.Rejected(method, "unknown account %s", account)
	}
	seq := uint64(len(n.ledger.Transactions) + 1)
	id := txn.ID(note.HashWords(
		req.Commitment(),
		note.Word{account.Suffix, account.Prefix, note.NewFelt(seq), note.NewFelt(uint64(n.ledger.BlockNum))},
	))
	n.ledger.AppendTx(&TxRecord{
		ID:      id,
		Account: account,
		Kind:    req.Kind(),
		Status:  txn.Pending(),
		Request: req,
	})
	n.metrics.pending.Inc()
	n.logger.Debug(
		"transaction queued",
		"component", "devnet",
		"tx_id", id.Hex(),
		"account", account.Hex(),
		"kind", string(req.Kind()),
	)
	return id, nil
}

// SyncState reports the latest block, producing one first when ProduceOnSync is set.
func (n *Node) SyncState(ctx context.Context) (rpc.SyncSummary, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.produceOnSync && len(n.ledger.Pending()) > 0 {
		if _, err := n.produceLocked(); err != nil {
			return rpc.SyncSummary{}, err
		}
	}
	return rpc.SyncSummary{BlockNum: n.ledger.BlockNum}, nil
}

// LookupTransaction returns nil when the id was never submitted.
func (n *Node) LookupTransaction(ctx context.Context, id txn.ID) (*txn.Status, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	rec := n.ledger.Tx(id)
	if rec == nil {
		return nil, nil
	}
	status := rec.Status
	return &status, nil
}

// GetAccount returns a copy of the account state.
func (n *Node) GetAccount(ctx context.Context, id note.AccountID) (*rpc.AccountDetails, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	rec, ok := n.ledger.Accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rpc.ErrAccountNotFound, id)
	}
	c := rec.clone()
	return &rpc.AccountDetails{
		ID:      c.ID,
		Nonce:   c.Nonce,
		Storage: c.Storage,
		Vault:   c.Vault,
	}, nil
}

// ProduceBlock seals every pending transaction into a new block and returns its number.
func (n *Node) ProduceBlock(ctx context.Context) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.produceLocked()
}

// Run produces a block every BlockInterval until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	if n.blockInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(n.blockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := n.ProduceBlock(ctx); err != nil {
				n.logger.Error(
					fmt.Sprintf("block production failed: %s", err),
					"component", "devnet",
				)
			}
		}
	}
}

// BlockNum is the latest block number.
func (n *Node) BlockNum() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.BlockNum
}

// PendingCount is the number of transactions waiting for a block.
func (n *Node) PendingCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ledger.Pending())
}

func (n *Node) produceLocked() (uint32, error) {
	pending := n.ledger.Pending()
	n.ledger.BlockNum++
	block := n.ledger.BlockNum
	for _, tx := range pending {
		if err := n.execute(tx, block); err != nil {
			tx.Status = txn.Discarded(err.Error())
			n.metrics.transactions.WithLabelValues("discarded").Inc()
			n.logger.Info(
				"transaction discarded",
				"component", "devnet",
				"tx_id", tx.ID.Hex(),
				"block", block,
				"cause", err.Error(),
			)
		} else {
			tx.Status = txn.Committed(block)
			n.metrics.transactions.WithLabelValues("committed").Inc()
			n.logger.Info(
				"transaction committed",
				"component", "devnet",
				"tx_id", tx.ID.Hex(),
				"block", block,
			)
		}
		tx.Request = nil
	}
	n.metrics.blocks.Inc()
	n.metrics.height.Set(float64(block))
	n.metrics.pending.Sub(float64(len(pending)))
	n.logger.Debug(
		"block produced",
		"component", "devnet",
		"block", block,
		"transactions", len(pending),
	)
	return block, n.persistLocked()
}

func (n *Node) persistLocked() error {
	if n.statePath == "" {
		return nil
	}
	if err := n.ledger.SaveToFile(n.statePath); err != nil {
		return fmt.Errorf("persisting ledger: %w", err)
	}
	return nil
}

// StatePath is where the ledger is persisted, or empty.
func (n *Node) StatePath() string {
	return n.statePath
}

// checkStateDir reports whether the ledger can still be persisted.
func (n *Node) checkStateDir() error {
	if n.statePath == "" {
		return nil
	}
	info, err := os.Stat(filepath.Dir(n.statePath))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", filepath.Dir(n.statePath))
	}
	return nil
}
