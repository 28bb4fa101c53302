// journal.go - Local record of submitted transactions.
//
// A timed-out await leaves the true status of a transaction unresolved. The journal
// keeps every submission and the last status observed for it, so a later run can pick
// up pending transactions and poll them again.

package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"noteflow/internal/note"
	"noteflow/internal/txn"
)

const dbFileName = "journal.sqlite"

var (
	ErrNotFound       = errors.New("submission not found")
	ErrTerminalStatus = errors.New("submission already has a different terminal status")
)

// Submission is the stored row.
type Submission struct {
	ID        string `gorm:"primaryKey;size:66"`
	Account   string `gorm:"index;size:32"`
	Kind      string `gorm:"size:16"`
	Status    string `gorm:"index;size:16"`
	BlockNum  uint32
	Cause     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Submission) TableName() string {
	return "submission"
}

// Entry is a decoded Submission.
type Entry struct {
	ID        txn.ID
	Account   note.AccountID
	Kind      txn.Kind
	Status    txn.Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Submission) entry() (Entry, error) {
	id, err := txn.ParseID(s.ID)
	if err != nil {
		return Entry{}, err
	}
	account, err := note.ParseAccountID(s.Account)
	if err != nil {
		return Entry{}, err
	}
	kind, err := txn.ParseStatusKind(s.Status)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:        id,
		Account:   account,
		Kind:      txn.Kind(s.Kind),
		Status:    txn.Status{Kind: kind, BlockNum: s.BlockNum, Cause: s.Cause},
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}, nil
}

// Store is a sqlite-backed journal.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var memoryDBCounter atomic.Uint64

// New opens the journal in dataDir, creating it if needed. An empty dataDir gives a
// private in-memory database.
func New(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var dsn string
	if dataDir == "" {
		dsn = fmt.Sprintf("file:journal%d?mode=memory&cache=shared", memoryDBCounter.Add(1))
	} else {
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
			filepath.Join(dataDir, dbFileName),
		)
	}
	db, err := gorm.Open(
		sqlite.Open(dsn),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, err
	}
	logger.Debug(fmt.Sprintf("creating table: %#v", &Submission{}), "component", "journal")
	if err := db.AutoMigrate(&Submission{}); err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record stores a freshly submitted transaction as pending.
func (s *Store) Record(ctx context.Context, id txn.ID, account note.AccountID, kind txn.Kind) error {
	row := Submission{
		ID:      id.Hex(),
		Account: account.Hex(),
		Kind:    string(kind),
		Status:  txn.StatusPending.String(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("recording submission %s: %w", id, err)
	}
	s.logger.Debug(
		"submission recorded",
		"component", "journal",
		"tx_id", id.Hex(),
	)
	return nil
}

// UpdateStatus stores the latest observed status. A terminal status never changes;
// repeating it is a no-op.
func (s *Store) UpdateStatus(ctx context.Context, id txn.ID, status txn.Status) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Submission
		if err := tx.First(&row, "id = ?", id.Hex()).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		cur, err := row.entry()
		if err != nil {
			return err
		}
		if !cur.Status.CanBecome(status) {
			return fmt.Errorf("%w: %s has %s, got %s", ErrTerminalStatus, id, cur.Status, status)
		}
		if cur.Status == status {
			return nil
		}
		return tx.Model(&row).Updates(map[string]any{
			"status":    status.Kind.String(),
			"block_num": status.BlockNum,
			"cause":     status.Cause,
		}).Error
	})
}

// Get returns the entry for id.
func (s *Store) Get(ctx context.Context, id txn.ID) (Entry, error) {
	var row Submission
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id.Hex()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Entry{}, err
	}
	return row.entry()
}

// ListPending returns the submissions with no terminal status yet, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]Entry, error) {
	var rows []Submission
	err := s.db.WithContext(ctx).
		Where("status = ?", txn.StatusPending.String()).
		Order("created_at, rowid").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
