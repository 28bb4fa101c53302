// ledger.go - Persistent state of the development ledger.
//
// The Ledger records accounts, created notes, spent nullifiers and every submitted
// transaction. Notes and nullifiers are append-only. It is persisted as a single JSON
// file.
//
// Ledger is not safe for concurrent use; Node guards it with a mutex.

package devnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"noteflow/internal/note"
	"noteflow/internal/txn"
)

var (
	ErrDoubleSpend       = errors.New("nullifier already spent")
	ErrDuplicateNote     = errors.New("note already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// AccountRecord is the on-chain state of one account.
type AccountRecord struct {
	ID            note.AccountID       `json:"id"`
	Nonce         uint64               `json:"nonce"`
	Storage       []note.Word          `json:"storage,omitempty"`
	Vault         []note.FungibleAsset `json:"vault,omitempty"`
	LayoutVersion uint8                `json:"layoutVersion,omitempty"`
	// Issued is the total supply minted so far. Faucets only.
	Issued uint64 `json:"issued,omitempty"`
}

// StorageItem implements faucet.StorageReader.
func (a *AccountRecord) StorageItem(index uint8) (note.Word, error) {
	if int(index) >= len(a.Storage) {
		return note.Word{}, fmt.Errorf("account %s has no storage slot %d", a.ID, index)
	}
	return a.Storage[index], nil
}

// Balance is the amount of faucet's token in the vault.
func (a *AccountRecord) Balance(faucet note.AccountID) uint64 {
	for _, asset := range a.Vault {
		if asset.Faucet == faucet {
			return asset.Amount
		}
	}
	return 0
}

func (a *AccountRecord) credit(asset note.FungibleAsset) error {
	idx := slices.IndexFunc(a.Vault, func(v note.FungibleAsset) bool { return v.Faucet == asset.Faucet })
	if idx < 0 {
		a.Vault = append(a.Vault, asset)
		return nil
	}
	sum, err := a.Vault[idx].Add(asset)
	if err != nil {
		return err
	}
	a.Vault[idx] = sum
	return nil
}

func (a *AccountRecord) debit(asset note.FungibleAsset) error {
	idx := slices.IndexFunc(a.Vault, func(v note.FungibleAsset) bool { return v.Faucet == asset.Faucet })
	if idx < 0 || a.Vault[idx].Amount < asset.Amount {
		return fmt.Errorf("%w: %s holds %d of %s, needs %d", ErrInsufficientFunds, a.ID, a.Balance(asset.Faucet), asset.Faucet, asset.Amount)
	}
	a.Vault[idx].Amount -= asset.Amount
	if a.Vault[idx].Amount == 0 {
		a.Vault = slices.Delete(a.Vault, idx, idx+1)
	}
	return nil
}

func (a *AccountRecord) clone() *AccountRecord {
	c := *a
	c.Storage = slices.Clone(a.Storage)
	c.Vault = slices.Clone(a.Vault)
	return &c
}

// NoteRecord is a note created on the ledger. Note is nil when only the header is known,
// as for notes produced by network faucets from a recipient digest.
type NoteRecord struct {
	ID     note.Word            `json:"id"`
	Assets []note.FungibleAsset `json:"assets"`
	Tag    note.NoteTag         `json:"tag"`
	Type   note.NoteType        `json:"type"`
	Block  uint32               `json:"block"`
	// Hint is enforced at consumption, whatever hint the consumer's copy carries.
	Hint note.ExecutionHint `json:"hint"`
	Note *note.Note         `json:"note,omitempty"`
}

// TxRecord tracks one submitted transaction.
type TxRecord struct {
	ID      txn.ID         `json:"id"`
	Account note.AccountID `json:"account"`
	Kind    txn.Kind       `json:"kind"`
	Status  txn.Status     `json:"status"`
	// Request is dropped once the transaction is terminal.
	Request *txn.Request `json:"request,omitempty"`
}

// Ledger is the canonical state of the development network.
type Ledger struct {
	BlockNum     uint32                            `json:"blockNum"`
	Accounts     map[note.AccountID]*AccountRecord `json:"accounts"`
	Notes        map[note.Word]*NoteRecord         `json:"notes"`
	Nullifiers   []note.Word                       `json:"nullifiers"`
	Transactions []*TxRecord                       `json:"transactions"`

	nullifiers map[note.Word]struct{}
	txIndex    map[txn.ID]*TxRecord
}

// NewLedger creates a new, empty ledger at block zero.
func NewLedger() *Ledger {
	l := &Ledger{
		Accounts:     make(map[note.AccountID]*AccountRecord),
		Notes:        make(map[note.Word]*NoteRecord),
		Nullifiers:   make([]note.Word, 0),
		Transactions: make([]*TxRecord, 0),
	}
	l.reindex()
	return l
}

func (l *Ledger) reindex() {
	if l.Accounts == nil {
		l.Accounts = make(map[note.AccountID]*AccountRecord)
	}
	if l.Notes == nil {
		l.Notes = make(map[note.Word]*NoteRecord)
	}
	l.nullifiers = make(map[note.Word]struct{}, len(l.Nullifiers))
	for _, n := range l.Nullifiers {
		l.nullifiers[n] = struct{}{}
	}
	l.txIndex = make(map[txn.ID]*TxRecord, len(l.Transactions))
	for _, tx := range l.Transactions {
		l.txIndex[tx.ID] = tx
	}
}

// HasNullifier reports whether the nullifier was already spent.
func (l *Ledger) HasNullifier(n note.Word) bool {
	_, ok := l.nullifiers[n]
	return ok
}

// SpendNullifier appends n, rejecting double spends.
func (l *Ledger) SpendNullifier(n note.Word) error {
	if l.HasNullifier(n) {
		return fmt.Errorf("%w: %s", ErrDoubleSpend, n)
	}
	l.Nullifiers = append(l.Nullifiers, n)
	l.nullifiers[n] = struct{}{}
	return nil
}

// AppendNote records a created note.
func (l *Ledger) AppendNote(rec *NoteRecord) error {
	if _, ok := l.Notes[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNote, rec.ID)
	}
	l.Notes[rec.ID] = rec
	return nil
}

// AppendTx records a newly submitted transaction.
func (l *Ledger) AppendTx(tx *TxRecord) {
	l.Transactions = append(l.Transactions, tx)
	l.txIndex[tx.ID] = tx
}

// Tx returns the record for id, or nil.
func (l *Ledger) Tx(id txn.ID) *TxRecord {
	return l.txIndex[id]
}

// Pending returns pending transactions in submission order.
func (l *Ledger) Pending() []*TxRecord {
	var out []*TxRecord
	for _, tx := range l.Transactions {
		if tx.Status.Kind == txn.StatusPending {
			out = append(out, tx)
		}
	}
	return out
}

// SaveToFile writes the ledger as indented JSON, replacing path atomically.
func (l *Ledger) SaveToFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(l); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadLedgerFromFile loads a ledger written by SaveToFile.
func LoadLedgerFromFile(path string) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var l Ledger
	if err := json.NewDecoder(f).Decode(&l); err != nil {
		return nil, fmt.Errorf("decoding ledger %s: %w", path, err)
	}
	l.reindex()
	return &l, nil
}
