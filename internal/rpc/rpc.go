// rpc.go - Ledger RPC contract consumed by the protocol core.
//
// Implementations: HTTPClient (remote node) and devnet.Node (in-process ledger).

package rpc

import (
	"context"
	"errors"
	"fmt"

	"noteflow/internal/note"
	"noteflow/internal/txn"
)

// SyncSummary is the result of one resynchronization.
type SyncSummary struct {
	BlockNum uint32 `json:"blockNum"`
}

// AccountDetails is the public state of an account.
type AccountDetails struct {
	ID      note.AccountID       `json:"id"`
	Nonce   uint64               `json:"nonce"`
	Storage []note.Word          `json:"storage"`
	Vault   []note.FungibleAsset `json:"vault"`
}

// StorageItem returns the storage slot at index.
func (a *AccountDetails) StorageItem(index uint8) (note.Word, error) {
	if int(index) >= len(a.Storage) {
		return note.Word{}, fmt.Errorf("account %s has no storage slot %d", a.ID, index)
	}
	return a.Storage[index], nil
}

// Balance returns the vault amount for faucet.
func (a *AccountDetails) Balance(faucet note.AccountID) uint64 {
	for _, asset := range a.Vault {
		if asset.Faucet == faucet {
			return asset.Amount
		}
	}
	return 0
}

// Client is the full ledger contract.
type Client interface {
	SyncState(ctx context.Context) (SyncSummary, error)
	SubmitTransaction(ctx context.Context, account note.AccountID, req *txn.Request) (txn.ID, error)
	// LookupTransaction returns nil, nil when the ledger has never seen id.
	LookupTransaction(ctx context.Context, id txn.ID) (*txn.Status, error)
	GetAccount(ctx context.Context, id note.AccountID) (*AccountDetails, error)
}

// AccountRegistration introduces a new account to the ledger. LayoutVersion names the
// faucet storage layout of Storage and must be zero for non-faucet accounts.
type AccountRegistration struct {
	ID            note.AccountID `json:"id"`
	Storage       []note.Word    `json:"storage,omitempty"`
	LayoutVersion uint8          `json:"layoutVersion,omitempty"`
}

// AccountRegistrar is implemented by ledgers that accept new accounts from clients.
type AccountRegistrar interface {
	RegisterAccount(ctx context.Context, reg AccountRegistration) error
}

var (
	// ErrAccountNotFound is returned by GetAccount for unknown accounts.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned by RegisterAccount for known accounts.
	ErrAccountExists = errors.New("account already exists")
)

// TransportError is a failure to reach the ledger at all. It is never a ledger fact.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc %s: transport: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteError is a request the ledger received and rejected.
type RemoteError struct {
	Method  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc %s: %s: %s", e.Method, e.Code, e.Message)
}

// Rejected builds the RemoteError a ledger returns for a request it refuses.
func Rejected(method, format string, args ...any) *RemoteError {
	return &RemoteError{Method: method, Code: CodeRejected, Message: fmt.Sprintf(format, args...)}
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
