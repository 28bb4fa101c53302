package note

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyVault           = errors.New("note vault is empty")
	ErrTooManyAssets        = errors.New("too many assets in note vault")
	ErrInvalidAmount        = errors.New("invalid asset amount")
	ErrAmountOverflow       = errors.New("asset amount overflows the fungible maximum")
	ErrInvalidFaucet        = errors.New("account is not a fungible faucet")
	ErrInvalidAccountID     = errors.New("invalid account id")
	ErrInvalidTag           = errors.New("invalid note tag")
	ErrTagNoteTypeMismatch  = errors.New("network execution tag requires a public note")
	ErrInvalidNoteType      = errors.New("invalid note type")
	ErrInvalidExecutionHint = errors.New("invalid execution hint")
	ErrTooManyInputs        = errors.New("too many note inputs")
	ErrMalformedDigest      = errors.New("malformed digest")
	ErrUnknownScript        = errors.New("unknown note script")
	ErrNotP2ID              = errors.New("note is not a P2ID note")
	ErrNotMint              = errors.New("note is not a MINT note")
)

// ConstructionError reports a rejected note-building call. It is never retryable:
// the caller has to change its inputs.
type ConstructionError struct {
	Op  string
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("note construction failed (%s): %v", e.Op, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

func constructionError(op string, err error) error {
	var ce *ConstructionError
	if errors.As(err, &ce) {
		return err
	}
	return &ConstructionError{Op: op, Err: err}
}

// IsConstructionError reports whether err came from a note constructor.
func IsConstructionError(err error) bool {
	var ce *ConstructionError
	return errors.As(err, &ce)
}
