// layout.go - Versioned faucet storage layouts.
//
// Where a faucet keeps its metadata and owner is a contract with the faucet account
// code, not something clients may assume. Each layout version is explicit and readers
// refuse versions they do not know.

package faucet

import (
	"errors"
	"fmt"

	"noteflow/internal/note"
)

var (
	ErrUnknownLayout  = errors.New("unknown faucet storage layout")
	ErrLayoutMismatch = errors.New("faucet storage does not match layout")
)

// StorageReader exposes account storage slots.
type StorageReader interface {
	StorageItem(index uint8) (note.Word, error)
}

// Layout maps a faucet descriptor to and from account storage.
type Layout interface {
	Version() uint8
	Encode(f NetworkFaucet) []note.Word
	Decode(id note.AccountID, storage StorageReader) (NetworkFaucet, error)
	Owner(storage StorageReader) (note.AccountID, error)
}

// LayoutV1 stores:
//
//	slot 0: authentication commitment (zero for network faucets)
//	slot 1: [max supply, decimals, symbol, 0]
//	slot 2: [0, 0, owner suffix, owner prefix]
type LayoutV1 struct{}

const (
	v1MetadataSlot = 1
	v1OwnerSlot    = 2
)

func (LayoutV1) Version() uint8 {
	return 1
}

func (LayoutV1) Encode(f NetworkFaucet) []note.Word {
	return []note.Word{
		{},
		{note.NewFelt(f.MaxSupply), note.NewFelt(uint64(f.Decimals)), f.Symbol.Felt(), {}},
		{{}, {}, f.Owner.Suffix, f.Owner.Prefix},
	}
}

func (l LayoutV1) Owner(storage StorageReader) (note.AccountID, error) {
	w, err := storage.StorageItem(v1OwnerSlot)
	if err != nil {
		return note.AccountID{}, fmt.Errorf("%w: %v", ErrLayoutMismatch, err)
	}
	if note.FeltValue(w[0]) != 0 || note.FeltValue(w[1]) != 0 {
		return note.AccountID{}, fmt.Errorf("%w: owner slot %s has unexpected high limbs", ErrLayoutMismatch, w)
	}
	owner, err := note.NewAccountID(note.FeltValue(w[3]), note.FeltValue(w[2]))
	if err != nil {
		return note.AccountID{}, fmt.Errorf("%w: %v", ErrLayoutMismatch, err)
	}
	return owner, nil
}

func (l LayoutV1) Decode(id note.AccountID, storage StorageReader) (NetworkFaucet, error) {
	meta, err := storage.StorageItem(v1MetadataSlot)
	if err != nil {
		return NetworkFaucet{}, fmt.Errorf("%w: %v", ErrLayoutMismatch, err)
	}
	symbol, err := TokenSymbolFromFelt(meta[2])
	if err != nil {
		return NetworkFaucet{}, fmt.Errorf("%w: %v", ErrLayoutMismatch, err)
	}
	decimals := note.FeltValue(meta[1])
	if decimals > MaxDecimals {
		return NetworkFaucet{}, fmt.Errorf("%w: %w: %d", ErrLayoutMismatch, ErrInvalidDecimals, decimals)
	}
	owner, err := l.Owner(storage)
	if err != nil {
		return NetworkFaucet{}, err
	}
	f := NetworkFaucet{
		ID:        id,
		Symbol:    symbol,
		Decimals:  uint8(decimals),
		MaxSupply: note.FeltValue(meta[0]),
		Owner:     owner,
	}
	if err := f.Validate(); err != nil {
		return NetworkFaucet{}, fmt.Errorf("%w: %w", ErrLayoutMismatch, err)
	}
	return f, nil
}

// LayoutForVersion returns the reader for a layout version.
func LayoutForVersion(version uint8) (Layout, error) {
	switch version {
	case 1:
		return LayoutV1{}, nil
	}
	return nil, fmt.Errorf("%w: version %d", ErrUnknownLayout, version)
}

// ResolveOwner reads the owner of faucet from its storage using layout.
func ResolveOwner(layout Layout, storage StorageReader) (note.AccountID, error) {
	if layout == nil {
		return note.AccountID{}, fmt.Errorf("%w: none given", ErrUnknownLayout)
	}
	return layout.Owner(storage)
}
