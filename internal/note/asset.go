// asset.go - Fungible assets and note vaults.

package note

import (
	"fmt"
	"slices"
)

const (
	// MaxFungibleAmount is the largest amount a single fungible asset may carry.
	MaxFungibleAmount uint64 = 1<<63 - 1<<31
	// MaxAssetsPerNote bounds the vault size.
	MaxAssetsPerNote = 255
)

// FungibleAsset is an amount issued by one fungible faucet.
type FungibleAsset struct {
	Faucet AccountID `json:"faucet"`
	Amount uint64    `json:"amount"`
}

// NewFungibleAsset validates the faucet id and amount.
func NewFungibleAsset(faucet AccountID, amount uint64) (FungibleAsset, error) {
	a := FungibleAsset{Faucet: faucet, Amount: amount}
	if err := a.Validate(); err != nil {
		return FungibleAsset{}, constructionError("asset", err)
	}
	return a, nil
}

func (a FungibleAsset) Validate() error {
	if a.Faucet.Type() != AccountFungibleFaucet {
		return fmt.Errorf("%w: %s is %s", ErrInvalidFaucet, a.Faucet, a.Faucet.Type())
	}
	if a.Amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if a.Amount > MaxFungibleAmount {
		return fmt.Errorf("%w: %d", ErrAmountOverflow, a.Amount)
	}
	return nil
}

// Add merges two assets of the same faucet.
func (a FungibleAsset) Add(other FungibleAsset) (FungibleAsset, error) {
	if a.Faucet != other.Faucet {
		return FungibleAsset{}, fmt.Errorf("%w: cannot add assets of %s and %s", ErrInvalidFaucet, a.Faucet, other.Faucet)
	}
	if other.Amount > MaxFungibleAmount-a.Amount {
		return FungibleAsset{}, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, a.Amount, other.Amount)
	}
	return FungibleAsset{Faucet: a.Faucet, Amount: a.Amount + other.Amount}, nil
}

// Word encodes the asset as [amount, 0, faucet suffix, faucet prefix].
func (a FungibleAsset) Word() Word {
	return Word{NewFelt(a.Amount), Felt{}, a.Faucet.Suffix, a.Faucet.Prefix}
}

// NoteAssets is the vault carried by a note.
type NoteAssets struct {
	assets []FungibleAsset
}

// NewNoteAssets builds a vault, merging assets that share a faucet. An empty vault is
// allowed here; constructors that need assets check IsEmpty themselves.
func NewNoteAssets(assets []FungibleAsset) (NoteAssets, error) {
	merged := make([]FungibleAsset, 0, len(assets))
	for _, a := range assets {
		if err := a.Validate(); err != nil {
			return NoteAssets{}, constructionError("vault", err)
		}
		idx := slices.IndexFunc(merged, func(m FungibleAsset) bool { return m.Faucet == a.Faucet })
		if idx < 0 {
			merged = append(merged, a)
			continue
		}
		sum, err := merged[idx].Add(a)
		if err != nil {
			return NoteAssets{}, constructionError("vault", err)
		}
		merged[idx] = sum
	}
	if len(merged) > MaxAssetsPerNote {
		return NoteAssets{}, constructionError("vault", fmt.Errorf("%w: %d", ErrTooManyAssets, len(merged)))
	}
	return NoteAssets{assets: merged}, nil
}

// Assets returns a copy of the vault contents.
func (v NoteAssets) Assets() []FungibleAsset {
	return slices.Clone(v.assets)
}

func (v NoteAssets) Len() int {
	return len(v.assets)
}

func (v NoteAssets) IsEmpty() bool {
	return len(v.assets) == 0
}

// Amount returns the amount held for faucet, or zero.
func (v NoteAssets) Amount(faucet AccountID) uint64 {
	for _, a := range v.assets {
		if a.Faucet == faucet {
			return a.Amount
		}
	}
	return 0
}

// Commitment hashes the asset words in vault order.
func (v NoteAssets) Commitment() Word {
	elems := make([]Felt, 0, 1+len(v.assets)*4)
	elems = append(elems, NewFelt(uint64(len(v.assets))))
	for _, a := range v.assets {
		w := a.Word()
		elems = append(elems, w[:]...)
	}
	return hashElements(elems...)
}
