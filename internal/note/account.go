// account.go - Account identifiers.
//
// An account id is 120 bits split into a prefix felt (64 bits) and a suffix felt whose
// lowest byte is always zero. The lowest byte of the prefix carries the id metadata:
// bits 0-3 version, bits 4-5 account type, bits 6-7 storage mode.

package note

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// AccountIDSize is the byte length of an encoded account id.
const AccountIDSize = 15

// AccountType is the kind of account encoded in the id.
type AccountType uint8

const (
	AccountRegularImmutableCode AccountType = 0
	AccountRegularUpdatableCode AccountType = 1
	AccountFungibleFaucet       AccountType = 2
	AccountNonFungibleFaucet    AccountType = 3
)

func (t AccountType) String() string {
	switch t {
	case AccountRegularImmutableCode:
		return "regular-immutable"
	case AccountRegularUpdatableCode:
		return "regular-updatable"
	case AccountFungibleFaucet:
		return "fungible-faucet"
	case AccountNonFungibleFaucet:
		return "non-fungible-faucet"
	}
	return fmt.Sprintf("account-type(%d)", uint8(t))
}

// StorageMode is where the account state lives.
type StorageMode uint8

const (
	StoragePublic  StorageMode = 0
	StorageNetwork StorageMode = 1
	StoragePrivate StorageMode = 2
)

func (m StorageMode) String() string {
	switch m {
	case StoragePublic:
		return "public"
	case StorageNetwork:
		return "network"
	case StoragePrivate:
		return "private"
	}
	return fmt.Sprintf("storage-mode(%d)", uint8(m))
}

// AccountID identifies an account on the ledger.
type AccountID struct {
	Prefix Felt
	Suffix Felt
}

// NewAccountID validates and builds an id from its two raw limbs.
func NewAccountID(prefix, suffix uint64) (AccountID, error) {
	p, err := FeltFromCanonical(prefix)
	if err != nil {
		return AccountID{}, fmt.Errorf("%w: prefix: %v", ErrInvalidAccountID, err)
	}
	if suffix&0xff != 0 {
		return AccountID{}, fmt.Errorf("%w: suffix low byte must be zero", ErrInvalidAccountID)
	}
	if suffix>>63 != 0 {
		return AccountID{}, fmt.Errorf("%w: suffix high bit must be zero", ErrInvalidAccountID)
	}
	id := AccountID{Prefix: p, Suffix: NewFelt(suffix)}
	if mode := id.StorageMode(); mode > StoragePrivate {
		return AccountID{}, fmt.Errorf("%w: %s", ErrInvalidAccountID, mode)
	}
	return id, nil
}

// ParseAccountID decodes the 0x-prefixed 30 hex character form.
func ParseAccountID(s string) (AccountID, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != AccountIDSize*2 {
		return AccountID{}, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidAccountID, AccountIDSize*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return AccountID{}, fmt.Errorf("%w: %v", ErrInvalidAccountID, err)
	}
	var suffix [8]byte
	copy(suffix[:7], b[8:])
	return NewAccountID(binary.BigEndian.Uint64(b[:8]), binary.BigEndian.Uint64(suffix[:]))
}

// MustParseAccountID is ParseAccountID for constants and tests.
func MustParseAccountID(s string) AccountID {
	id, err := ParseAccountID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Hex returns the fixed-width encoding of the id.
func (a AccountID) Hex() string {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], FeltValue(a.Prefix))
	binary.BigEndian.PutUint64(b[8:], FeltValue(a.Suffix))
	return "0x" + hex.EncodeToString(b[:AccountIDSize])
}

func (a AccountID) String() string {
	return a.Hex()
}

func (a AccountID) IsZero() bool {
	return a == AccountID{}
}

func (a AccountID) metadataByte() uint8 {
	return uint8(FeltValue(a.Prefix) & 0xff)
}

// Type decodes the account type bits.
func (a AccountID) Type() AccountType {
	return AccountType((a.metadataByte() >> 4) & 0b11)
}

// StorageMode decodes the storage mode bits.
func (a AccountID) StorageMode() StorageMode {
	return StorageMode((a.metadataByte() >> 6) & 0b11)
}

// IsFaucet reports whether the id belongs to a faucet account.
func (a AccountID) IsFaucet() bool {
	t := a.Type()
	return t == AccountFungibleFaucet || t == AccountNonFungibleFaucet
}

// MarshalText implements encoding.TextMarshaler.
func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AccountID) UnmarshalText(text []byte) error {
	id, err := ParseAccountID(string(text))
	if err != nil {
		return err
	}
	*a = id
	return nil
}
