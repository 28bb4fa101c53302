// faucet.go - Network fungible faucet descriptors.

package faucet

import (
	_ "embed"
	"errors"
	"fmt"

	"noteflow/internal/note"
)

// MaxDecimals bounds the display precision of a token.
const MaxDecimals = 12

var (
	ErrNotNetworkFaucet = errors.New("account is not a network fungible faucet")
	ErrInvalidDecimals  = errors.New("token decimals out of range")
	ErrInvalidMaxSupply = errors.New("max supply out of range")
	ErrInvalidOwner     = errors.New("invalid faucet owner")
)

//go:embed masm/deploy.masm
var deploySource []byte

// DeployScript is the transaction script that registers a faucet on chain.
func DeployScript() note.Script {
	return note.ScriptFromSource("faucet::deploy", deploySource)
}

// NetworkFaucet describes a fungible faucet executed by the network on behalf of its
// owner. Only the owner may request issuance through MINT notes.
type NetworkFaucet struct {
	ID        note.AccountID
	Symbol    TokenSymbol
	Decimals  uint8
	MaxSupply uint64
	Owner     note.AccountID
}

// NewNetworkFaucet builds and validates a faucet description.
func NewNetworkFaucet(id note.AccountID, symbol TokenSymbol, decimals uint8, maxSupply uint64, owner note.AccountID) (NetworkFaucet, error) {
	f := NetworkFaucet{
		ID:        id,
		Symbol:    symbol,
		Decimals:  decimals,
		MaxSupply: maxSupply,
		Owner:     owner,
	}
	if err := f.Validate(); err != nil {
		return NetworkFaucet{}, err
	}
	return f, nil
}

// Validate checks the id, decimals, supply and owner.
func (f NetworkFaucet) Validate() error {
	if f.ID.Type() != note.AccountFungibleFaucet || f.ID.StorageMode() != note.StorageNetwork {
		return fmt.Errorf("%w: %s is a %s %s account", ErrNotNetworkFaucet, f.ID, f.ID.StorageMode(), f.ID.Type())
	}
	if _, err := TokenSymbolFromFelt(f.Symbol.Felt()); err != nil {
		return err
	}
	if f.Decimals > MaxDecimals {
		return fmt.Errorf("%w: %d > %d", ErrInvalidDecimals, f.Decimals, MaxDecimals)
	}
	if f.MaxSupply == 0 || f.MaxSupply > note.MaxFungibleAmount {
		return fmt.Errorf("%w: %d", ErrInvalidMaxSupply, f.MaxSupply)
	}
	if f.Owner.IsZero() || f.Owner.IsFaucet() {
		return fmt.Errorf("%w: %s", ErrInvalidOwner, f.Owner)
	}
	return nil
}

func (f NetworkFaucet) String() string {
	return fmt.Sprintf("%s (%s, owner %s)", f.ID, f.Symbol, f.Owner)
}
