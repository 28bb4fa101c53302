package faucet

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noteflow/internal/note"
)

var (
	faucetID = note.MustParseAccountID("0xd8e3fa793ea82360734ec91a98e798")
	aliceID  = note.MustParseAccountID("0xa1b2c3d4e5f6071011223344556677")
)

type slots []note.Word

func (s slots) StorageItem(index uint8) (note.Word, error) {
	if int(index) >= len(s) {
		return note.Word{}, fmt.Errorf("no slot %d", index)
	}
	return s[index], nil
}

func TestTokenSymbolEncoding(t *testing.T) {
	for _, s := range []string{"A", "MDE", "ZZZZZZ", "BTC", "ETHUSD"} {
		sym, err := NewTokenSymbol(s)
		require.NoError(t, err)
		back, err := TokenSymbolFromFelt(sym.Felt())
		require.NoError(t, err)
		assert.Equal(t, sym, back)
	}
	a, _ := NewTokenSymbol("AB")
	b, _ := NewTokenSymbol("BA")
	assert.NotEqual(t, a.Felt(), b.Felt())

	for _, bad := range []string{"", "mde", "TOOLONG", "M1"} {
		_, err := NewTokenSymbol(bad)
		assert.ErrorIs(t, err, ErrInvalidSymbol, bad)
	}
	_, err := TokenSymbolFromFelt(note.NewFelt(0))
	assert.ErrorIs(t, err, ErrInvalidSymbol)
}

func TestNewNetworkFaucetValidation(t *testing.T) {
	sym, err := NewTokenSymbol("MDE")
	require.NoError(t, err)

	f, err := NewNetworkFaucet(faucetID, sym, 8, 1_000_000, aliceID)
	require.NoError(t, err)
	assert.Equal(t, aliceID, f.Owner)

	_, err = NewNetworkFaucet(aliceID, sym, 8, 1_000_000, aliceID)
	assert.ErrorIs(t, err, ErrNotNetworkFaucet)
	_, err = NewNetworkFaucet(faucetID, sym, MaxDecimals+1, 1_000_000, aliceID)
	assert.ErrorIs(t, err, ErrInvalidDecimals)
	_, err = NewNetworkFaucet(faucetID, sym, 8, 0, aliceID)
	assert.ErrorIs(t, err, ErrInvalidMaxSupply)
	_, err = NewNetworkFaucet(faucetID, sym, 8, 1_000_000, note.AccountID{})
	assert.ErrorIs(t, err, ErrInvalidOwner)
	_, err = NewNetworkFaucet(faucetID, sym, 8, 1_000_000, faucetID)
	assert.ErrorIs(t, err, ErrInvalidOwner)
}

func TestLayoutV1RoundTrip(t *testing.T) {
	sym, _ := NewTokenSymbol("MDE")
	f, err := NewNetworkFaucet(faucetID, sym, 8, 1_000_000, aliceID)
	require.NoError(t, err)

	layout, err := LayoutForVersion(1)
	require.NoError(t, err)
	storage := slots(layout.Encode(f))
	require.Len(t, storage, 3)

	// owner words are stored as [_, _, suffix, prefix]
	assert.Equal(t, aliceID.Suffix, storage[2][2])
	assert.Equal(t, aliceID.Prefix, storage[2][3])

	owner, err := ResolveOwner(layout, storage)
	require.NoError(t, err)
	assert.Equal(t, aliceID, owner)

	decoded, err := layout.Decode(faucetID, storage)
	require.NoError(t, err)
	assert.Equal(t, f, decoded)
}

func TestLayoutRejectsUnknownVersionAndGarbage(t *testing.T) {
	_, err := LayoutForVersion(2)
	require.ErrorIs(t, err, ErrUnknownLayout)
	_, err = ResolveOwner(nil, slots{})
	require.ErrorIs(t, err, ErrUnknownLayout)

	_, err = ResolveOwner(LayoutV1{}, slots{{}, {}})
	assert.ErrorIs(t, err, ErrLayoutMismatch)

	garbage := slots{{}, {}, note.NewWord(1, 0, 0, 0)}
	_, err = ResolveOwner(LayoutV1{}, garbage)
	assert.ErrorIs(t, err, ErrLayoutMismatch)

	// suffix with a non-zero low byte is not an account id
	badSuffix := slots{{}, {}, note.NewWord(0, 0, 0x1ff, note.FeltValue(aliceID.Prefix))}
	_, err = ResolveOwner(LayoutV1{}, badSuffix)
	assert.ErrorIs(t, err, ErrLayoutMismatch)
}

func TestDeployScriptStable(t *testing.T) {
	assert.Equal(t, DeployScript(), DeployScript())
	assert.False(t, DeployScript().Root.IsZero())
}
