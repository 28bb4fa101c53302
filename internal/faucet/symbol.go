package faucet

import (
	"errors"
	"fmt"

	"noteflow/internal/note"
)

// MaxSymbolLength is the longest token symbol that fits the encoding.
const MaxSymbolLength = 6

// ErrInvalidSymbol rejects symbols outside 1 to 6 letters A-Z.
var ErrInvalidSymbol = errors.New("invalid token symbol")

// TokenSymbol is a short uppercase ticker such as "MDE".
type TokenSymbol string

// NewTokenSymbol accepts 1 to 6 characters in A-Z.
func NewTokenSymbol(s string) (TokenSymbol, error) {
	if len(s) == 0 || len(s) > MaxSymbolLength {
		return "", fmt.Errorf("%w: %q must have 1 to %d characters", ErrInvalidSymbol, s, MaxSymbolLength)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalidSymbol, s, s[i])
		}
	}
	return TokenSymbol(s), nil
}

// Felt encodes the symbol as base-26 digits followed by a 3-bit length.
func (s TokenSymbol) Felt() note.Felt {
	var v uint64
	for i := 0; i < len(s); i++ {
		v = v*26 + uint64(s[i]-'A')
	}
	return note.NewFelt(v<<3 | uint64(len(s)))
}

// TokenSymbolFromFelt reverses TokenSymbol.Felt.
func TokenSymbolFromFelt(f note.Felt) (TokenSymbol, error) {
	raw := note.FeltValue(f)
	n := int(raw & 7)
	if n == 0 || n > MaxSymbolLength {
		return "", fmt.Errorf("%w: encoded length %d", ErrInvalidSymbol, n)
	}
	v := raw >> 3
	buf := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		buf[i] = byte('A' + v%26)
		v /= 26
	}
	if v != 0 {
		return "", fmt.Errorf("%w: encoding 0x%x has trailing digits", ErrInvalidSymbol, raw)
	}
	return TokenSymbol(buf), nil
}

func (s TokenSymbol) String() string {
	return string(s)
}
