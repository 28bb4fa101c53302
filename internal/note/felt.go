// felt.go - Field elements and words.

package note

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/consensys/gnark-crypto/field/goldilocks"
)

// FeltModulus is the Goldilocks prime 2^64 - 2^32 + 1.
const FeltModulus uint64 = 0xFFFFFFFF00000001

// WordSize is the byte length of an encoded Word.
const WordSize = 32

// Felt is a Goldilocks field element.
type Felt = goldilocks.Element

// NewFelt returns v reduced into the field.
func NewFelt(v uint64) Felt {
	return goldilocks.NewElement(v)
}

// FeltFromCanonical returns v as a field element, rejecting values >= FeltModulus.
func FeltFromCanonical(v uint64) (Felt, error) {
	if v >= FeltModulus {
		return Felt{}, fmt.Errorf("value %#x is not a canonical field element", v)
	}
	return goldilocks.NewElement(v), nil
}

// FeltValue returns the canonical integer value of f.
func FeltValue(f Felt) uint64 {
	return f.Bits()[0]
}

// Word is four field elements. Digests, serial numbers and ids are all words.
type Word [4]Felt

// ZeroWord is the all-zero word.
var ZeroWord Word

// NewWord builds a word from four integers, reducing each into the field.
func NewWord(a, b, c, d uint64) Word {
	return Word{NewFelt(a), NewFelt(b), NewFelt(c), NewFelt(d)}
}

// IsZero reports whether every element of w is zero.
func (w Word) IsZero() bool {
	return w == ZeroWord
}

// Bytes encodes w as 32 bytes, each element in canonical big-endian form.
func (w Word) Bytes() [WordSize]byte {
	var out [WordSize]byte
	for i := range w {
		binary.BigEndian.PutUint64(out[i*8:], FeltValue(w[i]))
	}
	return out
}

// Hex returns the fixed-width 0x-prefixed hex encoding of w.
func (w Word) Hex() string {
	b := w.Bytes()
	return "0x" + hex.EncodeToString(b[:])
}

func (w Word) String() string {
	return w.Hex()
}

// Elements returns w as a slice.
func (w Word) Elements() []Felt {
	return w[:]
}

// MarshalText implements encoding.TextMarshaler.
func (w Word) MarshalText() ([]byte, error) {
	return []byte(w.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *Word) UnmarshalText(text []byte) error {
	parsed, err := ParseWord(string(text))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// WordFromBytes decodes 32 bytes into a word. Limbs outside the field are rejected.
func WordFromBytes(b []byte) (Word, error) {
	if len(b) != WordSize {
		return Word{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedDigest, WordSize, len(b))
	}
	var w Word
	for i := range w {
		f, err := FeltFromCanonical(binary.BigEndian.Uint64(b[i*8:]))
		if err != nil {
			return Word{}, fmt.Errorf("%w: limb %d: %v", ErrMalformedDigest, i, err)
		}
		w[i] = f
	}
	return w, nil
}

// ParseWord decodes the 0x-prefixed, 64 character hex form produced by Word.Hex.
func ParseWord(s string) (Word, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != WordSize*2 {
		return Word{}, fmt.Errorf("%w: expected %d hex characters, got %d", ErrMalformedDigest, WordSize*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Word{}, fmt.Errorf("%w: %v", ErrMalformedDigest, err)
	}
	return WordFromBytes(b)
}

// ParseDigest is ParseWord that also rejects the zero word, which no recipient can hash to.
func ParseDigest(s string) (Word, error) {
	w, err := ParseWord(s)
	if err != nil {
		return Word{}, err
	}
	if w.IsZero() {
		return Word{}, fmt.Errorf("%w: zero digest", ErrMalformedDigest)
	}
	return w, nil
}
