// crypto.go - Hashing primitives for note commitments.
//
// All protocol digests go through hashElements, which feeds each felt to MiMC as one
// field block. The 32-byte MiMC output is split into four big-endian limbs and reduced
// into the Goldilocks field, so every digest is a valid Word.

package note

import (
	"encoding/binary"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// hashElements computes the MiMC digest of a felt sequence.
func hashElements(elems ...Felt) Word {
	h := mimcNative.NewMiMC()
	var block [fr.Bytes]byte
	for i := range elems {
		// felt occupies the low 8 bytes, so the block is always below the BN254 modulus
		clear(block[:])
		binary.BigEndian.PutUint64(block[fr.Bytes-8:], FeltValue(elems[i]))
		h.Write(block[:])
	}
	return wordFromSum(h.Sum(nil))
}

func wordFromSum(sum []byte) Word {
	var w Word
	for i := range w {
		w[i] = NewFelt(binary.BigEndian.Uint64(sum[i*8:]))
	}
	return w
}

// Hash returns the protocol digest of elems.
func Hash(elems ...Felt) Word {
	return hashElements(elems...)
}

// HashWords returns the protocol digest of the concatenation of words.
func HashWords(words ...Word) Word {
	elems := make([]Felt, 0, len(words)*4)
	for _, w := range words {
		elems = append(elems, w[:]...)
	}
	return hashElements(elems...)
}

// merge hashes two words, the 2-to-1 compression used for recipients and ids.
func merge(a, b Word) Word {
	return HashWords(a, b)
}

// packBytes packs arbitrary bytes into felts, seven bytes per element so every chunk is
// canonical. The byte length is prepended so distinct inputs never collide on padding.
func packBytes(data []byte) []Felt {
	out := make([]Felt, 0, 1+(len(data)+6)/7)
	out = append(out, NewFelt(uint64(len(data))))
	for i := 0; i < len(data); i += 7 {
		var chunk [8]byte
		end := min(i+7, len(data))
		copy(chunk[1:], data[i:end])
		out = append(out, NewFelt(binary.BigEndian.Uint64(chunk[:])))
	}
	return out
}
