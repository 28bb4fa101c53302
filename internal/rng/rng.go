// rng.go - Injected randomness for serial numbers and seeds.
//
// Secure draws come from crypto/rand. Deterministic draws come from a ChaCha20
// keystream so tests and demo notes can be reproduced exactly.

package rng

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/chacha20"

	"noteflow/internal/note"
)

// Secure draws words from the operating system CSPRNG.
type Secure struct{}

// NewSecure returns a crypto/rand backed FeltRng.
func NewSecure() Secure {
	return Secure{}
}

func (Secure) DrawWord() note.Word {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand only fails when the platform has no entropy source
		panic("rng: reading system randomness: " + err.Error())
	}
	return wordFromBytes(buf)
}

// Deterministic is a seeded ChaCha20 keystream. It is safe for concurrent use.
type Deterministic struct {
	mu     sync.Mutex
	cipher *chacha20.Cipher
}

// NewDeterministic derives a keystream from seed. Equal seeds draw equal sequences.
func NewDeterministic(seed []byte) *Deterministic {
	key := sha256.Sum256(seed)
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// key and nonce sizes are fixed above
		panic(err)
	}
	return &Deterministic{cipher: c}
}

func (d *Deterministic) DrawWord() note.Word {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf [32]byte
	d.cipher.XORKeyStream(buf[:], buf[:])
	return wordFromBytes(buf)
}

// Fill writes keystream bytes into p, for account seeds and similar.
func (d *Deterministic) Fill(p []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(p)
	d.cipher.XORKeyStream(p, p)
}

// Fixed always returns the same word. Useful for notes that must be identical across runs.
type Fixed note.Word

func (f Fixed) DrawWord() note.Word {
	return note.Word(f)
}

func wordFromBytes(buf [32]byte) note.Word {
	var w note.Word
	for i := range w {
		w[i] = note.NewFelt(binary.BigEndian.Uint64(buf[i*8:]))
	}
	return w
}
