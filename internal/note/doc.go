// Package note builds committed transfer notes for the note-based asset protocol.
//
// Overview:
//   - Field elements live in the 64-bit Goldilocks field; four of them form a Word
//   - Notes bind a vault of fungible assets, metadata and a recipient
//   - P2ID notes are consumable only by one target account
//   - MINT notes ask a network faucet to issue assets into a previously built P2ID recipient
//
// Commitments:
//   - recipient digest = H(H(H(serial, 0), script root), inputs commitment)
//   - note id          = H(recipient digest, vault commitment)
//   - note commitment  = H(note id, metadata hash)
//   - nullifier        = H(serial, script root, inputs commitment, vault commitment)
//
// H is MiMC over BN254 with every felt written as its own 32-byte block, reduced limb-wise
// back into four Goldilocks elements. Identical inputs always give byte-identical outputs.
//
// Everything in this package is pure: randomness comes only from an injected FeltRng.
package note
