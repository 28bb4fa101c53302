// note.go - Note type and commitment logic.
//
// A Note is a committed, self-contained transfer unit. It is immutable once built and
// every derived value (id, commitment, nullifier) is a pure function of its fields.

package note

import (
	"encoding/json"
	"fmt"
)

// Note represents a transfer note: a vault, metadata and recipient.
type Note struct {
	assets    NoteAssets
	metadata  Metadata
	recipient Recipient
}

// NewNote assembles a note from already validated parts.
func NewNote(assets NoteAssets, metadata Metadata, recipient Recipient) *Note {
	return &Note{assets: assets, metadata: metadata, recipient: recipient}
}

// Assets returns the note's vault.
func (n *Note) Assets() NoteAssets {
	return n.assets
}

// Metadata returns the note's metadata.
func (n *Note) Metadata() Metadata {
	return n.metadata
}

// Recipient returns the recipient the note is locked to.
func (n *Note) Recipient() Recipient {
	return n.recipient
}

// ID is H(recipient digest, vault commitment). It does not depend on metadata, so the
// same recipient and vault always map to the same id.
func (n *Note) ID() Word {
	return ComputeID(n.recipient.Digest(), n.assets)
}

// ComputeID derives a note id without the full recipient. A network faucet uses it to
// announce the note a MINT request creates, knowing only the recipient digest.
func ComputeID(recipientDigest Word, assets NoteAssets) Word {
	return merge(recipientDigest, assets.Commitment())
}

// Commitment is H(id, metadata hash).
func (n *Note) Commitment() Word {
	return merge(n.ID(), n.metadata.Hash())
}

// Nullifier marks the note as consumed on the ledger without revealing which note it is.
func (n *Note) Nullifier() Word {
	return HashWords(
		n.recipient.SerialNumber,
		n.recipient.Script.Root,
		n.recipient.Inputs.Commitment(),
		n.assets.Commitment(),
	)
}

// Header is the public part of a note.
type Header struct {
	ID       Word
	Metadata Metadata
}

// Header returns the note's id and metadata.
func (n *Note) Header() Header {
	return Header{ID: n.ID(), Metadata: n.metadata}
}

func (n *Note) String() string {
	return fmt.Sprintf("note(id=%s, commitment=%s)", n.ID().Hex(), n.Commitment().Hex())
}

// noteJSON is the wire form of a note. Felts travel as plain integers.
type noteJSON struct {
	Assets    []FungibleAsset `json:"assets"`
	Sender    AccountID       `json:"sender"`
	Type      NoteType        `json:"type"`
	Tag       uint32          `json:"tag"`
	Hint      ExecutionHint   `json:"hint"`
	Aux       uint64          `json:"aux"`
	Serial    Word            `json:"serial"`
	Script    Script          `json:"script"`
	Inputs    []uint64        `json:"inputs"`
	NoteID    Word            `json:"id"`
	Committed Word            `json:"commitment"`
}

// MarshalJSON implements json.Marshaler.
func (n *Note) MarshalJSON() ([]byte, error) {
	inputs := make([]uint64, 0, n.recipient.Inputs.Len())
	for _, v := range n.recipient.Inputs.values {
		inputs = append(inputs, FeltValue(v))
	}
	return json.Marshal(noteJSON{
		Assets:    n.assets.Assets(),
		Sender:    n.metadata.Sender,
		Type:      n.metadata.Type,
		Tag:       uint32(n.metadata.Tag),
		Hint:      n.metadata.Hint,
		Aux:       FeltValue(n.metadata.Aux),
		Serial:    n.recipient.SerialNumber,
		Script:    n.recipient.Script,
		Inputs:    inputs,
		NoteID:    n.ID(),
		Committed: n.Commitment(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. The encoded form must carry a commitment
// and the decoded note must reproduce it.
func (n *Note) UnmarshalJSON(data []byte) error {
	var raw noteJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	assets, err := NewNoteAssets(raw.Assets)
	if err != nil {
		return err
	}
	aux, err := FeltFromCanonical(raw.Aux)
	if err != nil {
		return constructionError("decode", err)
	}
	metadata, err := NewMetadata(raw.Sender, raw.Type, NoteTag(raw.Tag), raw.Hint, aux)
	if err != nil {
		return err
	}
	values := make([]Felt, 0, len(raw.Inputs))
	for _, v := range raw.Inputs {
		f, err := FeltFromCanonical(v)
		if err != nil {
			return constructionError("decode", err)
		}
		values = append(values, f)
	}
	inputs, err := NewNoteInputs(values)
	if err != nil {
		return err
	}
	if raw.Committed.IsZero() {
		return constructionError("decode", fmt.Errorf("%w: missing commitment", ErrMalformedDigest))
	}
	decoded := NewNote(assets, metadata, NewRecipient(raw.Serial, raw.Script, inputs))
	if decoded.Commitment() != raw.Committed {
		return constructionError("decode", fmt.Errorf("%w: commitment mismatch", ErrMalformedDigest))
	}
	*n = *decoded
	return nil
}
