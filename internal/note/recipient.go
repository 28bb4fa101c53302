// recipient.go - Note inputs and recipients.

package note

import (
	"fmt"
	"slices"
)

// MaxInputsPerNote bounds the number of note inputs.
const MaxInputsPerNote = 128

// NoteInputs are the ordered values a note script reads when the note is consumed.
type NoteInputs struct {
	values []Felt
}

// NewNoteInputs copies values, rejecting more than MaxInputsPerNote of them.
func NewNoteInputs(values []Felt) (NoteInputs, error) {
	if len(values) > MaxInputsPerNote {
		return NoteInputs{}, constructionError("inputs", fmt.Errorf("%w: %d", ErrTooManyInputs, len(values)))
	}
	return NoteInputs{values: slices.Clone(values)}, nil
}

// Values returns a copy of the inputs.
func (in NoteInputs) Values() []Felt {
	return slices.Clone(in.values)
}

func (in NoteInputs) Len() int {
	return len(in.values)
}

// Commitment hashes the input count followed by the values.
func (in NoteInputs) Commitment() Word {
	elems := make([]Felt, 0, 1+len(in.values))
	elems = append(elems, NewFelt(uint64(len(in.values))))
	elems = append(elems, in.values...)
	return hashElements(elems...)
}

// Recipient binds a note to whoever can satisfy its script with its inputs.
type Recipient struct {
	SerialNumber Word
	Script       Script
	Inputs       NoteInputs
}

// NewRecipient assembles a recipient. The serial number should be unpredictable for
// private notes.
func NewRecipient(serial Word, script Script, inputs NoteInputs) Recipient {
	return Recipient{SerialNumber: serial, Script: script, Inputs: inputs}
}

// Digest is H(H(H(serial, 0), script root), inputs commitment).
func (r Recipient) Digest() Word {
	serialHash := merge(r.SerialNumber, ZeroWord)
	scriptHash := merge(serialHash, r.Script.Root)
	return merge(scriptHash, r.Inputs.Commitment())
}
