// request.go - Transaction requests and their builder.

package txn

import (
	"errors"
	"fmt"

	"noteflow/internal/note"
)

var (
	ErrEmptyRequest        = errors.New("transaction request has no output notes, input notes or script")
	ErrDuplicateInputNote  = errors.New("input note appears more than once")
	ErrDuplicateOutputNote = errors.New("output note appears more than once")
	ErrNilNote             = errors.New("nil note in transaction request")
)

// UnauthenticatedInput is a note consumed by proving its script rather than through a
// note the client already tracks. Args are optional note arguments.
type UnauthenticatedInput struct {
	Note *note.Note `json:"note"`
	Args *note.Word `json:"args,omitempty"`
}

// Kind classifies request shapes for logging and metrics.
type Kind string

const (
	KindIssuance    Kind = "issuance"
	KindConsumption Kind = "consumption"
	KindScript      Kind = "script"
	KindMixed       Kind = "mixed"
)

// Request is a batch of intended ledger effects. Build one with RequestBuilder.
type Request struct {
	OwnOutputNotes            []*note.Note           `json:"ownOutputNotes,omitempty"`
	UnauthenticatedInputNotes []UnauthenticatedInput `json:"unauthenticatedInputNotes,omitempty"`
	AuthenticatedInputNotes   []note.Word            `json:"authenticatedInputNotes,omitempty"`
	Script                    *note.Script           `json:"script,omitempty"`
}

// Validate enforces that the request does something and references each note once.
func (r *Request) Validate() error {
	if r == nil {
		return ErrEmptyRequest
	}
	if len(r.OwnOutputNotes) == 0 && len(r.UnauthenticatedInputNotes) == 0 &&
		len(r.AuthenticatedInputNotes) == 0 && r.Script == nil {
		return ErrEmptyRequest
	}
	outputs := make(map[note.Word]struct{}, len(r.OwnOutputNotes))
	for _, n := range r.OwnOutputNotes {
		if n == nil {
			return ErrNilNote
		}
		id := n.ID()
		if _, dup := outputs[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateOutputNote, id)
		}
		outputs[id] = struct{}{}
	}
	inputs := make(map[note.Word]struct{}, len(r.UnauthenticatedInputNotes)+len(r.AuthenticatedInputNotes))
	for _, in := range r.UnauthenticatedInputNotes {
		if in.Note == nil {
			return ErrNilNote
		}
		id := in.Note.ID()
		if _, dup := inputs[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateInputNote, id)
		}
		inputs[id] = struct{}{}
	}
	for _, id := range r.AuthenticatedInputNotes {
		if _, dup := inputs[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateInputNote, id)
		}
		inputs[id] = struct{}{}
	}
	return nil
}

// Kind reports which of the supported shapes the request has.
func (r *Request) Kind() Kind {
	hasOut := len(r.OwnOutputNotes) > 0
	hasIn := len(r.UnauthenticatedInputNotes) > 0 || len(r.AuthenticatedInputNotes) > 0
	switch {
	case hasOut && !hasIn && r.Script == nil:
		return KindIssuance
	case hasIn && !hasOut && r.Script == nil:
		return KindConsumption
	case r.Script != nil && !hasIn && !hasOut:
		return KindScript
	}
	return KindMixed
}

// Commitment digests everything the request references, in order.
func (r *Request) Commitment() note.Word {
	words := make([]note.Word, 0, len(r.OwnOutputNotes)+len(r.UnauthenticatedInputNotes)+len(r.AuthenticatedInputNotes)+1)
	for _, n := range r.OwnOutputNotes {
		words = append(words, n.Commitment())
	}
	for _, in := range r.UnauthenticatedInputNotes {
		words = append(words, in.Note.Commitment())
		if in.Args != nil {
			words = append(words, *in.Args)
		}
	}
	words = append(words, r.AuthenticatedInputNotes...)
	if r.Script != nil {
		words = append(words, r.Script.Root)
	}
	return note.HashWords(words...)
}

// RequestBuilder assembles a Request.
type RequestBuilder struct {
	req Request
}

// NewRequestBuilder returns an empty builder.
func NewRequestBuilder() *RequestBuilder {
	return &RequestBuilder{}
}

// OwnOutputNotes adds notes the submitting account creates.
func (b *RequestBuilder) OwnOutputNotes(notes ...*note.Note) *RequestBuilder {
	b.req.OwnOutputNotes = append(b.req.OwnOutputNotes, notes...)
	return b
}

// UnauthenticatedInputNotes adds notes consumed without prior local authentication.
func (b *RequestBuilder) UnauthenticatedInputNotes(inputs ...UnauthenticatedInput) *RequestBuilder {
	b.req.UnauthenticatedInputNotes = append(b.req.UnauthenticatedInputNotes, inputs...)
	return b
}

// AuthenticatedInputNotes adds notes by id that the ledger already knows.
func (b *RequestBuilder) AuthenticatedInputNotes(ids ...note.Word) *RequestBuilder {
	b.req.AuthenticatedInputNotes = append(b.req.AuthenticatedInputNotes, ids...)
	return b
}

// CustomScript sets the transaction script.
func (b *RequestBuilder) CustomScript(s note.Script) *RequestBuilder {
	b.req.Script = &s
	return b
}

// Build validates and returns the request.
func (b *RequestBuilder) Build() (*Request, error) {
	req := b.req
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}
