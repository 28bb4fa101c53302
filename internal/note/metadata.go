// metadata.go - Note types, routing tags, execution hints and metadata.

package note

import (
	"fmt"
	"math"
)

// NoteType controls whether note details are published on chain.
type NoteType uint8

const (
	NotePublic  NoteType = 1
	NotePrivate NoteType = 2
)

func (t NoteType) Valid() bool {
	return t == NotePublic || t == NotePrivate
}

func (t NoteType) String() string {
	switch t {
	case NotePublic:
		return "public"
	case NotePrivate:
		return "private"
	}
	return fmt.Sprintf("note-type(%d)", uint8(t))
}

// ParseNoteType accepts "public" or "private".
func ParseNoteType(s string) (NoteType, error) {
	switch s {
	case "public":
		return NotePublic, nil
	case "private":
		return NotePrivate, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidNoteType, s)
}

// NoteTag is a 32-bit routing hint. The two high bits select the layout:
//
//	00 network account   01 network use case   10 local public use case   11 local any
type NoteTag uint32

const (
	tagNetworkAccount NoteTag = 0b00 << 30
	tagNetworkUseCase NoteTag = 0b01 << 30
	tagLocalPublicAny NoteTag = 0b10 << 30
	tagLocalAny       NoteTag = 0b11 << 30
	tagKindMask       NoteTag = 0b11 << 30

	// DefaultLocalTagLength is how many high bits of the account prefix a local tag keeps.
	DefaultLocalTagLength = 14
	maxUseCase            = 1<<14 - 1
)

// NoteTagFromAccountID derives the routing tag for notes addressed to id. Network
// accounts get a network-execution tag; everything else a local tag.
func NoteTagFromAccountID(id AccountID) NoteTag {
	highBits := uint32(FeltValue(id.Prefix) >> 34)
	if id.StorageMode() == StorageNetwork {
		return NoteTag(highBits)
	}
	mask := uint32((1<<DefaultLocalTagLength - 1) << (30 - DefaultLocalTagLength))
	return tagLocalAny | NoteTag(highBits&mask)
}

// NoteTagForLocalUseCase builds a locally executed tag for an application use case.
func NoteTagForLocalUseCase(useCase, payload uint16) (NoteTag, error) {
	if useCase > maxUseCase {
		return 0, constructionError("tag", fmt.Errorf("%w: use case %d exceeds 14 bits", ErrInvalidTag, useCase))
	}
	return tagLocalAny | NoteTag(useCase)<<16 | NoteTag(payload), nil
}

// IsNetworkExecution reports whether the tag routes the note to the network for execution.
func (t NoteTag) IsNetworkExecution() bool {
	return t&tagKindMask == tagNetworkAccount || t&tagKindMask == tagNetworkUseCase
}

// Validate checks that the tag may be attached to a note of type nt.
func (t NoteTag) Validate(nt NoteType) error {
	if !nt.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidNoteType, uint8(nt))
	}
	kind := t & tagKindMask
	if (kind == tagNetworkAccount || kind == tagNetworkUseCase || kind == tagLocalPublicAny) && nt != NotePublic {
		return fmt.Errorf("%w: tag %#08x on %s note", ErrTagNoteTypeMismatch, uint32(t), nt)
	}
	return nil
}

func (t NoteTag) String() string {
	return fmt.Sprintf("%#08x", uint32(t))
}

// ExecutionHintKind selects when a note may be consumed.
type ExecutionHintKind uint8

const (
	HintNone       ExecutionHintKind = 0
	HintAlways     ExecutionHintKind = 1
	HintAfterBlock ExecutionHintKind = 2
)

// ExecutionHint tells consumers when a note becomes consumable.
type ExecutionHint struct {
	Kind    ExecutionHintKind `json:"kind"`
	Payload uint32            `json:"payload,omitempty"`
}

// HintAlwaysConsumable is the hint used by P2ID and MINT notes.
var HintAlwaysConsumable = ExecutionHint{Kind: HintAlways}

// ExecutionHintAfterBlock makes a note consumable from block onwards.
func ExecutionHintAfterBlock(block uint32) (ExecutionHint, error) {
	if block == math.MaxUint32 {
		return ExecutionHint{}, constructionError("hint", fmt.Errorf("%w: block %d", ErrInvalidExecutionHint, block))
	}
	return ExecutionHint{Kind: HintAfterBlock, Payload: block}, nil
}

// Felt packs the hint as payload<<8 | kind.
func (h ExecutionHint) Felt() Felt {
	return NewFelt(uint64(h.Payload)<<8 | uint64(h.Kind))
}

// ExecutionHintFromFelt reverses ExecutionHint.Felt.
func ExecutionHintFromFelt(f Felt) (ExecutionHint, error) {
	v := FeltValue(f)
	if v>>40 != 0 {
		return ExecutionHint{}, fmt.Errorf("%w: %#x", ErrInvalidExecutionHint, v)
	}
	h := ExecutionHint{Kind: ExecutionHintKind(v & 0xff), Payload: uint32(v >> 8)}
	switch {
	case h.Kind > HintAfterBlock:
		return ExecutionHint{}, fmt.Errorf("%w: kind %d", ErrInvalidExecutionHint, h.Kind)
	case h.Kind != HintAfterBlock && h.Payload != 0:
		return ExecutionHint{}, fmt.Errorf("%w: payload on kind %d", ErrInvalidExecutionHint, h.Kind)
	}
	return h, nil
}

// Metadata carries provenance and routing data for a note.
type Metadata struct {
	Sender AccountID
	Type   NoteType
	Tag    NoteTag
	Hint   ExecutionHint
	Aux    Felt
}

// NewMetadata validates the tag against the note type.
func NewMetadata(sender AccountID, noteType NoteType, tag NoteTag, hint ExecutionHint, aux Felt) (Metadata, error) {
	if err := tag.Validate(noteType); err != nil {
		return Metadata{}, constructionError("metadata", err)
	}
	if hint.Kind > HintAfterBlock {
		return Metadata{}, constructionError("metadata", fmt.Errorf("%w: kind %d", ErrInvalidExecutionHint, hint.Kind))
	}
	return Metadata{Sender: sender, Type: noteType, Tag: tag, Hint: hint, Aux: aux}, nil
}

// Elements is the felt encoding hashed into the note commitment:
// [sender suffix | type, sender prefix, tag, hint, aux].
func (m Metadata) Elements() []Felt {
	return []Felt{
		NewFelt(FeltValue(m.Sender.Suffix) | uint64(m.Type)),
		m.Sender.Prefix,
		NewFelt(uint64(m.Tag)),
		m.Hint.Felt(),
		m.Aux,
	}
}

// Hash is the metadata digest.
func (m Metadata) Hash() Word {
	return hashElements(m.Elements()...)
}
