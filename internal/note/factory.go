// factory.go - P2ID and MINT note constructors.
//
// Constructors resolve note scripts through the Factory's ScriptRegistry. The package
// level functions use a factory over WellKnownScripts.

package note

import (
	"errors"
	"fmt"
	"sync"
)

// FeltRng is the randomness capability used for serial numbers.
type FeltRng interface {
	DrawWord() Word
}

// Factory builds and decodes standard notes against one script registry.
type Factory struct {
	scripts ScriptRegistry
}

// NewFactory returns a factory resolving scripts through scripts. A nil registry
// means the well-known scripts.
func NewFactory(scripts ScriptRegistry) *Factory {
	if scripts == nil {
		scripts = WellKnownScripts()
	}
	return &Factory{scripts: scripts}
}

var (
	defaultFactoryOnce sync.Once
	defaultFactory     *Factory
)

// DefaultFactory is the factory over WellKnownScripts.
func DefaultFactory() *Factory {
	defaultFactoryOnce.Do(func() {
		defaultFactory = NewFactory(WellKnownScripts())
	})
	return defaultFactory
}

// Scripts returns the registry the factory resolves scripts with.
func (f *Factory) Scripts() ScriptRegistry {
	return f.scripts
}

type p2idOptions struct {
	hint ExecutionHint
}

// P2IDOption customizes BuildP2ID.
type P2IDOption func(*p2idOptions)

// WithExecutionHint replaces the default always-consumable hint.
func WithExecutionHint(h ExecutionHint) P2IDOption {
	return func(o *p2idOptions) {
		o.hint = h
	}
}

// BuildP2ID builds a note consumable only by target. The serial number is supplied by
// the caller: random for private notes, fixed when a reproducible note is wanted.
func (f *Factory) BuildP2ID(
	sender, target AccountID,
	assets []FungibleAsset,
	noteType NoteType,
	aux Felt,
	serial Word,
	opts ...P2IDOption,
) (*Note, error) {
	const op = "p2id"
	o := p2idOptions{hint: HintAlwaysConsumable}
	for _, opt := range opts {
		opt(&o)
	}
	if len(assets) == 0 {
		return nil, constructionError(op, ErrEmptyVault)
	}
	script, err := f.scripts.Lookup(ScriptP2ID)
	if err != nil {
		return nil, constructionError(op, err)
	}
	vault, err := NewNoteAssets(assets)
	if err != nil {
		return nil, constructionError(op, err)
	}
	inputs, err := NewNoteInputs([]Felt{target.Suffix, target.Prefix})
	if err != nil {
		return nil, constructionError(op, err)
	}
	metadata, err := NewMetadata(sender, noteType, NoteTagFromAccountID(target), o.hint, aux)
	if err != nil {
		return nil, constructionError(op, err)
	}
	recipient := NewRecipient(serial, script, inputs)
	return NewNote(vault, metadata, recipient), nil
}

// P2IDTarget returns the only account allowed to consume a P2ID note.
func (f *Factory) P2IDTarget(n *Note) (AccountID, error) {
	r := n.Recipient()
	if !f.isScript(r.Script.Root, ScriptP2ID) || r.Inputs.Len() != 2 {
		return AccountID{}, ErrNotP2ID
	}
	v := r.Inputs.Values()
	return AccountID{Prefix: v[1], Suffix: v[0]}, nil
}

func (f *Factory) isScript(root Word, name string) bool {
	s, ok := f.scripts.ByRoot(root)
	return ok && s.Name == name
}

type mintOptions struct {
	outputType NoteType
	outputHint ExecutionHint
}

// MintOption customizes BuildMint.
type MintOption func(*mintOptions)

// WithOutputNoteType sets the type of the note the faucet will create. Default private.
func WithOutputNoteType(t NoteType) MintOption {
	return func(o *mintOptions) {
		o.outputType = t
	}
}

// WithOutputHint sets the execution hint of the note the faucet will create. Default
// always consumable.
func WithOutputHint(h ExecutionHint) MintOption {
	return func(o *mintOptions) {
		o.outputHint = h
	}
}

// BuildMint builds a MINT note asking faucet to issue amount into the note whose
// recipient digest is recipientDigest. The digest is the only link to the target note:
// a well formed but wrong digest is accepted and funds a note nobody can consume.
// rng is used only for the MINT note's own serial number.
func (f *Factory) BuildMint(
	faucet, owner AccountID,
	recipientDigest Word,
	outputTag NoteTag,
	amount uint64,
	aux, outputAux Felt,
	rng FeltRng,
	opts ...MintOption,
) (*Note, error) {
	const op = "mint"
	o := mintOptions{outputType: NotePrivate, outputHint: HintAlwaysConsumable}
	for _, opt := range opts {
		opt(&o)
	}
	if rng == nil {
		return nil, constructionError(op, errors.New("no serial number source"))
	}
	if recipientDigest.IsZero() {
		return nil, constructionError(op, fmt.Errorf("%w: zero recipient digest", ErrMalformedDigest))
	}
	if faucet.Type() != AccountFungibleFaucet {
		return nil, constructionError(op, fmt.Errorf("%w: %s", ErrInvalidFaucet, faucet))
	}
	if amount == 0 {
		return nil, constructionError(op, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount))
	}
	if amount > MaxFungibleAmount {
		return nil, constructionError(op, fmt.Errorf("%w: %d", ErrAmountOverflow, amount))
	}
	if err := outputTag.Validate(o.outputType); err != nil {
		return nil, constructionError(op, err)
	}
	if _, err := ExecutionHintFromFelt(o.outputHint.Felt()); err != nil {
		return nil, constructionError(op, err)
	}
	script, err := f.scripts.Lookup(ScriptMINT)
	if err != nil {
		return nil, constructionError(op, err)
	}
	values := make([]Felt, 0, 9)
	values = append(values, recipientDigest[:]...)
	values = append(values,
		o.outputHint.Felt(),
		NewFelt(uint64(o.outputType)),
		outputAux,
		NewFelt(uint64(outputTag)),
		NewFelt(amount),
	)
	inputs, err := NewNoteInputs(values)
	if err != nil {
		return nil, constructionError(op, err)
	}
	metadata, err := NewMetadata(owner, NotePublic, NoteTagFromAccountID(faucet), HintAlwaysConsumable, aux)
	if err != nil {
		return nil, constructionError(op, err)
	}
	recipient := NewRecipient(rng.DrawWord(), script, inputs)
	return NewNote(NoteAssets{}, metadata, recipient), nil
}

// MintInputs is the decoded request carried by a MINT note.
type MintInputs struct {
	RecipientDigest Word
	Hint            ExecutionHint
	OutputType      NoteType
	OutputAux       Felt
	OutputTag       NoteTag
	Amount          uint64
}

// DecodeMintInputs reads the issuance request out of a MINT note.
func (f *Factory) DecodeMintInputs(n *Note) (MintInputs, error) {
	r := n.Recipient()
	if !f.isScript(r.Script.Root, ScriptMINT) || r.Inputs.Len() != 9 {
		return MintInputs{}, ErrNotMint
	}
	v := r.Inputs.Values()
	hint, err := ExecutionHintFromFelt(v[4])
	if err != nil {
		return MintInputs{}, err
	}
	m := MintInputs{
		RecipientDigest: Word{v[0], v[1], v[2], v[3]},
		Hint:            hint,
		OutputType:      NoteType(FeltValue(v[5])),
		OutputAux:       v[6],
		OutputTag:       NoteTag(FeltValue(v[7])),
		Amount:          FeltValue(v[8]),
	}
	if !m.OutputType.Valid() {
		return MintInputs{}, fmt.Errorf("%w: %d", ErrInvalidNoteType, FeltValue(v[5]))
	}
	if m.Amount == 0 || m.Amount > MaxFungibleAmount {
		return MintInputs{}, fmt.Errorf("%w: %d", ErrAmountOverflow, m.Amount)
	}
	return m, nil
}

// BuildP2ID is DefaultFactory().BuildP2ID.
func BuildP2ID(sender, target AccountID, assets []FungibleAsset, noteType NoteType, aux Felt, serial Word, opts ...P2IDOption) (*Note, error) {
	return DefaultFactory().BuildP2ID(sender, target, assets, noteType, aux, serial, opts...)
}

// P2IDTarget is DefaultFactory().P2IDTarget.
func P2IDTarget(n *Note) (AccountID, error) {
	return DefaultFactory().P2IDTarget(n)
}

// BuildMint is DefaultFactory().BuildMint.
func BuildMint(
	faucet, owner AccountID,
	recipientDigest Word,
	outputTag NoteTag,
	amount uint64,
	aux, outputAux Felt,
	rng FeltRng,
	opts ...MintOption,
) (*Note, error) {
	return DefaultFactory().BuildMint(faucet, owner, recipientDigest, outputTag, amount, aux, outputAux, rng, opts...)
}

// DecodeMintInputs is DefaultFactory().DecodeMintInputs.
func DecodeMintInputs(n *Note) (MintInputs, error) {
	return DefaultFactory().DecodeMintInputs(n)
}
