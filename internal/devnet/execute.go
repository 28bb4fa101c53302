// execute.go - Transaction execution rules.
//
// Every effect of a transaction is staged first and applied only if the whole
// transaction succeeds, so a discarded transaction leaves the ledger untouched.

package devnet

import (
	"errors"
	"fmt"

	"noteflow/internal/faucet"
	"noteflow/internal/note"
)

var (
	ErrNoteNotFound      = errors.New("note not found on chain")
	ErrWrongConsumer     = errors.New("note is addressed to another account")
	ErrUnsupportedScript = errors.New("unsupported note script")
	ErrNotConsumable     = errors.New("note is not consumable yet")
	ErrFaucetNotDeployed = errors.New("faucet is not deployed")
	ErrNotFaucetOwner    = errors.New("mint requested by an account other than the faucet owner")
	ErrMaxSupply         = errors.New("mint exceeds the faucet max supply")
	ErrNoNetworkAccount  = errors.New("no network account for note tag")
)

// stage collects the effects of one transaction on top of the ledger.
type stage struct {
	ledger     *Ledger
	block      uint32
	accounts   map[note.AccountID]*AccountRecord
	notes      []*NoteRecord
	noteIndex  map[note.Word]*NoteRecord
	nullifiers []note.Word
	spent      map[note.Word]struct{}
}

func newStage(l *Ledger, block uint32) *stage {
	return &stage{
		ledger:    l,
		block:     block,
		accounts:  make(map[note.AccountID]*AccountRecord),
		noteIndex: make(map[note.Word]*NoteRecord),
		spent:     make(map[note.Word]struct{}),
	}
}

func (s *stage) account(id note.AccountID) (*AccountRecord, bool) {
	if a, ok := s.accounts[id]; ok {
		return a, true
	}
	a, ok := s.ledger.Accounts[id]
	if !ok {
		return nil, false
	}
	c := a.clone()
	s.accounts[id] = c
	return c, true
}

func (s *stage) note(id note.Word) (*NoteRecord, bool) {
	if rec, ok := s.noteIndex[id]; ok {
		return rec, true
	}
	rec, ok := s.ledger.Notes[id]
	return rec, ok
}

func (s *stage) addNote(rec *NoteRecord) error {
	if _, exists := s.note(rec.ID); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNote, rec.ID)
	}
	s.notes = append(s.notes, rec)
	s.noteIndex[rec.ID] = rec
	return nil
}

func (s *stage) spend(nullifier note.Word) error {
	if _, ok := s.spent[nullifier]; ok || s.ledger.HasNullifier(nullifier) {
		return fmt.Errorf("%w: %s", ErrDoubleSpend, nullifier)
	}
	s.nullifiers = append(s.nullifiers, nullifier)
	s.spent[nullifier] = struct{}{}
	return nil
}

func (s *stage) apply() error {
	for id, a := range s.accounts {
		s.ledger.Accounts[id] = a
	}
	for _, rec := range s.notes {
		if err := s.ledger.AppendNote(rec); err != nil {
			return err
		}
	}
	for _, nf := range s.nullifiers {
		if err := s.ledger.SpendNullifier(nf); err != nil {
			return err
		}
	}
	return nil
}

// execute runs tx against the ledger and applies its effects on success.
func (n *Node) execute(tx *TxRecord, block uint32) error {
	if tx.Request == nil {
		return errors.New("transaction request missing")
	}
	st := newStage(n.ledger, block)
	acct, ok := st.account(tx.Account)
	if !ok {
		return fmt.Errorf("unknown account %s", tx.Account)
	}
	req := tx.Request
	for _, in := range req.UnauthenticatedInputNotes {
		if err := n.consume(st, acct, in.Note); err != nil {
			return err
		}
	}
	for _, id := range req.AuthenticatedInputNotes {
		rec, ok := st.note(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoteNotFound, id)
		}
		if rec.Note == nil {
			return fmt.Errorf("details of note %s are not public; consume it as an unauthenticated input", id)
		}
		if err := n.consume(st, acct, rec.Note); err != nil {
			return err
		}
	}
	for _, out := range req.OwnOutputNotes {
		if err := n.create(st, acct, out); err != nil {
			return err
		}
	}
	if req.Script != nil && req.Script.Root.IsZero() {
		return errors.New("transaction script has no code")
	}
	acct.Nonce++
	return st.apply()
}

// consume spends a P2ID note into acct.
func (n *Node) consume(st *stage, acct *AccountRecord, in *note.Note) error {
	id := in.ID()
	rec, ok := st.note(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	script, known := n.scripts.ByRoot(in.Recipient().Script.Root)
	if !known || script.Name != note.ScriptP2ID {
		return fmt.Errorf("%w: %s", ErrUnsupportedScript, in.Recipient().Script.Name)
	}
	target, err := n.notes.P2IDTarget(in)
	if err != nil {
		return err
	}
	if target != acct.ID {
		return fmt.Errorf("%w: %s is for %s, not %s", ErrWrongConsumer, id, target, acct.ID)
	}
	if hint := rec.Hint; hint.Kind == note.HintAfterBlock && st.block < hint.Payload {
		return fmt.Errorf("%w: %s until block %d", ErrNotConsumable, id, hint.Payload)
	}
	if err := st.spend(in.Nullifier()); err != nil {
		return err
	}
	for _, asset := range rec.Assets {
		if err := acct.credit(asset); err != nil {
			return err
		}
	}
	return nil
}

// create records an output note of acct. MINT notes are network notes: the faucet they
// are tagged for executes them in the same block and creates the requested note.
func (n *Node) create(st *stage, acct *AccountRecord, out *note.Note) error {
	md := out.Metadata()
	if script, known := n.scripts.ByRoot(out.Recipient().Script.Root); known && script.Name == note.ScriptMINT {
		return n.mint(st, out)
	}
	for _, asset := range out.Assets().Assets() {
		if err := acct.debit(asset); err != nil {
			return err
		}
	}
	rec := &NoteRecord{
		ID:     out.ID(),
		Assets: out.Assets().Assets(),
		Tag:    md.Tag,
		Type:   md.Type,
		Block:  st.block,
		Hint:   md.Hint,
	}
	if md.Type == note.NotePublic {
		rec.Note = out
	}
	return st.addNote(rec)
}

func (n *Node) mint(st *stage, mintNote *note.Note) error {
	md := mintNote.Metadata()
	fct, err := n.networkAccountForTag(st, md.Tag)
	if err != nil {
		return err
	}
	if fct.Nonce == 0 {
		return fmt.Errorf("%w: %s", ErrFaucetNotDeployed, fct.ID)
	}
	layout, err := faucet.LayoutForVersion(fct.LayoutVersion)
	if err != nil {
		return err
	}
	desc, err := layout.Decode(fct.ID, fct)
	if err != nil {
		return err
	}
	if md.Sender != desc.Owner {
		return fmt.Errorf("%w: sender %s, owner %s", ErrNotFaucetOwner, md.Sender, desc.Owner)
	}
	req, err := n.notes.DecodeMintInputs(mintNote)
	if err != nil {
		return err
	}
	if req.Amount > desc.MaxSupply-fct.Issued {
		return fmt.Errorf("%w: %d requested, %d of %d issued", ErrMaxSupply, req.Amount, fct.Issued, desc.MaxSupply)
	}
	if err := req.OutputTag.Validate(req.OutputType); err != nil {
		return err
	}
	asset, err := note.NewFungibleAsset(fct.ID, req.Amount)
	if err != nil {
		return err
	}
	vault, err := note.NewNoteAssets([]note.FungibleAsset{asset})
	if err != nil {
		return err
	}
	// the MINT note itself is consumed by the faucet
	if err := st.spend(mintNote.Nullifier()); err != nil {
		return err
	}
	if err := st.addNote(&NoteRecord{
		ID:     mintNote.ID(),
		Assets: nil,
		Tag:    md.Tag,
		Type:   md.Type,
		Block:  st.block,
		Hint:   md.Hint,
		Note:   mintNote,
	}); err != nil {
		return err
	}
	fct.Issued += req.Amount
	fct.Nonce++
	return st.addNote(&NoteRecord{
		ID:     note.ComputeID(req.RecipientDigest, vault),
		Assets: vault.Assets(),
		Tag:    req.OutputTag,
		Type:   req.OutputType,
		Block:  st.block,
		Hint:   req.Hint,
	})
}

func (n *Node) networkAccountForTag(st *stage, tag note.NoteTag) (*AccountRecord, error) {
	if !tag.IsNetworkExecution() {
		return nil, fmt.Errorf("%w: %s is not a network tag", ErrNoNetworkAccount, tag)
	}
	var match note.AccountID
	found := 0
	for id := range n.ledger.Accounts {
		if id.StorageMode() == note.StorageNetwork && note.NoteTagFromAccountID(id) == tag {
			match = id
			found++
		}
	}
	switch found {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNoNetworkAccount, tag)
	case 1:
		acct, _ := st.account(match)
		if acct.ID.Type() != note.AccountFungibleFaucet {
			return nil, fmt.Errorf("%w: %s is not a fungible faucet", ErrNoNetworkAccount, match)
		}
		return acct, nil
	}
	return nil, fmt.Errorf("%w: tag %s matches %d accounts", ErrNoNetworkAccount, tag, found)
}
