// status.go - Transaction ids and lifecycle states.

package txn

import (
	"encoding/json"
	"fmt"

	"noteflow/internal/note"
)

// ID is the opaque handle returned by the ledger at submission.
type ID note.Word

// ParseID decodes the fixed-width hex form of an id.
func ParseID(s string) (ID, error) {
	w, err := note.ParseDigest(s)
	if err != nil {
		return ID{}, fmt.Errorf("invalid transaction id: %w", err)
	}
	return ID(w), nil
}

func (id ID) Hex() string {
	return note.Word(id).Hex()
}

func (id ID) String() string {
	return id.Hex()
}

func (id ID) IsZero() bool {
	return note.Word(id).IsZero()
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// StatusKind is the lifecycle state of a submitted transaction.
type StatusKind uint8

const (
	StatusPending StatusKind = iota
	StatusCommitted
	StatusDiscarded
)

func (k StatusKind) String() string {
	switch k {
	case StatusPending:
		return "pending"
	case StatusCommitted:
		return "committed"
	case StatusDiscarded:
		return "discarded"
	}
	return fmt.Sprintf("status(%d)", uint8(k))
}

// ParseStatusKind reverses StatusKind.String.
func ParseStatusKind(s string) (StatusKind, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "committed":
		return StatusCommitted, nil
	case "discarded":
		return StatusDiscarded, nil
	}
	return 0, fmt.Errorf("unknown transaction status %q", s)
}

// Status is Pending, Committed{BlockNum} or Discarded{Cause}.
type Status struct {
	Kind     StatusKind
	BlockNum uint32
	Cause    string
}

// Pending is the status of a submitted transaction with no outcome yet.
func Pending() Status {
	return Status{Kind: StatusPending}
}

// Committed is the status of a transaction included in block.
func Committed(block uint32) Status {
	return Status{Kind: StatusCommitted, BlockNum: block}
}

// Discarded is the status of a transaction the ledger rejected.
func Discarded(cause string) Status {
	return Status{Kind: StatusDiscarded, Cause: cause}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s.Kind == StatusCommitted || s.Kind == StatusDiscarded
}

// CanBecome reports whether next is a legal successor of s. Pending may move anywhere;
// terminal statuses may only repeat themselves.
func (s Status) CanBecome(next Status) bool {
	if !s.IsTerminal() {
		return true
	}
	return s == next
}

func (s Status) String() string {
	switch s.Kind {
	case StatusCommitted:
		return fmt.Sprintf("committed(block=%d)", s.BlockNum)
	case StatusDiscarded:
		return fmt.Sprintf("discarded(%s)", s.Cause)
	}
	return s.Kind.String()
}

type statusJSON struct {
	Status   string `json:"status"`
	BlockNum uint32 `json:"blockNum,omitempty"`
	Cause    string `json:"cause,omitempty"`
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(statusJSON{Status: s.Kind.String(), BlockNum: s.BlockNum, Cause: s.Cause})
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw statusJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, err := ParseStatusKind(raw.Status)
	if err != nil {
		return err
	}
	*s = Status{Kind: kind, BlockNum: raw.BlockNum, Cause: raw.Cause}
	return nil
}
