package rpc

import (
	"encoding/json"

	"noteflow/internal/note"
	"noteflow/internal/txn"
)

// Method names carried in Message.Type.
const (
	MethodSyncState         = "sync_state"
	MethodSubmitTransaction = "submit_transaction"
	MethodGetTransaction    = "get_transaction"
	MethodGetAccount        = "get_account"
	MethodRegisterAccount   = "register_account"
)

// Error codes carried in Response.Code.
const (
	CodeInvalidRequest = "invalid_request"
	CodeRejected       = "rejected"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeInternal       = "internal"
	CodeRateLimited    = "rate_limited"
)

// Message is the envelope for every call sent to a ledger node.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SenderID string          `json:"senderId,omitempty"`
}

// Response is the envelope for every reply. Code is empty on success.
type Response struct {
	Result  json.RawMessage `json:"result,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

// SubmitTransactionPayload is the payload of MethodSubmitTransaction.
type SubmitTransactionPayload struct {
	Account note.AccountID `json:"account"`
	Request *txn.Request   `json:"request"`
}

type SubmitTransactionResult struct {
	ID txn.ID `json:"id"`
}

// GetTransactionPayload is the payload of MethodGetTransaction.
type GetTransactionPayload struct {
	ID txn.ID `json:"id"`
}

// GetTransactionResult carries Status only when Found.
type GetTransactionResult struct {
	Found  bool        `json:"found"`
	Status *txn.Status `json:"status,omitempty"`
}

type GetAccountPayload struct {
	ID note.AccountID `json:"id"`
}
