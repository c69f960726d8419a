package objects

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type TxKind string

const (
	TxKindTransfer  TxKind = "transfer"
	TxKindMessage   TxKind = "message"
	TxKindTypedData TxKind = "typed_data"
)

// TxRequest describes the one signing action of an execution.
// Transfers with an empty Token move the native asset; Amount is in whole token units.
type TxRequest struct {
	Kind      TxKind          `json:"kind"`
	To        string          `json:"to,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Token     string          `json:"token,omitempty"`
	Message   string          `json:"message,omitempty"`
	TypedData json.RawMessage `json:"typed_data,omitempty"`
}

func (r TxRequest) ExecutionType() ExecutionType {
	switch r.Kind {
	case TxKindMessage:
		return ExecutionTypeSignMessage
	case TxKindTypedData:
		return ExecutionTypeSignTypedData
	default:
		if r.Token != "" {
			return ExecutionTypeTokenTransfer
		}

		return ExecutionTypeNativeTransfer
	}
}

// SpendAmount is what the action draws from the ledger. Signing-only actions spend nothing.
func (r TxRequest) SpendAmount() decimal.Decimal {
	if r.Kind != TxKindTransfer {
		return decimal.Zero
	}

	return r.Amount
}
