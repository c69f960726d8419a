package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/rpc"
)

type ErrorKind string

const (
	KindRPC      ErrorKind = "rpc"
	KindTimeout  ErrorKind = "timeout"
	KindReverted ErrorKind = "reverted"
)

// Error is a failure talking to the chain. Broadcast is set once a signed transaction
// may have reached a node, in which case TxHash identifies it. Rejected means the node
// answered with a JSON-RPC error, as opposed to a transport failure with unknown outcome.
type Error struct {
	Kind      ErrorKind
	Op        string
	Broadcast bool
	Rejected  bool
	TxHash    string
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("chain %s: %s", e.Kind, e.Op)
	if e.TxHash != "" {
		msg += " tx=" + e.TxHash
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// Transient reports whether retrying the same operation may succeed.
func (e *Error) Transient() bool {
	return e.Kind != KindReverted
}

var (
	ErrRPC      = &Error{Kind: KindRPC}
	ErrTimeout  = &Error{Kind: KindTimeout}
	ErrReverted = &Error{Kind: KindReverted}

	// ErrNotFound means the node does not know the transaction or its receipt yet.
	ErrNotFound = ethereum.NotFound
)

// Classify wraps err from op into an *Error. Nil stays nil and an existing *Error is kept.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return err
	}

	kind := KindRPC

	var rpcErr rpc.Error

	rejected := errors.As(err, &rpcErr)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case strings.Contains(strings.ToLower(err.Error()), "execution reverted"):
		kind = KindReverted
	}

	return &Error{Kind: kind, Op: op, Rejected: rejected, Err: err}
}

// IsAlreadyKnown reports a node refusing a transaction it already has, which for a
// rebroadcast of the same signed bytes means the earlier attempt landed.
func IsAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// AfterBroadcast marks err as having happened once txHash may be in a mempool.
func AfterBroadcast(err error, txHash string) error {
	if err == nil {
		return nil
	}

	var ce *Error
	if !errors.As(err, &ce) {
		ce = &Error{Kind: KindRPC, Op: "broadcast", Err: err}
	}

	out := *ce
	out.Broadcast = true
	out.TxHash = txHash

	return &out
}
