package shard

import "fmt"

type CryptoErrorKind string

const (
	KindInvalidShardFormat CryptoErrorKind = "invalid_shard_format"
	KindCorrupt            CryptoErrorKind = "corrupt"
	KindAddressMismatch    CryptoErrorKind = "address_mismatch"
)

// CryptoError is the only error type this package returns for shard material problems.
// Every kind is terminal.
type CryptoError struct {
	Kind CryptoErrorKind
	Msg  string
	Err  error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("shard: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}

	return fmt.Sprintf("shard: %s: %s", e.Kind, e.Msg)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// Is matches any CryptoError of the same kind, so callers can test against the sentinels below.
func (e *CryptoError) Is(target error) bool {
	t, ok := target.(*CryptoError)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

var (
	ErrInvalidShardFormat = &CryptoError{Kind: KindInvalidShardFormat, Msg: "invalid shard format"}
	ErrCorrupt            = &CryptoError{Kind: KindCorrupt, Msg: "corrupt shard"}
	ErrAddressMismatch    = &CryptoError{Kind: KindAddressMismatch, Msg: "reconstructed key does not match owner address"}
)

func invalidFormat(msg string, err error) error {
	return &CryptoError{Kind: KindInvalidShardFormat, Msg: msg, Err: err}
}

func corrupt(msg string, err error) error {
	return &CryptoError{Kind: KindCorrupt, Msg: msg, Err: err}
}
