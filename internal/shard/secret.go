package shard

import "runtime"

// Secret owns a byte buffer holding key material. It must not be copied or shared
// between goroutines; the creator calls Wipe when done.
type Secret struct {
	b []byte
}

// NewSecret takes ownership of b. The caller must not use b afterwards.
func NewSecret(b []byte) *Secret {
	return &Secret{b: b}
}

// Bytes exposes the underlying buffer. It is valid until Wipe.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}

	return s.b
}

func (s *Secret) Len() int {
	if s == nil {
		return 0
	}

	return len(s.b)
}

// Wipe zeroes the buffer and drops it. Safe on nil and on repeated calls.
func (s *Secret) Wipe() {
	if s == nil || s.b == nil {
		return
	}

	clear(s.b)
	runtime.KeepAlive(s.b)
	s.b = nil
}

// Wiped reports whether the buffer has been released.
func (s *Secret) Wiped() bool {
	return s == nil || s.b == nil
}
