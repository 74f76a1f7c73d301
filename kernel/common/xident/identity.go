// Package xident defines the fixed width key naming a procedure.
package xident

import (
	"bytes"

	hex "github.com/tmthrgd/go-hex"
)

// Width is the byte width of an identity.
const Width = 24

// Identity names a procedure in the procedure table. The zero value means
// "no procedure".
type Identity [Width]byte

// Zero is the reserved identity of the idle kernel.
var Zero Identity

// FromName copies name into a zero padded identity. Names longer than Width
// are truncated, so two names sharing the first Width bytes collide.
func FromName(name string) Identity {
	var id Identity
	copy(id[:], name)
	return id
}

// FromBytes builds an identity from exactly Width bytes.
func FromBytes(b []byte) (Identity, bool) {
	var id Identity
	if len(b) != Width {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

func (id Identity) IsZero() bool {
	return id == Zero
}

func (id Identity) Bytes() []byte {
	return id[:]
}

// Name returns the printable part of the identity, without the zero padding.
func (id Identity) Name() string {
	return string(bytes.TrimRight(id[:], "\x00"))
}

func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}
