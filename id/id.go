// Package id mints identifiers for objects the relay itself creates.
//
// User identities are opaque strings supplied at handshake and never come
// from here. Connection IDs are TypeIDs ("conn_01h455vb4pex5vsknk084sn02q"):
// UUIDv7 based, so they sort by creation time and are easy to grep for in
// logs.
package id

import (
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// PrefixConn is the TypeID prefix of connection IDs.
const PrefixConn = "conn"

// ID is a connection identifier. The zero value is not a valid ID and
// renders as the empty string.
//
//nolint:recvcheck // UnmarshalText needs a pointer receiver.
type ID struct {
	tid typeid.TypeID
	ok  bool
}

// NewConnID generates a new connection ID.
func NewConnID() ID {
	tid, err := typeid.Generate(PrefixConn)
	if err != nil {
		panic(fmt.Sprintf("id: generate %s: %v", PrefixConn, err))
	}
	return ID{tid: tid, ok: true}
}

// ParseConnID parses s and checks that it is a connection ID.
func ParseConnID(s string) (ID, error) {
	if s == "" {
		return ID{}, errors.New("id: empty connection id")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if p := tid.Prefix(); p != PrefixConn {
		return ID{}, fmt.Errorf("id: %q has prefix %q, want %q", s, p, PrefixConn)
	}
	return ID{tid: tid, ok: true}, nil
}

// String returns the TypeID form, or "" for the zero ID.
func (i ID) String() string {
	if !i.ok {
		return ""
	}
	return i.tid.String()
}

// MarshalText encodes the ID as its string form.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText decodes a connection ID. Empty input yields the zero ID.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = ID{}
		return nil
	}
	parsed, err := ParseConnID(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
