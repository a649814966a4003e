// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guid implements the mixed-endian GUID layout used by EFI firmware
// structures. The first three fields are little-endian on the wire, the rest
// big-endian, so a byte-for-byte copy of the canonical string form would be
// wrong in both directions.
package guid

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// Size is the number of bytes in a GUID.
	Size = 16
	// example of the accepted text form.
	example   = "01234567-89AB-CDEF-0123-456789ABCDEF"
	strFormat = "%02X%02X%02X%02X-%02X%02X-%02X%02X-%02X%02X-%02X%02X%02X%02X%02X%02X"
)

// field widths of the mixed-endian groups.
var fields = [...]int{4, 2, 2, 1, 1, 1, 1, 1, 1, 1, 1}

// GUID represents a unique identifier.
type GUID [Size]byte

func reverse(b []byte) {
	for i := 0; i < len(b)/2; i++ {
		other := len(b) - i - 1
		b[other], b[i] = b[i], b[other]
	}
}

// Parse parses a GUID string of the canonical hyphenated form.
func Parse(s string) (*GUID, error) {
	stripped := strings.Replace(s, "-", "", -1)
	decoded, err := hex.DecodeString(stripped)
	if err != nil {
		return nil, fmt.Errorf("guid string not valid, need the form %v, got %v", example, s)
	}
	if len(decoded) != Size {
		return nil, fmt.Errorf("guid string has wrong length, need the form %v, got %v", example, s)
	}

	g := GUID{}
	copy(g[:], decoded)
	// Correct for endianness.
	i := 0
	for _, fieldlen := range fields {
		reverse(g[i : i+fieldlen])
		i += fieldlen
	}
	return &g, nil
}

// MustParse parses a GUID string or panics. For package-level constants only.
func MustParse(s string) *GUID {
	g, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return g
}

// FromBytes reads a GUID from the first 16 bytes of buf.
func FromBytes(buf []byte) (*GUID, error) {
	if len(buf) < Size {
		return nil, fmt.Errorf("buffer too short for GUID: %d bytes", len(buf))
	}
	g := GUID{}
	copy(g[:], buf[:Size])
	return &g, nil
}

// String returns the canonical hyphenated form.
func (g GUID) String() string {
	// Value receiver: the in-place endianness swap works on a copy.
	i := 0
	for _, fieldlen := range fields {
		reverse(g[i : i+fieldlen])
		i += fieldlen
	}
	b := make([]interface{}, Size)
	for i := range g[:] {
		b[i] = g[i]
	}
	return fmt.Sprintf(strFormat, b...)
}

// IsZero reports whether the GUID is all zero bytes.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// IsBlank reports whether the GUID is all 0xFF, the erased-flash pattern.
func (g GUID) IsBlank() bool {
	return bytes.Equal(g[:], bytes.Repeat([]byte{0xFF}, Size))
}

// MarshalJSON implements the marshaller interface so trees dump readably.
func (g *GUID) MarshalJSON() ([]byte, error) {
	return []byte(`{"GUID" : "` + g.String() + `"}`), nil
}

// UnmarshalJSON implements the unmarshaller interface.
func (g *GUID) UnmarshalJSON(b []byte) error {
	j := make(map[string]string)
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	parsed, err := Parse(j["GUID"])
	if err != nil {
		return err
	}
	copy(g[:], parsed[:])
	return nil
}
