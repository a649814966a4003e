// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compression implements the section compression schemes found in
// Dell desktop firmware images: LZMA for GUIDed sections and the zlib
// variant used by standard-compression sections.
package compression

import (
	"fmt"

	"github.com/biosmod/biosmod/pkg/guid"
)

// Compressor defines a single compression scheme (such as LZMA).
type Compressor interface {
	// Name is typically the name of a class.
	Name() string

	// Decode and Encode obey "x == Decode(Encode(x))".
	Decode(encodedData []byte) ([]byte, error)
	Encode(decodedData []byte) ([]byte, error)
}

// Well-known GUIDs for GUIDed sections containing compressed data.
var (
	LZMAGUID = *guid.MustParse("EE4E5898-3914-4259-9D6E-DC7BD79403CF")
)

// UnsupportedAlgorithmError reports a GUIDed section whose algorithm we do
// not interpret. Callers treat the section as opaque, not as a parse
// failure.
type UnsupportedAlgorithmError struct {
	GUID guid.GUID
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported section compression algorithm %v", e.GUID)
}

// SizeMismatchError reports decompressed output that does not match the
// size the section header declared.
type SizeMismatchError struct {
	Declared uint64
	Got      uint64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("decompressed size %#x does not match declared size %#x", e.Got, e.Declared)
}

// CompressorFromGUID returns a Compressor for the corresponding GUIDed
// section, or an UnsupportedAlgorithmError for algorithms we do not carry.
func CompressorFromGUID(g *guid.GUID) (Compressor, error) {
	switch *g {
	case LZMAGUID:
		return &LZMA{}, nil
	}
	return nil, &UnsupportedAlgorithmError{GUID: *g}
}
