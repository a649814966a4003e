// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uefi parses Dell desktop firmware images into a tree of firmware
// volumes, files and sections, with absolute byte-range bookkeeping on every
// node so edits can be translated back into flat-buffer offsets.
//
// The parser favors understanding what it can over rejecting a whole image:
// a malformed volume candidate, file or section degrades to a logged warning
// and a partial tree. It fails outright only when no volume signature exists
// anywhere or the buffer is shorter than a volume header.
package uefi

import (
	"encoding/binary"
	"fmt"
)

// ParseError reports a structurally unrecoverable image.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "image not parseable: " + e.Reason
}

// Checksum8 does an 8 bit checksum of the slice passed in.
func Checksum8(buf []byte) uint8 {
	var sum uint8
	for _, val := range buf {
		sum += val
	}
	return sum
}

// Checksum16 does a 16 bit word checksum of the byte slice passed in.
func Checksum16(buf []byte) (uint16, error) {
	buflen := len(buf)
	if buflen%2 != 0 {
		return 0, fmt.Errorf("byte slice does not have even length, not able to do 16 bit checksum. Length was %v",
			buflen)
	}
	var sum uint16
	for i := 0; i < buflen; i += 2 {
		sum += binary.LittleEndian.Uint16(buf[i : i+2])
	}
	return sum, nil
}

// Read3Size reads a 3-byte size and returns it as a uint64.
func Read3Size(size [3]uint8) uint64 {
	return uint64(size[2])<<16 |
		uint64(size[1])<<8 | uint64(size[0])
}

// Write3Size writes a size into a 3-byte array.
func Write3Size(size uint64) [3]uint8 {
	if size >= 0xFFFFFF {
		return [3]uint8{0xFF, 0xFF, 0xFF}
	}
	return [3]uint8{uint8(size), uint8(size >> 8), uint8(size >> 16)}
}

// Align aligns an address.
func Align(val uint64, base uint64) uint64 {
	return (val + base - 1) & ^(base - 1)
}

// Align4 aligns an address to 4 bytes.
func Align4(val uint64) uint64 {
	return Align(val, 4)
}

// Align8 aligns an address to 8 bytes.
func Align8(val uint64) uint64 {
	return Align(val, 8)
}

// IsErased checks if the buffer is entirely the erase polarity byte.
func IsErased(buf []byte, polarity byte) bool {
	for _, c := range buf {
		if c != polarity {
			return false
		}
	}
	return true
}
