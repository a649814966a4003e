// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
)

// FlashSignature is the sequence of bytes an Intel flash descriptor starts
// with (0x0FF0A55A little-endian).
var FlashSignature = []byte{0x5A, 0xA5, 0xF0, 0x0F}

const (
	// FlashDescriptorLength is the size of the descriptor region.
	FlashDescriptorLength = 0x1000
	// flmstrOffset is where the master access words sit inside the
	// descriptor region.
	flmstrOffset = 0x80
)

// FlashDescriptor is the subset of the Intel flash descriptor the analyzer
// needs: its location and the master (FLMSTR) access words that encode
// region write locks.
type FlashDescriptor struct {
	// Offset of the signature inside the image. PCH-era images keep the
	// first 16 bytes reserved with the signature after; older ICH images
	// start with it.
	Offset uint64

	FLMSTR1 uint32
	FLMSTR2 uint32
	FLMSTR3 uint32
}

// Locked reports the bare descriptor-lock heuristic: the BIOS master's low
// region-access bits not being fully open. A locked descriptor blocks
// internal reflashing but does not brick the machine.
func (fd *FlashDescriptor) Locked() bool {
	return fd.FLMSTR1&0x0FFF != 0x0FFF
}

// findFlashDescriptor looks for the flash signature at the two historical
// locations and parses the master words. Returns nil when the image has no
// descriptor (BIOS-region-only dumps).
func findFlashDescriptor(buf []byte) *FlashDescriptor {
	if len(buf) < FlashDescriptorLength {
		return nil
	}
	var sigOff uint64
	switch {
	case bytes.Equal(buf[16:16+4], FlashSignature):
		sigOff = 16
	case bytes.Equal(buf[:4], FlashSignature):
		sigOff = 0
	default:
		return nil
	}

	fd := &FlashDescriptor{Offset: sigOff}
	m := sigOff + flmstrOffset
	if m+12 <= uint64(len(buf)) {
		fd.FLMSTR1 = binary.LittleEndian.Uint32(buf[m : m+4])
		fd.FLMSTR2 = binary.LittleEndian.Uint32(buf[m+4 : m+8])
		fd.FLMSTR3 = binary.LittleEndian.Uint32(buf[m+8 : m+12])
	}
	return fd
}
