// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fwtest builds small synthetic firmware images with valid
// checksums for tests. Layouts mirror what the parser expects from a real
// Dell image: FFS2 volumes, 8-byte aligned files, 4-byte aligned sections
// and 0xFF erase polarity.
package fwtest

import (
	"encoding/binary"

	"github.com/biosmod/biosmod/pkg/guid"
)

const (
	volHeaderLen  = 0x48 // fixed header + one block entry + terminator
	fileHeaderLen = 0x18
)

// FFS2 is the filesystem GUID stamped into test volumes.
var FFS2 = guid.MustParse("8C8CE578-8A3D-4F1C-9935-896185C32DD3")

// Section builds a section with the given type byte and payload.
func Section(sectionType uint8, payload []byte) []byte {
	size := 4 + len(payload)
	out := make([]byte, size)
	out[0] = byte(size)
	out[1] = byte(size >> 8)
	out[2] = byte(size >> 16)
	out[3] = sectionType
	copy(out[4:], payload)
	return out
}

// RawSection builds an EFI_SECTION_RAW with the given payload.
func RawSection(payload []byte) []byte {
	return Section(0x19, payload)
}

// UISection builds an EFI_SECTION_USER_INTERFACE carrying name as UCS-2.
func UISection(name string) []byte {
	payload := make([]byte, 0, (len(name)+1)*2)
	for _, r := range name {
		payload = append(payload, byte(r), 0)
	}
	payload = append(payload, 0, 0)
	return Section(0x15, payload)
}

// GUIDDefinedSection builds an EFI_SECTION_GUID_DEFINED wrapping data with
// the given algorithm GUID and the processing-required attribute.
func GUIDDefinedSection(alg *guid.GUID, data []byte) []byte {
	const hdr = 4 + 16 + 2 + 2
	size := hdr + len(data)
	out := make([]byte, size)
	out[0] = byte(size)
	out[1] = byte(size >> 8)
	out[2] = byte(size >> 16)
	out[3] = 0x02
	copy(out[4:20], alg[:])
	binary.LittleEndian.PutUint16(out[20:22], hdr) // DataOffset
	binary.LittleEndian.PutUint16(out[22:24], 0x01)
	copy(out[hdr:], data)
	return out
}

// CompressionSection builds an EFI_SECTION_COMPRESSION with the given
// compression type byte, declared uncompressed length, and stream.
func CompressionSection(compType uint8, uncompressedLen uint32, stream []byte) []byte {
	payload := make([]byte, 5+len(stream))
	binary.LittleEndian.PutUint32(payload[0:4], uncompressedLen)
	payload[4] = compType
	copy(payload[5:], stream)
	return Section(0x01, payload)
}

// File builds a firmware file of the given type holding the sections,
// 4-byte aligned, with a valid header checksum and the data-valid state
// byte for 0xFF polarity.
func File(name *guid.GUID, fileType uint8, sections ...[]byte) []byte {
	body := make([]byte, 0)
	for _, s := range sections {
		for len(body)%4 != 0 {
			body = append(body, 0)
		}
		body = append(body, s...)
	}
	size := fileHeaderLen + len(body)

	out := make([]byte, size)
	copy(out[0:16], name[:])
	// out[16] header checksum, filled below
	out[17] = 0xAA // empty body checksum placeholder
	out[18] = fileType
	out[19] = 0x00 // attributes
	out[20] = byte(size)
	out[21] = byte(size >> 8)
	out[22] = byte(size >> 16)
	out[23] = 0xF8 // EFI_FILE_DATA_VALID chain under 0xFF polarity
	copy(out[fileHeaderLen:], body)

	// Header checksum: sum over the header minus State and the body
	// checksum byte must be zero.
	var sum uint8
	for _, b := range out[:fileHeaderLen] {
		sum += b
	}
	sum -= out[17]
	sum -= out[23]
	out[16] = uint8(0x100 - uint16(sum))
	return out
}

// DeletedFile builds a file whose state byte marks it deleted.
func DeletedFile(name *guid.GUID, fileType uint8, bodyLen int) []byte {
	out := File(name, fileType, RawSection(make([]byte, bodyLen)))
	out[23] = 0xF8 &^ 0x10 // flip the deleted bit under 0xFF polarity
	return out
}

// Volume builds a firmware volume of exactly size bytes containing the
// files, 8-byte aligned, free space erased to 0xFF, with a valid 16-bit
// header checksum.
func Volume(size uint64, files ...[]byte) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = 0xFF
	}

	hdr := out[:volHeaderLen]
	for i := range hdr {
		hdr[i] = 0
	}
	copy(hdr[0x10:0x20], FFS2[:])
	binary.LittleEndian.PutUint64(hdr[0x20:0x28], size)
	copy(hdr[0x28:0x2C], "_FVH")
	binary.LittleEndian.PutUint32(hdr[0x2C:0x30], 0x0004F800|0x800) // attributes incl. polarity
	binary.LittleEndian.PutUint16(hdr[0x30:0x32], volHeaderLen)
	// checksum at 0x32 filled below
	hdr[0x37] = 0x02 // revision
	// Block map: one block covering the volume, then the terminator.
	binary.LittleEndian.PutUint32(hdr[0x38:0x3C], uint32(size/0x1000))
	binary.LittleEndian.PutUint32(hdr[0x3C:0x40], 0x1000)

	off := uint64(volHeaderLen)
	for _, f := range files {
		off = (off + 7) &^ 7
		copy(out[off:], f)
		off += uint64(len(f))
	}

	var sum uint16
	for i := 0; i < volHeaderLen; i += 2 {
		sum += binary.LittleEndian.Uint16(hdr[i : i+2])
	}
	binary.LittleEndian.PutUint16(hdr[0x32:0x34], uint16(0x10000-uint32(sum)))
	return out
}

// Image concatenates volumes into a flat image with pad bytes of 0xFF
// before each. pad must keep volumes 8-byte aligned.
func Image(pad uint64, volumes ...[]byte) []byte {
	var out []byte
	for _, v := range volumes {
		for i := uint64(0); i < pad; i++ {
			out = append(out, 0xFF)
		}
		out = append(out, v...)
	}
	return out
}

// CorruptVolumeLength rewrites the declared length of the volume starting
// at volOff so it exceeds the buffer.
func CorruptVolumeLength(img []byte, volOff uint64) {
	binary.LittleEndian.PutUint64(img[volOff+0x20:volOff+0x28], uint64(len(img))+0x1000)
}

// MicrocodeUpdate assembles a structurally valid Intel microcode update for
// the given CPU, 64 bytes total, with a correct dword checksum.
func MicrocodeUpdate(sig, flags uint32) []byte {
	const headerLen, dataLen = 48, 16
	out := make([]byte, headerLen+dataLen)
	binary.LittleEndian.PutUint32(out[0:4], 1)      // header version
	binary.LittleEndian.PutUint32(out[4:8], 0xCA)   // revision
	binary.LittleEndian.PutUint32(out[8:12], 0x06012024)
	binary.LittleEndian.PutUint32(out[12:16], sig)
	// out[16:20] checksum, filled below
	binary.LittleEndian.PutUint32(out[20:24], 1) // loader revision
	binary.LittleEndian.PutUint32(out[24:28], flags)
	binary.LittleEndian.PutUint32(out[28:32], dataLen)
	binary.LittleEndian.PutUint32(out[32:36], headerLen+dataLen)
	for i := headerLen; i < len(out); i += 4 {
		binary.LittleEndian.PutUint32(out[i:i+4], 0xDDCCBBAA)
	}

	var sum uint32
	for i := 0; i+4 <= len(out); i += 4 {
		sum += binary.LittleEndian.Uint32(out[i : i+4])
	}
	binary.LittleEndian.PutUint32(out[16:20], uint32(0)-sum)
	return out
}
