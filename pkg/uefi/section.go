// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/biosmod/biosmod/pkg/bytesrange"
	"github.com/biosmod/biosmod/pkg/guid"
)

const (
	// SectionMinLength is the minimum length of a file section header.
	SectionMinLength = 0x08
	// SectionExtHeaderSize is the header size with the 32-bit extended size.
	SectionExtHeaderSize = 0x08
	// SectionHeaderSize is the common 4-byte section header size.
	SectionHeaderSize = 0x04
)

// SectionType holds a section type value.
type SectionType uint8

// UEFI Section types.
const (
	SectionTypeAll                 SectionType = 0x00
	SectionTypeCompression         SectionType = 0x01
	SectionTypeGUIDDefined         SectionType = 0x02
	SectionTypeDisposable          SectionType = 0x03
	SectionTypePE32                SectionType = 0x10
	SectionTypePIC                 SectionType = 0x11
	SectionTypeTE                  SectionType = 0x12
	SectionTypeDXEDepEx            SectionType = 0x13
	SectionTypeVersion             SectionType = 0x14
	SectionTypeUserInterface       SectionType = 0x15
	SectionTypeCompatibility16     SectionType = 0x16
	SectionTypeFirmwareVolumeImage SectionType = 0x17
	SectionTypeFreeformSubtypeGUID SectionType = 0x18
	SectionTypeRaw                 SectionType = 0x19
	SectionTypePEIDepEx            SectionType = 0x1b
)

var sectionNames = map[SectionType]string{
	SectionTypeCompression:         "EFI_SECTION_COMPRESSION",
	SectionTypeGUIDDefined:         "EFI_SECTION_GUID_DEFINED",
	SectionTypeDisposable:          "EFI_SECTION_DISPOSABLE",
	SectionTypePE32:                "EFI_SECTION_PE32",
	SectionTypePIC:                 "EFI_SECTION_PIC",
	SectionTypeTE:                  "EFI_SECTION_TE",
	SectionTypeDXEDepEx:            "EFI_SECTION_DXE_DEPEX",
	SectionTypeVersion:             "EFI_SECTION_VERSION",
	SectionTypeUserInterface:       "EFI_SECTION_USER_INTERFACE",
	SectionTypeCompatibility16:     "EFI_SECTION_COMPATIBILITY16",
	SectionTypeFirmwareVolumeImage: "EFI_SECTION_FIRMWARE_VOLUME_IMAGE",
	SectionTypeFreeformSubtypeGUID: "EFI_SECTION_FREEFORM_SUBTYPE_GUID",
	SectionTypeRaw:                 "EFI_SECTION_RAW",
	SectionTypePEIDepEx:            "EFI_SECTION_PEI_DEPEX",
}

// String returns the EFI spec name of the section type, or the hex value
// for kinds we keep opaque.
func (t SectionType) String() string {
	if s, ok := sectionNames[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_SECTION_%#02x", uint8(t))
}

// Compression types inside an EFI_SECTION_COMPRESSION payload.
const (
	CompressNone     uint8 = 0x00
	CompressStandard uint8 = 0x01
	CompressCustom   uint8 = 0x02
)

// SectionHeader represents an EFI_COMMON_SECTION_HEADER.
type SectionHeader struct {
	Size [3]uint8 `json:"-"`
	Type SectionType
}

// SectionExtHeader represents an EFI_COMMON_SECTION_HEADER2 with the 32-bit
// extended size. The small size is always copied into ExtendedSize.
type SectionExtHeader struct {
	SectionHeader
	ExtendedSize uint32 `json:"-"`
}

// SectionGUIDDefinedHeader contains the fields of an
// EFI_SECTION_GUID_DEFINED encapsulation header.
type SectionGUIDDefinedHeader struct {
	GUID       guid.GUID
	DataOffset uint16
	Attributes uint16
}

// GUIDed section attribute bits.
const (
	GUIDEDSectionProcessingRequired uint16 = 0x01
)

// SectionCompressionHeader contains the fields of an
// EFI_SECTION_COMPRESSION payload header.
type SectionCompressionHeader struct {
	UncompressedLength uint32
	CompressionType    uint8
}

// Section represents a firmware file section. Unknown section kinds are
// retained as opaque blobs.
type Section struct {
	Header SectionExtHeader
	// Range is the section's absolute position in the image buffer,
	// including its header.
	Range bytesrange.Range
	// Index is the section's position within its file.
	Index int

	// Name is set for EFI_SECTION_USER_INTERFACE.
	Name string `json:",omitempty"`

	// GUIDDefined is set for EFI_SECTION_GUID_DEFINED.
	GUIDDefined *SectionGUIDDefinedHeader `json:",omitempty"`
	// Compression is set for EFI_SECTION_COMPRESSION.
	Compression *SectionCompressionHeader `json:",omitempty"`

	headerSize uint64
}

// HeaderSize returns the size of the serialized section header.
func (s *Section) HeaderSize() uint64 {
	return s.headerSize
}

// PayloadRange returns the absolute range of the section payload, i.e. the
// section minus its common header.
func (s *Section) PayloadRange() bytesrange.Range {
	return bytesrange.Range{
		Offset: s.Range.Offset + s.headerSize,
		Length: s.Range.Length - s.headerSize,
	}
}

// ucs2Decoder converts the UCS-2 strings of UI sections.
var ucs2Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// newSection parses a section at buf[0], absolute offset sectionOffset.
func newSection(buf []byte, sectionOffset uint64, index int) (*Section, error) {
	s := Section{Index: index}
	r := bytes.NewReader(buf)
	if err := binary.Read(r, binary.LittleEndian, &s.Header.SectionHeader); err != nil {
		return nil, err
	}

	s.headerSize = SectionHeaderSize
	if s.Header.Size == [3]uint8{0xFF, 0xFF, 0xFF} {
		// Extended header.
		if err := binary.Read(r, binary.LittleEndian, &s.Header.ExtendedSize); err != nil {
			return nil, err
		}
		if s.Header.ExtendedSize == 0xFFFFFFFF {
			return nil, errors.New("section size and extended size are all FFs, there should not be free space inside a file")
		}
		s.headerSize = SectionExtHeaderSize
	} else {
		s.Header.ExtendedSize = uint32(Read3Size(s.Header.Size))
	}

	if uint64(s.Header.ExtendedSize) < s.headerSize {
		return nil, fmt.Errorf("section size %#x smaller than its header", s.Header.ExtendedSize)
	}
	if buflen := uint64(len(buf)); uint64(s.Header.ExtendedSize) > buflen {
		return nil, fmt.Errorf("section has size %#x, but buffer is %#x bytes big",
			s.Header.ExtendedSize, buflen)
	}
	s.Range = bytesrange.Range{Offset: sectionOffset, Length: uint64(s.Header.ExtendedSize)}
	sbuf := buf[:s.Header.ExtendedSize]

	// Section type specific data. Unknown kinds stay opaque on purpose.
	switch s.Header.Type {
	case SectionTypeGUIDDefined:
		gh := &SectionGUIDDefinedHeader{}
		if err := binary.Read(r, binary.LittleEndian, gh); err != nil {
			return nil, err
		}
		if uint64(gh.DataOffset) > uint64(len(sbuf)) {
			return nil, fmt.Errorf("GUID-defined data offset %#x beyond section end", gh.DataOffset)
		}
		s.GUIDDefined = gh

	case SectionTypeCompression:
		ch := &SectionCompressionHeader{}
		if err := binary.Read(r, binary.LittleEndian, ch); err != nil {
			return nil, err
		}
		s.Compression = ch

	case SectionTypeUserInterface:
		name, err := ucs2Decoder.NewDecoder().Bytes(sbuf[s.headerSize:])
		if err == nil {
			s.Name = strings.TrimRight(string(name), "\x00")
		}
	}

	return &s, nil
}
