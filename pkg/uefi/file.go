// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/biosmod/biosmod/pkg/bytesrange"
	"github.com/biosmod/biosmod/pkg/guid"
	"github.com/biosmod/biosmod/pkg/log"
)

// FVFileType represents the different types possible in an EFI file.
type FVFileType uint8

// UEFI FV File types.
const (
	FVFileTypeAll FVFileType = iota
	FVFileTypeRaw
	FVFileTypeFreeForm
	FVFileTypeSECCore
	FVFileTypePEICore
	FVFileTypeDXECore
	FVFileTypePEIM
	FVFileTypeDriver
	FVFileTypeCombinedPEIMDriver
	FVFileTypeApplication
	FVFileTypeSMM
	FVFileTypeVolumeImage
	FVFileTypeCombinedSMMDXE
	FVFileTypeSMMCore
	FVFileTypePad FVFileType = 0xF0
)

const (
	// FileHeaderMinLength is the minimum length of a firmware file header.
	FileHeaderMinLength = 0x18
	// FileHeaderExtMinLength is the minimum length of an extended firmware file header.
	FileHeaderExtMinLength = 0x20
	// emptyBodyChecksum is the placeholder byte when the body is not checksummed.
	emptyBodyChecksum uint8 = 0xAA

	// fileStateDeleted marks a file slot that was logically erased.
	fileStateDeleted = 0x10
)

// IntegrityCheck holds the two 8 bit checksums for the file header and body
// separately.
type IntegrityCheck struct {
	Header uint8
	File   uint8
}

// FileAttr is the file attribute byte.
type FileAttr uint8

// IsLarge checks if the large file attribute is set.
func (a FileAttr) IsLarge() bool {
	return a&0x01 != 0
}

// HasChecksum checks if the file body carries a checksum.
func (a FileAttr) HasChecksum() bool {
	return a&0x40 != 0
}

// FileHeader represents an EFI File header.
type FileHeader struct {
	Name       guid.GUID
	Checksum   IntegrityCheck
	Type       FVFileType
	Attributes FileAttr
	Size       [3]uint8
	State      uint8
}

// FileHeaderExtended represents an EFI File header with the large-file
// attribute set. It doubles as the generic header for all files; the small
// 3-byte size is always copied into ExtendedSize so callers check one
// field.
type FileHeaderExtended struct {
	FileHeader
	ExtendedSize uint64
}

// File represents one firmware file inside a volume.
type File struct {
	Header FileHeaderExtended
	// Range is the file's absolute position in the image buffer.
	Range bytesrange.Range
	// Erased marks a file whose state byte says it was deleted. Erased
	// files stay in the tree so their space can be found and reused.
	Erased   bool
	Sections []*Section `json:",omitempty"`
}

func (f *File) String() string {
	return f.Header.Name.String()
}

// headerSize returns the length of the serialized header.
func (f *File) headerSize() uint64 {
	if f.Header.Attributes.IsLarge() {
		return FileHeaderExtMinLength
	}
	return FileHeaderMinLength
}

// validateHeaderChecksum sums the header without State and
// IntegrityCheck.File, which must come to zero.
func (f *File) validateHeaderChecksum(buf []byte) error {
	sum := Checksum8(buf[:f.headerSize()])
	sum -= f.Header.Checksum.File
	sum -= f.Header.State
	if sum != 0 {
		return fmt.Errorf("file %v header checksum failure, sum was %#x", f, sum)
	}
	return nil
}

// newFile parses a file at buf[0], absolute offset fileOffset. A nil file
// with nil error means the walk reached volume free space.
func newFile(buf []byte, fileOffset uint64, polarity byte) (*File, error) {
	f := File{}
	r := bytes.NewReader(buf)
	if err := binary.Read(r, binary.LittleEndian, &f.Header.FileHeader); err != nil {
		return nil, err
	}

	if f.Header.Name.IsBlank() && polarity == 0xFF || f.Header.Name.IsZero() && polarity == 0 {
		// Start of free space, not a file.
		return nil, nil
	}

	if f.Header.Size == [3]uint8{0xFF, 0xFF, 0xFF} {
		// Extended header.
		if err := binary.Read(r, binary.LittleEndian, &f.Header.ExtendedSize); err != nil {
			return nil, err
		}
		if f.Header.ExtendedSize == 0xFFFFFFFFFFFFFFFF {
			return nil, nil
		}
	} else {
		f.Header.ExtendedSize = Read3Size(f.Header.Size)
	}

	if f.Header.ExtendedSize < FileHeaderMinLength {
		return nil, fmt.Errorf("file %v declared size %#x smaller than its header",
			&f, f.Header.ExtendedSize)
	}
	if buflen := uint64(len(buf)); f.Header.ExtendedSize > buflen {
		return nil, fmt.Errorf("file %v has size %#x, but only %#x bytes remain in the volume",
			&f, f.Header.ExtendedSize, buflen)
	}

	f.Range = bytesrange.Range{Offset: fileOffset, Length: f.Header.ExtendedSize}
	fbuf := buf[:f.Header.ExtendedSize]

	// A deleted state or a bad header checksum makes the file erased, not
	// an error: the slot is kept for free-space reuse and skipped by
	// everything else.
	state := f.Header.State ^ polarity
	if state&fileStateDeleted != 0 {
		f.Erased = true
		return &f, nil
	}
	if err := f.validateHeaderChecksum(fbuf); err != nil {
		log.Warnf("%v, treating file as erased", err)
		f.Erased = true
		return &f, nil
	}

	if f.Header.Type != FVFileTypePad {
		f.parseSections(fbuf)
	}
	return &f, nil
}

// parseSections walks the file's sections by declared section length with
// 4-byte alignment padding. Section anomalies stop the walk with a warning.
func (f *File) parseSections(fbuf []byte) {
	offset := f.headerSize()
	for i := 0; offset+SectionMinLength <= uint64(len(fbuf)); i++ {
		s, err := newSection(fbuf[offset:], f.Range.Offset+offset, i)
		if err != nil {
			log.Warnf("stopping section walk in file %v at offset %#x: %v", f, offset, err)
			break
		}
		f.Sections = append(f.Sections, s)
		offset = Align4(offset + uint64(s.Header.ExtendedSize))
	}
}
