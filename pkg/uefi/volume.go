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

// FirmwareVolume constants
const (
	FirmwareVolumeFixedHeaderSize  = 56
	FirmwareVolumeMinSize          = FirmwareVolumeFixedHeaderSize + 8 // +8 for the null block that terminates the block list
	FirmwareVolumeExtHeaderMinSize = 20

	// volumeSignatureOffset is where "_FVH" sits inside the volume header.
	volumeSignatureOffset = 40
	// volumeChecksumOffset is where the 16-bit header checksum sits.
	volumeChecksumOffset = 0x32
)

// volumeSignature is the 4-byte marker of a firmware volume header.
var volumeSignature = []byte("_FVH")

// Valid FV filesystem GUIDs.
var (
	FFS1 = guid.MustParse("7A9354D9-0468-444A-81CE-0BF617D890DF")
	FFS2 = guid.MustParse("8C8CE578-8A3D-4F1C-9935-896185C32DD3")
	FFS3 = guid.MustParse("5473C07A-3DCB-4DCA-BD6F-1E9689E7349A")
	NVAR = guid.MustParse("CEF5B9A3-476D-497F-9FDC-E98143E0422C")
)

// FVGUIDs holds common FV type names.
var FVGUIDs = map[guid.GUID]string{
	*FFS1: "FFS1",
	*FFS2: "FFS2",
	*FFS3: "FFS3",
	*NVAR: "NVRAM_NVAR",
}

// We only walk files inside FFS2 and FFS3 volumes. Everything else keeps
// its bytes but stays opaque.
var supportedFVs = map[guid.GUID]bool{
	*FFS2: true,
	*FFS3: true,
}

// Block describes number and size of the firmware volume blocks.
type Block struct {
	Count uint32
	Size  uint32
}

// FirmwareVolumeFixedHeader contains the fixed fields of a firmware volume
// header.
type FirmwareVolumeFixedHeader struct {
	_               [16]uint8
	FileSystemGUID  guid.GUID
	Length          uint64
	Signature       uint32
	Attributes      uint32
	HeaderLen       uint16
	Checksum        uint16
	ExtHeaderOffset uint16
	Reserved        uint8 `json:"-"`
	Revision        uint8
}

// FirmwareVolumeExtHeader contains the fields of an extended firmware
// volume header.
type FirmwareVolumeExtHeader struct {
	FVName        guid.GUID
	ExtHeaderSize uint32
}

// FirmwareVolume represents one firmware volume inside an image. The node
// stores its absolute byte range so the patch engine can translate a
// logical edit into a flat-buffer offset.
type FirmwareVolume struct {
	FirmwareVolumeFixedHeader
	Blocks []Block
	FirmwareVolumeExtHeader
	Files []*File `json:",omitempty"`

	// DataOffset is where file data starts, relative to the volume.
	DataOffset uint64
	// Range is the volume's absolute position in the image buffer.
	Range  bytesrange.Range
	FVType string `json:"-"`
	// FreeSpace is the run of erased bytes at the end of the volume.
	FreeSpace uint64 `json:"-"`
}

// ErasePolarity returns the erase polarity declared by the volume
// attributes.
func (fv *FirmwareVolume) ErasePolarity() byte {
	if fv.Attributes&0x800 != 0 {
		return 0xFF
	}
	return 0
}

// String creates a string representation for the firmware volume.
func (fv FirmwareVolume) String() string {
	if fv.ExtHeaderOffset != 0 {
		return fv.FVName.String()
	}
	return fv.FileSystemGUID.String()
}

// validateVolumeHeader checks the invariants a volume candidate must hold
// before it is accepted: valid 16-bit header checksum and a declared length
// that fits the remaining buffer. Any violation makes the candidate a false
// positive, not a parse failure.
func validateVolumeHeader(data []byte, hdr *FirmwareVolumeFixedHeader) error {
	if hdr.HeaderLen < FirmwareVolumeFixedHeaderSize || uint64(hdr.HeaderLen) > hdr.Length {
		return fmt.Errorf("header length %#x out of range", hdr.HeaderLen)
	}
	if hdr.Length > uint64(len(data)) {
		return fmt.Errorf("declared length %#x exceeds remaining buffer %#x", hdr.Length, len(data))
	}
	if int(hdr.HeaderLen) > len(data) {
		return fmt.Errorf("header length %#x exceeds remaining buffer", hdr.HeaderLen)
	}
	sum, err := Checksum16(data[:hdr.HeaderLen])
	if err != nil {
		return err
	}
	if sum != 0 {
		return fmt.Errorf("header checksum invalid, sum was %#x", sum)
	}
	return nil
}

// newFirmwareVolume parses a volume starting at data[0], which is absolute
// offset fvOffset inside the image. data extends to the end of the image.
func newFirmwareVolume(data []byte, fvOffset uint64) (*FirmwareVolume, error) {
	if len(data) < FirmwareVolumeMinSize {
		return nil, fmt.Errorf("firmware volume size too small: expected %v bytes, got %v",
			FirmwareVolumeMinSize, len(data))
	}

	fv := FirmwareVolume{}
	reader := bytes.NewReader(data)
	if err := binary.Read(reader, binary.LittleEndian, &fv.FirmwareVolumeFixedHeader); err != nil {
		return nil, err
	}
	if !bytes.Equal(data[volumeSignatureOffset:volumeSignatureOffset+4], volumeSignature) {
		return nil, fmt.Errorf("no _FVH signature at offset %#x", fvOffset)
	}
	if err := validateVolumeHeader(data, &fv.FirmwareVolumeFixedHeader); err != nil {
		return nil, err
	}

	// Read the block map up to the terminating null block.
	for {
		var block Block
		if err := binary.Read(reader, binary.LittleEndian, &block); err != nil {
			return nil, err
		}
		if block.Count == 0 && block.Size == 0 {
			break
		}
		fv.Blocks = append(fv.Blocks, block)
	}

	// Parse the extended header and figure out the start of data.
	fv.DataOffset = uint64(fv.HeaderLen)
	if fv.ExtHeaderOffset != 0 &&
		fv.Length >= FirmwareVolumeExtHeaderMinSize &&
		uint64(fv.ExtHeaderOffset) < fv.Length-FirmwareVolumeExtHeaderMinSize {

		r := bytes.NewReader(data[fv.ExtHeaderOffset:])
		if err := binary.Read(r, binary.LittleEndian, &fv.FirmwareVolumeExtHeader); err != nil {
			return nil, fmt.Errorf("unable to parse FV extended header, got: %v", err)
		}
		fv.DataOffset = uint64(fv.ExtHeaderOffset) + uint64(fv.ExtHeaderSize)
	}
	fv.DataOffset = Align8(fv.DataOffset)

	fv.FVType = FVGUIDs[fv.FileSystemGUID]
	fv.Range = bytesrange.Range{Offset: fvOffset, Length: fv.Length}

	fv.parseFiles(data[:fv.Length], fv.ErasePolarity())
	return &fv, nil
}

// parseFiles walks the files inside the volume. File-level anomalies stop
// the walk with a warning but keep the files parsed so far.
func (fv *FirmwareVolume) parseFiles(data []byte, polarity byte) {
	if _, ok := supportedFVs[fv.FileSystemGUID]; !ok {
		log.Warnf("unsupported fv type %v,%v, not walking its files", fv.FileSystemGUID, fv.FVType)
		return
	}
	if fv.DataOffset >= fv.Length {
		log.Warnf("fv %v data offset %#x beyond volume length %#x", fv, fv.DataOffset, fv.Length)
		return
	}

	lh := fv.Length - FileHeaderMinLength
	var prevLen uint64
	for offset := fv.DataOffset; offset < lh; offset += prevLen {
		offset = Align8(offset)
		if offset >= lh {
			break
		}
		file, err := newFile(data[offset:], fv.Range.Offset+offset, polarity)
		if err != nil {
			log.Warnf("stopping file walk in fv %v at offset %#x: %v", fv, offset, err)
			break
		}
		if file == nil {
			// Reached free space at the end of the volume.
			fv.FreeSpace = fv.Length - offset
			break
		}
		fv.Files = append(fv.Files, file)
		prevLen = file.Header.ExtendedSize
	}
}

// FindFreeSpace scans the volume's data area for a contiguous erased gap of
// at least size bytes on a 16-byte grid. It returns the absolute offset of
// the first sufficiently large gap. It never splits or moves files.
func (fv *FirmwareVolume) FindFreeSpace(buf []byte, size uint64, polarity byte) (uint64, bool) {
	if size == 0 || fv.Length < size {
		return 0, false
	}
	start := fv.Range.Offset + fv.DataOffset
	end := fv.Range.Offset + fv.Length
	for off := Align(start, 16); off+size <= end; off += 16 {
		if IsErased(buf[off:off+size], polarity) {
			return off, true
		}
	}
	return 0, false
}
