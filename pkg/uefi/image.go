// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/biosmod/biosmod/pkg/bytesrange"
	"github.com/biosmod/biosmod/pkg/compression"
	"github.com/biosmod/biosmod/pkg/guid"
	"github.com/biosmod/biosmod/pkg/log"
)

// SetupStore locates the decoded region holding named BIOS settings as
// fixed-offset fields.
type SetupStore struct {
	Range     bytesrange.Range
	Signature []byte
}

// sectionKey identifies one decoded section for the image's decode cache.
type sectionKey struct {
	File  guid.GUID
	Index int
}

type cacheEntry struct {
	data []byte
	r    bytesrange.Range
}

// Image is the raw firmware buffer plus its parsed tree. The image owns the
// buffer; all writes must go through WriteAt so bounds stay checked and the
// section decode cache stays coherent.
type Image struct {
	buf []byte

	Volumes    []*FirmwareVolume
	Descriptor *FlashDescriptor `json:",omitempty"`
	Setup      *SetupStore      `json:",omitempty"`

	// ErasePolarity is 0xFF or 0x00, taken from the first parsed volume.
	ErasePolarity byte

	cache map[sectionKey]cacheEntry
}

// ParseImage decodes a raw image into its tree of volumes, files and
// sections. The image takes ownership of buf.
//
// A candidate volume with an invalid checksum or an impossible length is a
// false positive and is skipped; the parse fails only when the buffer is
// shorter than a volume header or no volume is found at all.
func ParseImage(buf []byte) (*Image, error) {
	if len(buf) < FirmwareVolumeMinSize {
		return nil, &ParseError{Reason: fmt.Sprintf("buffer is %d bytes, shorter than a volume header", len(buf))}
	}

	img := &Image{
		buf:           buf,
		ErasePolarity: 0xFF,
		cache:         make(map[sectionKey]cacheEntry),
	}
	img.Descriptor = findFlashDescriptor(buf)

	// Volume signatures sit 40 bytes into the volume header, at 8-byte
	// aligned candidate offsets.
	end := uint64(len(buf))
	for sigOff := uint64(volumeSignatureOffset); sigOff+4 <= end; sigOff += 8 {
		if !bytes.Equal(buf[sigOff:sigOff+4], volumeSignature) {
			continue
		}
		volOff := sigOff - volumeSignatureOffset
		fv, err := newFirmwareVolume(buf[volOff:], volOff)
		if err != nil {
			log.Warnf("skipping volume candidate at %#x: %v", volOff, err)
			continue
		}
		if len(img.Volumes) == 0 {
			img.ErasePolarity = fv.ErasePolarity()
		}
		img.Volumes = append(img.Volumes, fv)
		// Resume scanning after this volume.
		next := Align8(volOff + fv.Length)
		if next <= volOff {
			break
		}
		sigOff = next + volumeSignatureOffset - 8
	}

	if len(img.Volumes) == 0 {
		return nil, &ParseError{Reason: "no firmware volume signature found"}
	}
	return img, nil
}

// ParseFile reads and parses the image at path.
func ParseFile(path string) (*Image, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseImage(buf)
}

// Len returns the total image length in bytes.
func (img *Image) Len() uint64 {
	return uint64(len(img.buf))
}

// Buf exposes the raw buffer for read-only scans. Mutations must go through
// WriteAt.
func (img *Image) Buf() []byte {
	return img.buf
}

// Serialize returns a copy of the flat image buffer. Patches never resize
// the container, so the output length always equals the input length.
func (img *Image) Serialize() []byte {
	out := make([]byte, len(img.buf))
	copy(out, img.buf)
	return out
}

// ReadAt returns a copy of the bytes in the given absolute range.
func (img *Image) ReadAt(r bytesrange.Range) ([]byte, error) {
	if r.End() > img.Len() || r.End() < r.Offset {
		return nil, fmt.Errorf("read range %v out of image bounds %#x", r, img.Len())
	}
	out := make([]byte, r.Length)
	copy(out, img.buf[r.Offset:r.End()])
	return out, nil
}

// WriteAt writes data over the given absolute range and drops any cached
// section decode whose raw bytes the write touched.
func (img *Image) WriteAt(r bytesrange.Range, data []byte) error {
	if uint64(len(data)) != r.Length {
		return fmt.Errorf("write of %d bytes does not match range %v", len(data), r)
	}
	if r.End() > img.Len() || r.End() < r.Offset {
		return fmt.Errorf("write range %v out of image bounds %#x", r, img.Len())
	}
	copy(img.buf[r.Offset:r.End()], data)
	for key, entry := range img.cache {
		if entry.r.Intersect(r) {
			delete(img.cache, key)
		}
	}
	return nil
}

// FindSetupStore scans the image for the platform's Setup store signature
// at 4-byte aligned offsets and records a window of length storeLen from
// it. A missing store is reported, not fatal: settings patching degrades.
func (img *Image) FindSetupStore(signature []byte, storeLen uint64) (*SetupStore, error) {
	if len(signature) == 0 {
		return nil, fmt.Errorf("empty setup store signature")
	}
	sigLen := uint64(len(signature))
	for off := uint64(0); off+sigLen <= img.Len(); off += 4 {
		if !bytes.Equal(img.buf[off:off+sigLen], signature) {
			continue
		}
		length := storeLen
		if off+length > img.Len() {
			length = img.Len() - off
		}
		img.Setup = &SetupStore{
			Range:     bytesrange.Range{Offset: off, Length: length},
			Signature: signature,
		}
		log.Infof("found Setup store at %#x (%#x bytes)", off, length)
		return img.Setup, nil
	}
	return nil, fmt.Errorf("setup store signature %q not found", signature)
}

// DecodeSection returns the decoded payload of one section, memoized by
// (file GUID, section index). The cache entry is dropped whenever the
// section's raw bytes are patched.
func (img *Image) DecodeSection(f *File, s *Section) ([]byte, error) {
	key := sectionKey{File: f.Header.Name, Index: s.Index}
	if entry, ok := img.cache[key]; ok {
		return entry.data, nil
	}

	data, err := img.decodeSection(s)
	if err != nil {
		return nil, err
	}
	img.cache[key] = cacheEntry{data: data, r: s.Range}
	return data, nil
}

func (img *Image) decodeSection(s *Section) ([]byte, error) {
	payload := s.PayloadRange()
	if payload.End() > img.Len() {
		return nil, fmt.Errorf("section payload %v out of image bounds", payload)
	}
	raw := img.buf[payload.Offset:payload.End()]

	switch s.Header.Type {
	case SectionTypeCompression:
		if s.Compression == nil {
			return nil, fmt.Errorf("compression section without payload header")
		}
		const hdrLen = 5 // UncompressedLength + CompressionType
		if uint64(len(raw)) < hdrLen {
			return nil, fmt.Errorf("compression section too short")
		}
		comp := raw[hdrLen:]
		if s.Compression.CompressionType == CompressNone {
			return dup(comp), nil
		}
		// Dell images carry both LZMA and zlib behind the standard
		// compression type byte. Try LZMA first, as the original does.
		decoded, err := (&compression.LZMA{}).Decode(comp)
		if err != nil {
			decoded, err = (&compression.RawZLIB{}).Decode(comp)
		}
		if err != nil {
			return nil, fmt.Errorf("standard compression section: %w", err)
		}
		if uint64(len(decoded)) != uint64(s.Compression.UncompressedLength) {
			return nil, &compression.SizeMismatchError{
				Declared: uint64(s.Compression.UncompressedLength),
				Got:      uint64(len(decoded)),
			}
		}
		return decoded, nil

	case SectionTypeGUIDDefined:
		gh := s.GUIDDefined
		if gh == nil {
			return nil, fmt.Errorf("GUID-defined section without encapsulation header")
		}
		start := uint64(gh.DataOffset)
		if start < s.HeaderSize() || start > s.Range.Length {
			return nil, fmt.Errorf("GUID-defined data offset %#x out of section", start)
		}
		encap := img.buf[s.Range.Offset+start : s.Range.End()]
		if gh.Attributes&GUIDEDSectionProcessingRequired == 0 {
			// No processing needed, data is in the clear.
			return dup(encap), nil
		}
		c, err := compression.CompressorFromGUID(&gh.GUID)
		if err != nil {
			return nil, err
		}
		return c.Decode(encap)

	default:
		// Raw and unknown kinds return their payload unchanged.
		return dup(raw), nil
	}
}

// RecalcVolumeChecksum rewrites the 16-bit header checksum of the volume so
// the header words sum to zero again, and mirrors the value into the parsed
// node. Must be called for every volume a patch batch touched.
func (img *Image) RecalcVolumeChecksum(fv *FirmwareVolume) error {
	hdrRange := bytesrange.Range{Offset: fv.Range.Offset, Length: uint64(fv.HeaderLen)}
	if hdrRange.End() > img.Len() {
		return fmt.Errorf("volume header %v out of image bounds", hdrRange)
	}
	hdr := img.buf[hdrRange.Offset:hdrRange.End()]

	// Zero the stored checksum, sum the header, store the complement.
	binary.LittleEndian.PutUint16(hdr[volumeChecksumOffset:volumeChecksumOffset+2], 0)
	sum, err := Checksum16(hdr)
	if err != nil {
		return err
	}
	checksum := uint16(0x10000 - uint32(sum))
	binary.LittleEndian.PutUint16(hdr[volumeChecksumOffset:volumeChecksumOffset+2], checksum)
	fv.Checksum = checksum
	return nil
}

// VolumeAt returns the volume whose range covers the absolute offset, if
// any.
func (img *Image) VolumeAt(offset uint64) *FirmwareVolume {
	for _, fv := range img.Volumes {
		if fv.Range.Offset <= offset && offset < fv.Range.End() {
			return fv
		}
	}
	return nil
}

func dup(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
