// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/biosmod/biosmod/internal/fwtest"
	"github.com/biosmod/biosmod/pkg/bytesrange"
	"github.com/biosmod/biosmod/pkg/compression"
	"github.com/biosmod/biosmod/pkg/guid"
)

var (
	testDriverGUID = guid.MustParse("11111111-2222-3333-4455-66778899AABB")
	testSetupGUID  = guid.MustParse("DDDDDDDD-EEEE-4FFF-8888-999999999999")
	testDeadGUID   = guid.MustParse("ABABABAB-CDCD-4EFE-A0A0-B1B1B1B1B1B1")
)

// testImage builds a two-volume image: the first volume holds a driver file
// with a UI name, a raw file carrying a Setup-store payload and a deleted
// file, the second volume is empty.
func testImage(t *testing.T) []byte {
	t.Helper()
	setup := append([]byte("SETUP\x00"), make([]byte, 0x40)...)
	vol1 := fwtest.Volume(0x1000,
		fwtest.File(testDriverGUID, uint8(FVFileTypeDriver),
			fwtest.UISection("FlashUtil"),
			fwtest.RawSection([]byte{0xDE, 0xAD, 0xBE, 0xEF}),
		),
		fwtest.File(testSetupGUID, uint8(FVFileTypeRaw), fwtest.RawSection(setup)),
		fwtest.DeletedFile(testDeadGUID, uint8(FVFileTypeRaw), 0x10),
	)
	vol2 := fwtest.Volume(0x1000)
	return fwtest.Image(0, vol1, vol2)
}

func TestParseImage(t *testing.T) {
	buf := testImage(t)
	img, err := ParseImage(buf)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}

	if len(img.Volumes) != 2 {
		t.Fatalf("got %d volumes, want 2", len(img.Volumes))
	}
	if img.ErasePolarity != 0xFF {
		t.Errorf("erase polarity = %#x, want 0xFF", img.ErasePolarity)
	}

	fv := img.Volumes[0]
	if fv.Range.Offset != 0 || fv.Range.Length != 0x1000 {
		t.Errorf("first volume range = %+v, want offset 0 length 0x1000", fv.Range)
	}
	if fv.FVType != "FFS2" {
		t.Errorf("first volume type = %q, want FFS2", fv.FVType)
	}
	if img.Volumes[1].Range.Offset != 0x1000 {
		t.Errorf("second volume offset = %#x, want 0x1000", img.Volumes[1].Range.Offset)
	}

	if len(fv.Files) != 3 {
		t.Fatalf("got %d files in first volume, want 3", len(fv.Files))
	}
	driver := fv.Files[0]
	if driver.Header.Name != *testDriverGUID {
		t.Errorf("first file GUID = %v, want %v", driver.Header.Name, testDriverGUID)
	}
	if len(driver.Sections) != 2 {
		t.Fatalf("driver has %d sections, want 2", len(driver.Sections))
	}
	if got := driver.Sections[0].Name; got != "FlashUtil" {
		t.Errorf("UI section name = %q, want FlashUtil", got)
	}
	if driver.Sections[1].Header.Type != SectionTypeRaw {
		t.Errorf("second section type = %v, want raw", driver.Sections[1].Header.Type)
	}

	dead := fv.Files[2]
	if !dead.Erased {
		t.Error("deleted file not marked erased")
	}
	if len(dead.Sections) != 0 {
		t.Error("erased file should not have parsed sections")
	}

	if fv.FreeSpace == 0 {
		t.Error("first volume should report trailing free space")
	}
}

func TestParseImageSkipsCorruptVolume(t *testing.T) {
	buf := testImage(t)
	fwtest.CorruptVolumeLength(buf, 0)

	img, err := ParseImage(buf)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	if len(img.Volumes) != 1 {
		t.Fatalf("got %d volumes, want 1 after corrupting the first", len(img.Volumes))
	}
	if img.Volumes[0].Range.Offset != 0x1000 {
		t.Errorf("surviving volume offset = %#x, want 0x1000", img.Volumes[0].Range.Offset)
	}
}

func TestParseImageErrors(t *testing.T) {
	var tests = []struct {
		name string
		buf  []byte
	}{
		{"tooShort", make([]byte, 16)},
		{"noSignature", bytes.Repeat([]byte{0xFF}, 0x2000)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseImage(test.buf)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("ParseImage error = %v, want *ParseError", err)
			}
		})
	}
}

func TestSerialize(t *testing.T) {
	buf := testImage(t)
	img, err := ParseImage(buf)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	out := img.Serialize()
	if !bytes.Equal(out, buf) {
		t.Error("serialized image differs from input buffer")
	}
	if uint64(len(out)) != img.Len() {
		t.Errorf("serialized length %d != image length %d", len(out), img.Len())
	}
	// Serialize must hand out a copy, not the live buffer.
	out[0] ^= 0xFF
	if img.Buf()[0] == out[0] {
		t.Error("mutating the serialized copy changed the image buffer")
	}
}

func TestReadWriteAt(t *testing.T) {
	img, err := ParseImage(testImage(t))
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}

	r := bytesrange.Range{Offset: 0x100, Length: 4}
	if err := img.WriteAt(r, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	got, err := img.ReadAt(r)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("ReadAt = %v after WriteAt", got)
	}

	if err := img.WriteAt(r, []byte{1, 2}); err == nil {
		t.Error("WriteAt with mismatched data length should fail")
	}
	oob := bytesrange.Range{Offset: img.Len() - 2, Length: 4}
	if err := img.WriteAt(oob, []byte{1, 2, 3, 4}); err == nil {
		t.Error("WriteAt past image end should fail")
	}
	if _, err := img.ReadAt(oob); err == nil {
		t.Error("ReadAt past image end should fail")
	}
}

func TestFindSetupStore(t *testing.T) {
	img, err := ParseImage(testImage(t))
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}

	store, err := img.FindSetupStore([]byte("SETUP\x00"), 0x40)
	if err != nil {
		t.Fatalf("FindSetupStore: %v", err)
	}
	if store.Range.Length != 0x40 {
		t.Errorf("store length = %#x, want 0x40", store.Range.Length)
	}
	got, err := img.ReadAt(bytesrange.Range{Offset: store.Range.Offset, Length: 6})
	if err != nil {
		t.Fatalf("ReadAt store: %v", err)
	}
	if !bytes.Equal(got, []byte("SETUP\x00")) {
		t.Errorf("store does not start with its signature, got %v", got)
	}
	if img.Setup == nil {
		t.Error("image should remember the located store")
	}

	if _, err := img.FindSetupStore([]byte("NOPE\x00\x00"), 0x40); err == nil {
		t.Error("missing signature should be an error")
	}
	if _, err := img.FindSetupStore(nil, 0x40); err == nil {
		t.Error("empty signature should be an error")
	}
}

func TestDecodeSectionCompression(t *testing.T) {
	payload := bytes.Repeat([]byte("biosmod"), 128)
	stream, err := (&compression.LZMA{}).Encode(payload)
	if err != nil {
		t.Fatalf("lzma encode: %v", err)
	}
	sec := fwtest.CompressionSection(CompressStandard, uint32(len(payload)), stream)
	vol := fwtest.Volume(0x2000, fwtest.File(testDriverGUID, uint8(FVFileTypeDriver), sec))

	img, err := ParseImage(vol)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	f := img.Volumes[0].Files[0]
	s := f.Sections[0]
	if s.Compression == nil {
		t.Fatal("compression header not parsed")
	}
	if s.Compression.UncompressedLength != uint32(len(payload)) {
		t.Errorf("declared length = %#x, want %#x", s.Compression.UncompressedLength, len(payload))
	}

	got, err := img.DecodeSection(f, s)
	if err != nil {
		t.Fatalf("DecodeSection: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("decoded payload differs from original")
	}

	// Second decode is served from the cache.
	again, err := img.DecodeSection(f, s)
	if err != nil {
		t.Fatalf("DecodeSection (cached): %v", err)
	}
	if &got[0] != &again[0] {
		t.Error("second decode was not served from the cache")
	}

	// A write into the section's raw bytes must drop the cache entry.
	raw, err := img.ReadAt(s.Range)
	if err != nil {
		t.Fatalf("ReadAt section: %v", err)
	}
	if err := img.WriteAt(s.Range, raw); err != nil {
		t.Fatalf("WriteAt section: %v", err)
	}
	fresh, err := img.DecodeSection(f, s)
	if err != nil {
		t.Fatalf("DecodeSection (after write): %v", err)
	}
	if &fresh[0] == &again[0] {
		t.Error("cache entry survived a write into the section")
	}
}

func TestDecodeSectionSizeMismatch(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5A}, 256)
	stream, err := (&compression.LZMA{}).Encode(payload)
	if err != nil {
		t.Fatalf("lzma encode: %v", err)
	}
	sec := fwtest.CompressionSection(CompressStandard, uint32(len(payload))+1, stream)
	vol := fwtest.Volume(0x2000, fwtest.File(testDriverGUID, uint8(FVFileTypeDriver), sec))

	img, err := ParseImage(vol)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	f := img.Volumes[0].Files[0]
	_, err = img.DecodeSection(f, f.Sections[0])
	if _, ok := err.(*compression.SizeMismatchError); !ok {
		t.Fatalf("DecodeSection error = %v, want *SizeMismatchError", err)
	}
}

func TestDecodeSectionGUIDDefined(t *testing.T) {
	payload := bytes.Repeat([]byte("setupdata"), 64)
	stream, err := (&compression.LZMA{}).Encode(payload)
	if err != nil {
		t.Fatalf("lzma encode: %v", err)
	}
	sec := fwtest.GUIDDefinedSection(&compression.LZMAGUID, stream)
	vol := fwtest.Volume(0x2000, fwtest.File(testDriverGUID, uint8(FVFileTypeDriver), sec))

	img, err := ParseImage(vol)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	f := img.Volumes[0].Files[0]
	s := f.Sections[0]
	if s.GUIDDefined == nil {
		t.Fatal("GUID-defined header not parsed")
	}
	if s.GUIDDefined.GUID != compression.LZMAGUID {
		t.Errorf("section GUID = %v, want LZMA", s.GUIDDefined.GUID)
	}

	got, err := img.DecodeSection(f, s)
	if err != nil {
		t.Fatalf("DecodeSection: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("decoded payload differs from original")
	}
}

func TestRecalcVolumeChecksum(t *testing.T) {
	img, err := ParseImage(testImage(t))
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	fv := img.Volumes[0]

	// Invalidate the checksum by flipping a reserved header byte, then
	// recompute it.
	hdrByte := bytesrange.Range{Offset: fv.Range.Offset + 8, Length: 1}
	if err := img.WriteAt(hdrByte, []byte{0x5A}); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := img.RecalcVolumeChecksum(fv); err != nil {
		t.Fatalf("RecalcVolumeChecksum: %v", err)
	}

	hdr := img.Buf()[fv.Range.Offset : fv.Range.Offset+uint64(fv.HeaderLen)]
	sum, err := Checksum16(hdr)
	if err != nil {
		t.Fatalf("Checksum16: %v", err)
	}
	if sum != 0 {
		t.Errorf("header words sum to %#x after recalc, want 0", sum)
	}
	stored := binary.LittleEndian.Uint16(hdr[volumeChecksumOffset : volumeChecksumOffset+2])
	if stored != fv.Checksum {
		t.Errorf("parsed node checksum %#x not mirrored from buffer %#x", fv.Checksum, stored)
	}

	// The repaired image must parse again.
	if _, err := ParseImage(img.Serialize()); err != nil {
		t.Fatalf("reparse after recalc: %v", err)
	}
}

func TestFindFreeSpace(t *testing.T) {
	img, err := ParseImage(testImage(t))
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	fv := img.Volumes[0]

	off, ok := fv.FindFreeSpace(img.Buf(), 0x100, img.ErasePolarity)
	if !ok {
		t.Fatal("no free space found in a mostly-empty volume")
	}
	if off%16 != 0 {
		t.Errorf("free space offset %#x not 16-byte aligned", off)
	}
	if off < fv.Range.Offset+fv.DataOffset || off+0x100 > fv.Range.End() {
		t.Errorf("free space %#x outside the volume data area", off)
	}
	if !IsErased(img.Buf()[off:off+0x100], img.ErasePolarity) {
		t.Error("reported free space is not erased")
	}

	if _, ok := fv.FindFreeSpace(img.Buf(), fv.Length*2, img.ErasePolarity); ok {
		t.Error("gap larger than the volume should not be found")
	}
}

func TestFlashDescriptor(t *testing.T) {
	desc := bytes.Repeat([]byte{0xFF}, 0x1000)
	copy(desc[16:], FlashSignature)
	binary.LittleEndian.PutUint32(desc[16+flmstrOffset:], 0x00A00F00) // BIOS master locked down
	buf := append(desc, fwtest.Volume(0x1000)...)

	img, err := ParseImage(buf)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	if img.Descriptor == nil {
		t.Fatal("descriptor not found")
	}
	if img.Descriptor.Offset != 16 {
		t.Errorf("descriptor offset = %d, want 16", img.Descriptor.Offset)
	}
	if !img.Descriptor.Locked() {
		t.Error("descriptor with closed master bits should report locked")
	}

	// Fully open master bits read as unlocked.
	binary.LittleEndian.PutUint32(buf[16+flmstrOffset:], 0xFFFFFFFF)
	img2, err := ParseImage(buf)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	if img2.Descriptor.Locked() {
		t.Error("descriptor with open master bits should report unlocked")
	}

	// No signature at all: descriptor stays nil, parse succeeds.
	img3, err := ParseImage(fwtest.Volume(0x1000))
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	if img3.Descriptor != nil {
		t.Error("descriptor reported on an image without one")
	}
}

func TestVolumeAt(t *testing.T) {
	img, err := ParseImage(testImage(t))
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	if fv := img.VolumeAt(0x800); fv != img.Volumes[0] {
		t.Error("offset 0x800 should resolve to the first volume")
	}
	if fv := img.VolumeAt(0x1800); fv != img.Volumes[1] {
		t.Error("offset 0x1800 should resolve to the second volume")
	}
	if fv := img.VolumeAt(0x4000); fv != nil {
		t.Error("offset past the image should resolve to no volume")
	}
}
