// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package patch

import (
	"bytes"
	"errors"
	"testing"

	"github.com/biosmod/biosmod/internal/fwtest"
	"github.com/biosmod/biosmod/pkg/bytesrange"
	"github.com/biosmod/biosmod/pkg/platform"
)

func TestValidateMicrocode(t *testing.T) {
	profile := platform.DellG55090
	update := fwtest.MicrocodeUpdate(profile.CPUID, profile.CPUFlags)

	m, err := ValidateMicrocode(profile, update)
	if err != nil {
		t.Fatalf("ValidateMicrocode: %v", err)
	}
	if m.HeaderProcessorSignature != profile.CPUID {
		t.Errorf("signature = %#x, want %#x", m.HeaderProcessorSignature, profile.CPUID)
	}
}

func TestValidateMicrocodeWrongCPU(t *testing.T) {
	// An update built for the G5 must not validate against the XPS profile.
	update := fwtest.MicrocodeUpdate(platform.DellG55090.CPUID, platform.DellG55090.CPUFlags)

	_, err := ValidateMicrocode(platform.DellXPS8940, update)
	var merr *MicrocodeInvalidError
	if !errors.As(err, &merr) {
		t.Fatalf("error %v is not a MicrocodeInvalidError", err)
	}
}

func TestValidateMicrocodeTrailingGarbage(t *testing.T) {
	profile := platform.DellG55090
	update := fwtest.MicrocodeUpdate(profile.CPUID, profile.CPUFlags)
	update = append(update, 0x00, 0x00, 0x00, 0x00)

	_, err := ValidateMicrocode(profile, update)
	var merr *MicrocodeInvalidError
	if !errors.As(err, &merr) {
		t.Fatalf("error %v is not a MicrocodeInvalidError", err)
	}
}

func TestMicrocodePatchAutoOffset(t *testing.T) {
	img, profile := setupImage(t)
	update := fwtest.MicrocodeUpdate(profile.CPUID, profile.CPUFlags)

	p, err := MicrocodePatch(img, profile, update, AutoOffset)
	if err != nil {
		t.Fatalf("MicrocodePatch: %v", err)
	}
	if !p.Critical {
		t.Error("microcode patch must be critical")
	}
	if p.Offset == 0 || p.Offset >= img.Len() {
		t.Fatalf("implausible staging offset %#x", p.Offset)
	}

	// The chosen gap must be erased before the patch lands.
	gap, err := img.ReadAt(bytesrange.Range{Offset: p.Offset, Length: uint64(len(update))})
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for _, b := range gap {
		if b != 0xFF {
			t.Fatalf("staging offset %#x is not erased", p.Offset)
		}
	}

	if _, err := Apply(img, profile, []Patch{p}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, err := img.ReadAt(bytesrange.Range{Offset: p.Offset, Length: uint64(len(update))})
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, update) {
		t.Error("injected microcode does not read back")
	}
	if !volumeChecksumValid(t, img, img.Volumes[0]) {
		t.Error("volume checksum invalid after injection")
	}
}

func TestMicrocodePatchExplicitOffset(t *testing.T) {
	img, profile := setupImage(t)
	update := fwtest.MicrocodeUpdate(profile.CPUID, profile.CPUFlags)

	const offset = 0x2000
	p, err := MicrocodePatch(img, profile, update, offset)
	if err != nil {
		t.Fatalf("MicrocodePatch: %v", err)
	}
	if p.Offset != offset {
		t.Errorf("offset = %#x, want %#x", p.Offset, offset)
	}
}

func TestMicrocodePatchNoFreeSpace(t *testing.T) {
	img, profile := setupImage(t)
	update := fwtest.MicrocodeUpdate(profile.CPUID, profile.CPUFlags)

	// Fill the volume's free space so first-fit has nowhere to go.
	fv := img.Volumes[0]
	tail := bytesrange.Range{
		Offset: fv.Range.Offset + fv.Length - fv.FreeSpace,
		Length: fv.FreeSpace,
	}
	if err := img.WriteAt(tail, bytes.Repeat([]byte{0x5A}, int(tail.Length))); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	_, err := MicrocodePatch(img, profile, update, AutoOffset)
	var terr *TargetUnavailableError
	if !errors.As(err, &terr) {
		t.Fatalf("error %v is not a TargetUnavailableError", err)
	}
}
