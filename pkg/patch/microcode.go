// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package patch

import (
	"fmt"

	"github.com/biosmod/biosmod/pkg/log"
	"github.com/biosmod/biosmod/pkg/microcode"
	"github.com/biosmod/biosmod/pkg/platform"
	"github.com/biosmod/biosmod/pkg/uefi"
)

// ValidateMicrocode checks an update against the profile's CPU before any
// injection: structure and checksums via the microcode parser, declared
// size against the actual payload, and a CPUID plus platform-flags match.
// Any failure is a MicrocodeInvalidError and nothing gets written.
func ValidateMicrocode(profile *platform.Profile, data []byte) (*microcode.Microcode, error) {
	m, err := microcode.ParseBytes(data)
	if err != nil {
		return nil, &MicrocodeInvalidError{Reason: err.Error()}
	}
	if uint64(len(data)) != uint64(m.TotalSize()) {
		return nil, &MicrocodeInvalidError{
			Reason: fmt.Sprintf("declared total size %#x, got %#x bytes", m.TotalSize(), len(data))}
	}
	if !m.Matches(profile.CPUID, profile.CPUFlags) {
		return nil, &MicrocodeInvalidError{
			Reason: fmt.Sprintf("update targets CPUID %#08x/pf %#x, platform expects %#08x/pf %#x",
				m.HeaderProcessorSignature, m.HeaderProcessorFlags, profile.CPUID, profile.CPUFlags)}
	}
	return m, nil
}

// MicrocodePatch validates an update and stages it at offset. An offset of
// AutoOffset picks the first sufficiently large erased gap in any volume.
// The patch is critical: injected microcode is always read back.
func MicrocodePatch(img *uefi.Image, profile *platform.Profile, data []byte, offset uint64) (Patch, error) {
	m, err := ValidateMicrocode(profile, data)
	if err != nil {
		return Patch{}, err
	}

	if offset == AutoOffset {
		off, ok := findFreeSpace(img, uint64(len(data)))
		if !ok {
			return Patch{}, &TargetUnavailableError{
				Target: "microcode",
				Reason: fmt.Sprintf("no erased gap of %#x bytes in any volume", len(data))}
		}
		offset = off
	}

	log.Infof("staging microcode CPUID %#08x rev %#x at %#x",
		m.HeaderProcessorSignature, m.HeaderRevision, offset)
	return Patch{
		Offset:   offset,
		Data:     data,
		Label:    fmt.Sprintf("Ucode: CPUID %#08x rev %#x", m.HeaderProcessorSignature, m.HeaderRevision),
		Critical: true,
	}, nil
}

// AutoOffset asks MicrocodePatch to find free space itself.
const AutoOffset = ^uint64(0)

// findFreeSpace runs the volumes' first-fit erased-gap search in image
// order.
func findFreeSpace(img *uefi.Image, size uint64) (uint64, bool) {
	for _, fv := range img.Volumes {
		if off, ok := fv.FindFreeSpace(img.Buf(), size, img.ErasePolarity); ok {
			return off, true
		}
	}
	return 0, false
}
