// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package patch

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/biosmod/biosmod/pkg/bytesrange"
	"github.com/biosmod/biosmod/pkg/log"
	"github.com/biosmod/biosmod/pkg/platform"
	"github.com/biosmod/biosmod/pkg/uefi"
)

// resolved pairs a patch with its absolute byte range.
type resolved struct {
	patch *Patch
	r     bytesrange.Range
}

// Apply validates and writes a batch of patches.
//
// The batch is resolved and overlap-checked as a whole before any byte
// moves: resolution failures and every overlapping pair are aggregated into
// one error so the caller sees the complete conflict report. Writes then go
// to a scratch copy, touched volume checksums are recomputed there,
// critical patches are read back, and only a fully verified scratch is
// committed. On any error the image bytes are bit-identical to before the
// call.
func Apply(img *uefi.Image, profile *platform.Profile, patches []Patch) (Log, error) {
	batch, err := resolveAll(img, profile, patches)
	if err != nil {
		return nil, err
	}
	if err := checkOverlaps(batch); err != nil {
		return nil, err
	}

	// All writes target the scratch buffer until the batch verifies.
	scratch := img.Serialize()
	patchLog := make(Log, 0, len(batch))
	for _, rp := range batch {
		before := make([]byte, rp.r.Length)
		copy(before, scratch[rp.r.Offset:rp.r.End()])
		copy(scratch[rp.r.Offset:rp.r.End()], rp.patch.Data)
		patchLog = append(patchLog, Entry{
			Offset: rp.r.Offset,
			Before: before,
			After:  append([]byte(nil), rp.patch.Data...),
			Label:  rp.patch.Label,
		})
		log.Infof("patched %#x: %X -> %X (%s)", rp.r.Offset, before, rp.patch.Data, rp.patch.Label)
	}

	checksumRanges := recalcTouchedVolumes(img, scratch, batch)

	for _, rp := range batch {
		if !rp.patch.Critical {
			continue
		}
		got := scratch[rp.r.Offset:rp.r.End()]
		if !bytes.Equal(got, rp.patch.Data) {
			return nil, &VerifyMismatchError{
				Label: rp.patch.Label,
				Want:  rp.patch.Data,
				Got:   append([]byte(nil), got...),
			}
		}
	}

	// Commit: patch bytes plus the rewritten volume headers.
	for _, rp := range batch {
		if err := img.WriteAt(rp.r, rp.patch.Data); err != nil {
			return nil, fmt.Errorf("committing %q: %w", rp.patch.Label, err)
		}
	}
	for _, vc := range checksumRanges {
		if err := img.WriteAt(vc.hdr, scratch[vc.hdr.Offset:vc.hdr.End()]); err != nil {
			return nil, fmt.Errorf("committing volume checksum: %w", err)
		}
		vc.fv.Checksum = vc.checksum
	}
	return patchLog, nil
}

// resolveAll translates every patch target into an absolute range. All
// failures are aggregated.
func resolveAll(img *uefi.Image, profile *platform.Profile, patches []Patch) ([]resolved, error) {
	var errs *multierror.Error
	batch := make([]resolved, 0, len(patches))

	for i := range patches {
		p := &patches[i]
		if len(p.Data) == 0 {
			errs = multierror.Append(errs, &TargetUnavailableError{
				Target: p.target(), Reason: "patch carries no data"})
			continue
		}

		var offset uint64
		if p.Name != "" {
			variable, ok := profile.Lookup(p.Name)
			if !ok {
				errs = multierror.Append(errs, &TargetUnavailableError{
					Target: p.Name, Reason: "not in platform profile " + profile.Name})
				continue
			}
			if img.Setup == nil {
				errs = multierror.Append(errs, &TargetUnavailableError{
					Target: p.Name, Reason: "setup store not located in image"})
				continue
			}
			if len(p.Data) != variable.Width {
				errs = multierror.Append(errs, &TargetUnavailableError{
					Target: p.Name,
					Reason: fmt.Sprintf("%d data bytes for a %d byte field", len(p.Data), variable.Width)})
				continue
			}
			if variable.Offset+uint64(variable.Width) > img.Setup.Range.Length {
				errs = multierror.Append(errs, &TargetUnavailableError{
					Target: p.Name, Reason: "variable lies outside the setup store window"})
				continue
			}
			offset = img.Setup.Range.Offset + variable.Offset
		} else {
			offset = p.Offset
		}

		r := bytesrange.Range{Offset: offset, Length: uint64(len(p.Data))}
		if r.End() > img.Len() || r.End() < r.Offset {
			errs = multierror.Append(errs, &TargetUnavailableError{
				Target: p.target(), Reason: fmt.Sprintf("range %v outside image", r)})
			continue
		}
		batch = append(batch, resolved{patch: p, r: r})
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return batch, nil
}

// checkOverlaps reports every intersecting pair in the batch, not just the
// first.
func checkOverlaps(batch []resolved) error {
	var errs *multierror.Error
	for i := 0; i < len(batch); i++ {
		for j := i + 1; j < len(batch); j++ {
			if batch[i].r.Intersect(batch[j].r) {
				errs = multierror.Append(errs, &OverlapError{
					A: batch[i].patch.Label, ARange: batch[i].r,
					B: batch[j].patch.Label, BRange: batch[j].r,
				})
			}
		}
	}
	return errs.ErrorOrNil()
}

// volChecksum records one volume header rewritten in the scratch buffer.
// The parsed node is only updated when the batch commits.
type volChecksum struct {
	fv       *uefi.FirmwareVolume
	hdr      bytesrange.Range
	checksum uint16
}

// recalcTouchedVolumes rewrites the header checksum of every volume a batch
// write landed in, inside the scratch buffer.
func recalcTouchedVolumes(img *uefi.Image, scratch []byte, batch []resolved) []volChecksum {
	touched := map[*uefi.FirmwareVolume]bool{}
	for _, rp := range batch {
		if fv := img.VolumeAt(rp.r.Offset); fv != nil {
			touched[fv] = true
		}
	}

	var out []volChecksum
	for _, fv := range img.Volumes {
		if !touched[fv] {
			continue
		}
		hdr := bytesrange.Range{Offset: fv.Range.Offset, Length: uint64(fv.HeaderLen)}
		buf := scratch[hdr.Offset:hdr.End()]
		binary.LittleEndian.PutUint16(buf[0x32:0x34], 0)
		sum, err := uefi.Checksum16(buf)
		if err != nil {
			log.Warnf("cannot checksum volume header at %#x: %v", fv.Range.Offset, err)
			continue
		}
		checksum := uint16(0x10000 - uint32(sum))
		binary.LittleEndian.PutUint16(buf[0x32:0x34], checksum)
		out = append(out, volChecksum{fv: fv, hdr: hdr, checksum: checksum})
		log.Infof("recalculated volume checksum at %#x: %#04x", fv.Range.Offset, checksum)
	}
	return out
}
