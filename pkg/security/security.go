// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package security classifies flashing hazards in a parsed firmware image:
// Boot Guard enforcement, ME region, PFAT and flash descriptor locks. The
// analyzer is side-effect free and recomputed on every pass, so the verdict
// always reflects the exact bytes in the buffer. It never bypasses its own
// verdict; force lives in the orchestrator.
package security

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/biosmod/biosmod/pkg/log"
	"github.com/biosmod/biosmod/pkg/uefi"
)

// Severity grades a finding.
type Severity int

// Severities, in ascending badness.
const (
	Info Severity = iota
	Warning
	HardFail
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case HardFail:
		return "HARDFAIL"
	}
	return fmt.Sprintf("SEVERITY(%d)", int(s))
}

// Kind names the detection rule that produced a finding.
type Kind string

// Finding kinds. The set is closed: every rule below maps to exactly one.
const (
	BootGuardKeyManifest Kind = "bootguard-key-manifest"
	BootGuardVerified    Kind = "bootguard-verified"
	BootGuardMeasured    Kind = "bootguard-measured"
	ACMPresent           Kind = "acm-present"
	MERegion             Kind = "me-region"
	PFAT                 Kind = "pfat"
	FDLock               Kind = "fd-lock"
	MicrocodePresent     Kind = "microcode-present"
)

// Finding is one detected hazard or informational fact.
type Finding struct {
	Kind     Kind
	Severity Severity
	Offset   uint64
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("[%s] %s at %#x: %s", f.Severity, f.Kind, f.Offset, f.Message)
}

// Report is the ordered finding list of one analysis pass.
type Report struct {
	Findings []Finding
}

// SafeToFlash is false iff any finding is a HardFail. This is the single
// hard gate the orchestrator checks.
func (r *Report) SafeToFlash() bool {
	for _, f := range r.Findings {
		if f.Severity == HardFail {
			return false
		}
	}
	return true
}

// HardFails returns only the blocking findings.
func (r *Report) HardFails() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == HardFail {
			out = append(out, f)
		}
	}
	return out
}

// Markers the rules scan for.
var (
	keymMarker = []byte("__KEYM__")
	btgpMarker = []byte("__BTGP__")
	acmMarker  = []byte("ACMR")
	mn2Marker  = []byte("$MN2")
	fptMarker  = []byte("$FPT")
	pfatMarker = []byte("_PFAT_")

	// DXE-phase enforcement modules. Their presence means modified
	// firmware is rejected even without a fused policy.
	enforcementModules = [][]byte{
		[]byte("HashDxe"),
		[]byte("BootGuardDxe"),
	}
)

// Boot Guard policy bits at offset 0x10 inside the key manifest.
const (
	policyOffset         = 0x10
	policyVerifiedBit    = 0x01
	policyMeasuredBit    = 0x02
	policyReadableWindow = 0x20
)

// Analyze runs every detection rule over the image and returns the ordered
// findings. Rules run in a fixed order and scan forward, so re-analysis of
// the same bytes yields an identical report.
func Analyze(img *uefi.Image) *Report {
	buf := img.Buf()
	r := &Report{}

	r.checkBootGuard(buf)
	r.checkACM(buf)
	r.checkMERegion(buf)
	r.checkPFAT(buf)
	r.checkFDLock(img)
	r.checkMicrocode(buf)

	for _, f := range r.Findings {
		switch f.Severity {
		case HardFail:
			log.Errorf("%v", f)
		case Warning:
			log.Warnf("%v", f)
		default:
			log.Infof("%v", f)
		}
	}
	return r
}

func (r *Report) add(kind Kind, sev Severity, offset uint64, format string, args ...interface{}) {
	r.Findings = append(r.Findings, Finding{
		Kind:     kind,
		Severity: sev,
		Offset:   offset,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (r *Report) checkBootGuard(buf []byte) {
	if off := bytes.Index(buf, keymMarker); off != -1 {
		keym := uint64(off)
		r.add(BootGuardKeyManifest, Info, keym, "Boot Guard key manifest marker")

		if keym+policyOffset+policyReadableWindow < uint64(len(buf)) {
			policy := binary.LittleEndian.Uint32(buf[keym+policyOffset:])
			if policy&policyVerifiedBit != 0 {
				r.add(BootGuardVerified, HardFail, keym,
					"verified boot is enforced, flashing a modified image will brick the system (policy %#x)", policy)
			}
			if policy&policyMeasuredBit != 0 {
				r.add(BootGuardMeasured, Warning, keym,
					"measured boot is enabled, TPM measurements will change (policy %#x)", policy)
			}
		}
	}

	if off := bytes.Index(buf, btgpMarker); off != -1 {
		r.add(BootGuardKeyManifest, Info, uint64(off), "Boot Guard policy marker")
	}

	for _, module := range enforcementModules {
		if off := bytes.Index(buf, module); off != -1 {
			r.add(BootGuardVerified, HardFail, uint64(off),
				"Boot Guard enforcement module %q present, do not flash modified images", module)
		}
	}
}

func (r *Report) checkACM(buf []byte) {
	if off := bytes.Index(buf, acmMarker); off != -1 {
		r.add(ACMPresent, Info, uint64(off), "authenticated code module header")
	}
}

func (r *Report) checkMERegion(buf []byte) {
	if off := bytes.Index(buf, mn2Marker); off != -1 {
		pos := uint64(off)
		msg := "ME manifest"
		// Version quad of uint16 at manifest offset 0x18.
		if pos+0x20 < uint64(len(buf)) {
			v := buf[pos+0x18:]
			msg = fmt.Sprintf("ME manifest, version %d.%d.%d.%d",
				binary.LittleEndian.Uint16(v[0:2]),
				binary.LittleEndian.Uint16(v[2:4]),
				binary.LittleEndian.Uint16(v[4:6]),
				binary.LittleEndian.Uint16(v[6:8]))
		}
		r.add(MERegion, Info, pos, "%s", msg)
		return
	}
	if off := bytes.Index(buf, fptMarker); off != -1 {
		r.add(MERegion, Info, uint64(off), "ME flash partition table")
	}
}

func (r *Report) checkPFAT(buf []byte) {
	if off := bytes.Index(buf, pfatMarker); off != -1 {
		r.add(PFAT, HardFail, uint64(off),
			"Platform Flash Armoring is present, flashing will fail or brick the system")
	}
}

func (r *Report) checkFDLock(img *uefi.Image) {
	fd := img.Descriptor
	if fd == nil {
		return
	}
	if fd.Locked() {
		r.add(FDLock, Warning, fd.Offset,
			"flash descriptor is locked (FLMSTR1 %#08x), an external programmer may be required", fd.FLMSTR1)
	}
}

// Microcode updates sit on a 1 KiB grid. The header-version word plus a
// plausible family-6 CPUID keeps the false positive rate down.
const microcodeGrid = 0x400

func (r *Report) checkMicrocode(buf []byte) {
	for off := uint64(0); off+0x30 <= uint64(len(buf)); off += microcodeGrid {
		if binary.LittleEndian.Uint32(buf[off:off+4]) != 1 {
			continue
		}
		cpuid := binary.LittleEndian.Uint32(buf[off+0x0C : off+0x10])
		if (cpuid>>8)&0x0F != 6 {
			continue
		}
		r.add(MicrocodePresent, Info, off, "microcode update for CPUID %#08x", cpuid)
	}
}
