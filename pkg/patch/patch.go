// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package patch computes and applies byte-level edits against a parsed
// firmware image. A batch of patches is validated as a set (resolution,
// pairwise overlap) before a single byte is written; application is
// all-or-nothing and leaves every touched volume checksum valid.
package patch

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/biosmod/biosmod/pkg/bytesrange"
)

// Patch is one pending edit. Name targets a Setup variable through the
// platform profile; an empty Name makes Offset an absolute image offset.
// Patches are consumed exactly once by Apply and never mutated afterward.
type Patch struct {
	Name   string
	Offset uint64
	Data   []byte
	Label  string

	// Critical patches are read back after the batch is written and must
	// match exactly.
	Critical bool
}

func (p *Patch) target() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("%#x", p.Offset)
}

// Entry is one applied edit, for audit.
type Entry struct {
	Offset uint64
	Before []byte
	After  []byte
	Label  string
}

// Log is the ordered audit trail of one applied batch.
type Log []Entry

// BytesWritten sums the sizes of all applied edits.
func (l Log) BytesWritten() uint64 {
	var n uint64
	for _, e := range l {
		n += uint64(len(e.After))
	}
	return n
}

// String renders the audit table.
func (l Log) String() string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Offset", "Before", "After", "Label"})
	for i, e := range l {
		t.AppendRow(table.Row{
			i + 1,
			fmt.Sprintf("%#08x", e.Offset),
			strings.ToUpper(fmt.Sprintf("%x", e.Before)),
			strings.ToUpper(fmt.Sprintf("%x", e.After)),
			e.Label,
		})
	}

	var b strings.Builder
	b.WriteString(t.Render())
	fmt.Fprintf(&b, "\n%d patches, %s written\n", len(l), humanize.IBytes(l.BytesWritten()))
	return b.String()
}

// OverlapError reports two patches whose resolved ranges intersect.
type OverlapError struct {
	A, B   string
	ARange bytesrange.Range
	BRange bytesrange.Range
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("patch %q (%v) overlaps patch %q (%v)", e.A, e.ARange, e.B, e.BRange)
}

// TargetUnavailableError reports a patch whose logical target cannot be
// resolved to image bytes.
type TargetUnavailableError struct {
	Target string
	Reason string
}

func (e *TargetUnavailableError) Error() string {
	return fmt.Sprintf("patch target %q unavailable: %s", e.Target, e.Reason)
}

// MicrocodeInvalidError reports a microcode update that failed validation.
// Nothing is written.
type MicrocodeInvalidError struct {
	Reason string
}

func (e *MicrocodeInvalidError) Error() string {
	return "microcode rejected: " + e.Reason
}

// VerifyMismatchError reports a critical patch whose read-back did not
// match the intended bytes.
type VerifyMismatchError struct {
	Label string
	Want  []byte
	Got   []byte
}

func (e *VerifyMismatchError) Error() string {
	return fmt.Sprintf("read-back of critical patch %q mismatched: want %x, got %x",
		e.Label, e.Want, e.Got)
}
