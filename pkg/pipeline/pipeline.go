// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pipeline drives the fixed patching sequence load, preflight,
// patch, verify, save. The preflight security gate is the single mandatory
// check: an unsafe verdict aborts the run unless the caller forces past it,
// and the force decision is always logged. Application is all-or-nothing
// and the save is atomic; a failed run never touches the destination file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/biosmod/biosmod/pkg/log"
	"github.com/biosmod/biosmod/pkg/patch"
	"github.com/biosmod/biosmod/pkg/platform"
	"github.com/biosmod/biosmod/pkg/security"
	"github.com/biosmod/biosmod/pkg/uefi"
)

// State names how far a run progressed.
type State int

// Pipeline states in order, plus the terminal Aborted.
const (
	StateLoaded State = iota
	StatePreflighted
	StatePatched
	StateVerified
	StateSaved
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "Loaded"
	case StatePreflighted:
		return "Preflighted"
	case StatePatched:
		return "Patched"
	case StateVerified:
		return "Verified"
	case StateSaved:
		return "Saved"
	case StateAborted:
		return "Aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Sentinel causes for aborted runs.
var (
	// ErrUnsafeImage is the preflight gate: blocking security findings
	// without force.
	ErrUnsafeImage = errors.New("image is unsafe to flash")
	// ErrHazardIntroduced means patching created a blocking finding that
	// was not there before.
	ErrHazardIntroduced = errors.New("patching introduced a blocking security finding")
)

// RunConfig is one pipeline invocation.
type RunConfig struct {
	InputPath  string
	OutputPath string

	Profile *platform.Profile
	Config  *platform.Config

	// Extra patches staged outside the config translation.
	Extra []patch.Patch

	// Microcode, when non-empty, is an update to validate and inject.
	// MicrocodeOffset is its absolute target, or patch.AutoOffset for the
	// first free gap.
	Microcode       []byte
	MicrocodeOffset uint64

	// Force bypasses the preflight gate. The findings are still reported
	// in full.
	Force bool
	// DryRun executes everything through Verified and writes nothing.
	DryRun bool
}

// Outcome reports what a run did, including for aborted runs.
type Outcome struct {
	State        State
	Findings     *security.Report
	PostFindings *security.Report
	Log          patch.Log
	BytesWritten uint64
}

// Run executes the pipeline. On abort the returned Outcome still carries
// the state reached and the full finding list; the error names the precise
// cause. Cancellation is honored at state boundaries only, so a started
// patch batch is never half applied.
func Run(ctx context.Context, cfg RunConfig) (*Outcome, error) {
	out := &Outcome{}

	// Loaded
	img, err := uefi.ParseFile(cfg.InputPath)
	if err != nil {
		out.State = StateAborted
		return out, fmt.Errorf("load: %w", err)
	}
	out.State = StateLoaded
	log.Infof("loaded %s: %d bytes, %d volumes", cfg.InputPath, img.Len(), len(img.Volumes))

	if _, err := img.FindSetupStore(cfg.Profile.SetupSignature, cfg.Profile.SetupWindow); err != nil {
		log.Warnf("setup store not found, settings patches will not resolve: %v", err)
	}

	if err := stateGate(ctx, out); err != nil {
		return out, err
	}

	// Preflighted
	out.Findings = security.Analyze(img)
	if !out.Findings.SafeToFlash() {
		if !cfg.Force {
			out.State = StateAborted
			return out, fmt.Errorf("%w: %d blocking findings", ErrUnsafeImage, len(out.Findings.HardFails()))
		}
		log.Warnf("FORCE: bypassing %d blocking security findings, this can permanently brick the machine",
			len(out.Findings.HardFails()))
	}
	out.State = StatePreflighted

	if err := stateGate(ctx, out); err != nil {
		return out, err
	}

	// Patched
	batch := patch.NewBuilder(img, cfg.Profile).FromConfig(cfg.Config)
	batch = append(batch, cfg.Extra...)
	if len(cfg.Microcode) > 0 {
		p, err := patch.MicrocodePatch(img, cfg.Profile, cfg.Microcode, cfg.MicrocodeOffset)
		if err != nil {
			out.State = StateAborted
			return out, fmt.Errorf("microcode: %w", err)
		}
		batch = append(batch, p)
	}
	if len(batch) == 0 {
		log.Warnf("configuration produced no patches")
	}
	patchLog, err := patch.Apply(img, cfg.Profile, batch)
	if err != nil {
		out.State = StateAborted
		return out, fmt.Errorf("patch: %w", err)
	}
	out.Log = patchLog
	out.BytesWritten = patchLog.BytesWritten()
	out.State = StatePatched

	if err := stateGate(ctx, out); err != nil {
		return out, err
	}

	// Verified: the mutated buffer must still parse, and must not have
	// picked up a new blocking finding.
	verified, err := uefi.ParseImage(img.Serialize())
	if err != nil {
		out.State = StateAborted
		return out, fmt.Errorf("verify: patched image no longer parses: %w", err)
	}
	out.PostFindings = security.Analyze(verified)
	if introducedHazard(out.Findings, out.PostFindings) {
		out.State = StateAborted
		return out, ErrHazardIntroduced
	}
	out.State = StateVerified

	if cfg.DryRun {
		log.Infof("dry run: %d patches verified, nothing written", len(out.Log))
		return out, nil
	}

	if err := stateGate(ctx, out); err != nil {
		return out, err
	}

	// Saved
	if err := atomicSave(img, cfg.OutputPath); err != nil {
		out.State = StateAborted
		return out, fmt.Errorf("save: %w", err)
	}
	out.State = StateSaved
	log.Infof("saved %s: %d bytes, %d patches", cfg.OutputPath, img.Len(), len(out.Log))
	return out, nil
}

// stateGate applies cooperative cancellation between states.
func stateGate(ctx context.Context, out *Outcome) error {
	if err := ctx.Err(); err != nil {
		reached := out.State
		out.State = StateAborted
		return fmt.Errorf("canceled after %v: %w", reached, err)
	}
	return nil
}

// introducedHazard reports a blocking finding kind in post that pre did not
// have.
func introducedHazard(pre, post *security.Report) bool {
	had := map[security.Kind]bool{}
	for _, f := range pre.HardFails() {
		had[f.Kind] = true
	}
	for _, f := range post.HardFails() {
		if !had[f.Kind] {
			return true
		}
	}
	return false
}

// atomicSave writes the image to a temporary file, re-parses that file from
// disk to catch I/O corruption, then renames it over the destination. Any
// failure leaves the destination untouched.
func atomicSave(img *uefi.Image, dest string) error {
	buf := img.Serialize()
	tmp := dest + ".tmp"

	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	reparsed, err := uefi.ParseFile(tmp)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("temporary file does not parse back: %w", err)
	}
	if reparsed.Len() != img.Len() {
		os.Remove(tmp)
		return fmt.Errorf("temporary file is %d bytes, image is %d", reparsed.Len(), img.Len())
	}
	return os.Rename(tmp, dest)
}
