// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/biosmod/biosmod/internal/fwtest"
	"github.com/biosmod/biosmod/pkg/bytesrange"
	"github.com/biosmod/biosmod/pkg/guid"
	"github.com/biosmod/biosmod/pkg/patch"
	"github.com/biosmod/biosmod/pkg/platform"
	"github.com/biosmod/biosmod/pkg/security"
	"github.com/biosmod/biosmod/pkg/uefi"
)

var (
	setupFileGUID  = guid.MustParse("0B84DE03-9CCD-4AE1-9243-0D26AF7A4755")
	markerFileGUID = guid.MustParse("55FA8CAC-0262-4B6D-9A4B-8E33B6E42210")
)

// writeTestImage builds a parsable image containing a Setup store, plus one
// raw file per extra payload, and writes it to a temp path.
func writeTestImage(t *testing.T, extras ...[]byte) string {
	t.Helper()
	profile := platform.DellG55090

	store := append([]byte(nil), profile.SetupSignature...)
	store = append(store, make([]byte, 0x200)...)
	files := [][]byte{fwtest.File(setupFileGUID, 0x01, fwtest.RawSection(store))}
	for _, payload := range extras {
		files = append(files, fwtest.File(markerFileGUID, 0x01, fwtest.RawSection(payload)))
	}

	path := filepath.Join(t.TempDir(), "firmware.bin")
	if err := os.WriteFile(path, fwtest.Volume(0x4000, files...), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// keymVerified is a Boot Guard key manifest with the verified-boot policy
// bit fused, followed by a Boot Guard policy blob.
func keymVerified() []byte {
	payload := make([]byte, 0x40)
	copy(payload, "__KEYM__")
	binary.LittleEndian.PutUint32(payload[0x10:], 0x1)
	copy(payload[0x30:], "__BTGP__")
	return payload
}

func intPtr(v int) *int { return &v }

func TestRunSaves(t *testing.T) {
	input := writeTestImage(t)
	output := filepath.Join(t.TempDir(), "patched.bin")
	profile := platform.DellG55090
	cfg := platform.Config{CfgLock: 1, PL1: intPtr(80)}

	out, err := Run(context.Background(), RunConfig{
		InputPath:  input,
		OutputPath: output,
		Profile:    profile,
		Config:     &cfg,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State != StateSaved {
		t.Fatalf("state = %v, want Saved", out.State)
	}
	if len(out.Log) != 2 {
		t.Errorf("log has %d entries, want Pl1 and Pl1En", len(out.Log))
	}
	if out.BytesWritten != 3 {
		t.Errorf("BytesWritten = %d, want 3", out.BytesWritten)
	}

	// The saved file parses, keeps its length and carries the patch.
	in, err := os.ReadFile(input)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	img, err := uefi.ParseFile(output)
	if err != nil {
		t.Fatalf("ParseFile(output): %v", err)
	}
	if img.Len() != uint64(len(in)) {
		t.Errorf("output is %d bytes, input was %d", img.Len(), len(in))
	}
	setup, err := img.FindSetupStore(profile.SetupSignature, profile.SetupWindow)
	if err != nil {
		t.Fatalf("FindSetupStore: %v", err)
	}
	pl1, _ := profile.Lookup("Pl1")
	got, err := img.ReadAt(bytesrange.Range{Offset: setup.Range.Offset + pl1.Offset, Length: 2})
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	want := patch.EncodePowerLimit(80, profile.PLMinWatts, profile.PLMaxWatts)
	if binary.LittleEndian.Uint16(got) != want {
		t.Errorf("saved Pl1 = %d, want %d", binary.LittleEndian.Uint16(got), want)
	}
}

func TestRunUnsafeAborts(t *testing.T) {
	input := writeTestImage(t, keymVerified())
	output := filepath.Join(t.TempDir(), "patched.bin")

	out, err := Run(context.Background(), RunConfig{
		InputPath:  input,
		OutputPath: output,
		Profile:    platform.DellG55090,
		Config:     &platform.Config{CfgLock: 1, PL1: intPtr(80)},
	})
	if !errors.Is(err, ErrUnsafeImage) {
		t.Fatalf("err = %v, want ErrUnsafeImage", err)
	}
	if out.State != StateAborted {
		t.Errorf("state = %v, want Aborted", out.State)
	}
	// The full report is still surfaced on abort.
	if out.Findings == nil || len(out.Findings.HardFails()) == 0 {
		t.Error("aborted outcome does not carry the blocking findings")
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Error("output file exists after an aborted run")
	}
}

func TestRunForceBypassesGate(t *testing.T) {
	input := writeTestImage(t, keymVerified())
	output := filepath.Join(t.TempDir(), "patched.bin")

	out, err := Run(context.Background(), RunConfig{
		InputPath:  input,
		OutputPath: output,
		Profile:    platform.DellG55090,
		Config:     &platform.Config{CfgLock: 1, PL1: intPtr(80)},
		Force:      true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State != StateSaved {
		t.Errorf("state = %v, want Saved", out.State)
	}
	// The pre-existing hazard is not mistaken for an introduced one.
	if len(out.PostFindings.HardFails()) != len(out.Findings.HardFails()) {
		t.Errorf("hard fails changed from %d to %d",
			len(out.Findings.HardFails()), len(out.PostFindings.HardFails()))
	}
}

func TestRunDryRun(t *testing.T) {
	input := writeTestImage(t)
	output := filepath.Join(t.TempDir(), "patched.bin")

	out, err := Run(context.Background(), RunConfig{
		InputPath:  input,
		OutputPath: output,
		Profile:    platform.DellG55090,
		Config:     &platform.Config{CfgLock: 1, PL1: intPtr(80)},
		DryRun:     true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State != StateVerified {
		t.Errorf("state = %v, want Verified", out.State)
	}
	if len(out.Log) == 0 {
		t.Error("dry run produced no patch log")
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Error("dry run wrote the output file")
	}
}

func TestRunHazardIntroduced(t *testing.T) {
	input := writeTestImage(t)
	output := filepath.Join(t.TempDir(), "patched.bin")

	// A patch that plants a PFAT marker in free space turns a clean preflight
	// into a blocking post-verify finding.
	out, err := Run(context.Background(), RunConfig{
		InputPath:  input,
		OutputPath: output,
		Profile:    platform.DellG55090,
		Config:     &platform.Config{CfgLock: 1},
		Extra: []patch.Patch{
			{Offset: 0x3000, Data: []byte("_PFAT_"), Label: "plant"},
		},
	})
	if !errors.Is(err, ErrHazardIntroduced) {
		t.Fatalf("err = %v, want ErrHazardIntroduced", err)
	}
	if out.State != StateAborted {
		t.Errorf("state = %v, want Aborted", out.State)
	}
	var kinds []security.Kind
	for _, f := range out.PostFindings.HardFails() {
		kinds = append(kinds, f.Kind)
	}
	if len(kinds) != 1 || kinds[0] != security.PFAT {
		t.Errorf("post findings = %v, want just PFAT", kinds)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Error("output file exists after an aborted run")
	}
}

func TestRunCanceled(t *testing.T) {
	input := writeTestImage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := Run(ctx, RunConfig{
		InputPath:  input,
		OutputPath: filepath.Join(t.TempDir(), "patched.bin"),
		Profile:    platform.DellG55090,
		Config:     &platform.Config{CfgLock: 1},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if out.State != StateAborted {
		t.Errorf("state = %v, want Aborted", out.State)
	}
}

func TestRunInjectsMicrocode(t *testing.T) {
	input := writeTestImage(t)
	output := filepath.Join(t.TempDir(), "patched.bin")
	profile := platform.DellG55090
	update := fwtest.MicrocodeUpdate(profile.CPUID, profile.CPUFlags)

	out, err := Run(context.Background(), RunConfig{
		InputPath:       input,
		OutputPath:      output,
		Profile:         profile,
		Config:          &platform.Config{CfgLock: 1},
		Microcode:       update,
		MicrocodeOffset: patch.AutoOffset,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State != StateSaved {
		t.Fatalf("state = %v, want Saved", out.State)
	}
	if out.BytesWritten != uint64(len(update)) {
		t.Errorf("BytesWritten = %d, want %d", out.BytesWritten, len(update))
	}

	// The saved image carries the update at the logged offset.
	if len(out.Log) != 1 {
		t.Fatalf("log has %d entries, want 1", len(out.Log))
	}
	img, err := uefi.ParseFile(output)
	if err != nil {
		t.Fatalf("ParseFile(output): %v", err)
	}
	got, err := img.ReadAt(bytesrange.Range{Offset: out.Log[0].Offset, Length: uint64(len(update))})
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, update) {
		t.Error("saved image does not carry the injected microcode")
	}
}

func TestRunRejectsForeignMicrocode(t *testing.T) {
	input := writeTestImage(t)

	out, err := Run(context.Background(), RunConfig{
		InputPath:       input,
		OutputPath:      filepath.Join(t.TempDir(), "patched.bin"),
		Profile:         platform.DellXPS8940,
		Config:          &platform.Config{CfgLock: 1},
		Microcode:       fwtest.MicrocodeUpdate(platform.DellG55090.CPUID, platform.DellG55090.CPUFlags),
		MicrocodeOffset: patch.AutoOffset,
	})
	var merr *patch.MicrocodeInvalidError
	if !errors.As(err, &merr) {
		t.Fatalf("err = %v, want a MicrocodeInvalidError", err)
	}
	if out.State != StateAborted {
		t.Errorf("state = %v, want Aborted", out.State)
	}
}

func TestRunMissingInput(t *testing.T) {
	out, err := Run(context.Background(), RunConfig{
		InputPath: filepath.Join(t.TempDir(), "nope.bin"),
		Profile:   platform.DellG55090,
		Config:    &platform.Config{CfgLock: 1},
	})
	if err == nil {
		t.Fatal("missing input must fail the load state")
	}
	if out.State != StateAborted {
		t.Errorf("state = %v, want Aborted", out.State)
	}
}
