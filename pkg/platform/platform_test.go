// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVariableTable(t *testing.T) {
	var tests = []struct {
		name   string
		offset uint64
		width  int
	}{
		{"CfgLk", 0x43, 1},
		{"Pl1", 0x66, 2},
		{"Pl2", 0x68, 2},
		{"Tau", 0x6A, 1},
		{"VcO", 0x70, 2},
		{"A4G", 0xD0, 1},
		{"RBar", 0xD1, 1},
		{"Hap", 0x107, 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			v, ok := DellG55090.Lookup(test.name)
			if !ok {
				t.Fatalf("variable %s missing from g5 table", test.name)
			}
			if v.Offset != test.offset || v.Width != test.width {
				t.Errorf("%s = (%#x, %d), want (%#x, %d)",
					test.name, v.Offset, v.Width, test.offset, test.width)
			}
		})
	}

	if _, ok := DellG55090.Lookup("NoSuchSetting"); ok {
		t.Error("unknown name should not resolve")
	}
}

func TestXPSAliasedOffsets(t *testing.T) {
	// The XPS feature block is shifted, the rest is shared.
	hap, ok := DellXPS8940.Lookup("Hap")
	if !ok || hap.Offset != 0x10F {
		t.Errorf("xps Hap = %+v, want offset 0x10F", hap)
	}
	pl1, ok := DellXPS8940.Lookup("Pl1")
	if !ok || pl1.Offset != 0x66 {
		t.Errorf("xps Pl1 = %+v, want offset 0x66", pl1)
	}
}

func TestProfileByName(t *testing.T) {
	for _, name := range []string{"dell-g5-5090", "dell-g5-5000", "dell-xps-8940"} {
		p, err := ProfileByName(name)
		if err != nil {
			t.Errorf("ProfileByName(%s): %v", name, err)
			continue
		}
		if p.Name != name {
			t.Errorf("profile name = %q, want %q", p.Name, name)
		}
		if len(p.SetupSignature) == 0 || p.SetupWindow == 0 {
			t.Errorf("profile %s has no setup store parameters", name)
		}
	}
	if _, err := ProfileByName("toaster"); err == nil {
		t.Error("unknown profile should error")
	}
}

func TestPresets(t *testing.T) {
	gaming, err := Preset("gaming")
	require.NoError(t, err)
	require.NotNil(t, gaming.PL1)
	require.Equal(t, 80, *gaming.PL1)
	require.NotNil(t, gaming.ResizableBAR)
	require.Equal(t, 1, *gaming.ResizableBAR)
	require.NotNil(t, gaming.FanCurve)
	require.Equal(t, 1, gaming.FanCurve.Mode)

	stock, err := Preset("stock")
	require.NoError(t, err)
	require.Equal(t, 1, stock.CfgLock)
	require.Nil(t, stock.PL1)

	bare, err := Preset("bare")
	require.NoError(t, err)
	require.NotNil(t, bare.MEDisable)
	require.Equal(t, 1, *bare.MEDisable)

	_, err = Preset("warp9")
	require.Error(t, err)

	names := PresetNames()
	require.Contains(t, names, "balanced")
	require.Contains(t, names, "uv")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "my.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"preset: gaming\npl1: 70\nvcore_offset: -50\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	// File fields override the preset base.
	require.Equal(t, 70, *cfg.PL1)
	require.Equal(t, -50, *cfg.VcoreOffset)
	// Untouched preset fields survive.
	require.Equal(t, 100, *cfg.PL2)
	require.Equal(t, 1, *cfg.Above4G)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("preset: warp9\n"), 0o644))
	_, err = LoadConfig(path)
	require.Error(t, err)
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base: dell-g5-5090
name: dell-g5-5090-a7
pch_strap_offset: 0x3460
variables:
  CfgLk:
    offset: 0x47
    width: 1
    desc: CFG Lock (moved)
`), 0o644))

	p, err := LoadProfile(path)
	require.NoError(t, err)
	require.Equal(t, "dell-g5-5090-a7", p.Name)
	require.Equal(t, uint64(0x3460), p.PCHStrapOffset)

	// The moved variable overrides, the rest of the base table survives.
	cfg, ok := p.Lookup("CfgLk")
	require.True(t, ok)
	require.Equal(t, uint64(0x47), cfg.Offset)
	pl1, ok := p.Lookup("Pl1")
	require.True(t, ok)
	require.Equal(t, uint64(0x66), pl1.Offset)

	// The base profile must not have been mutated.
	orig, _ := DellG55090.Lookup("CfgLk")
	require.Equal(t, uint64(0x43), orig.Offset)
}
