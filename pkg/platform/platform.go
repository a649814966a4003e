// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package platform holds per-machine knowledge: where the Setup store lives,
// which named setting sits at which offset inside it, and the board's power
// delivery limits. The rest of the toolkit consumes a Profile as an opaque
// read-only lookup table and skips settings the profile does not define.
package platform

import (
	"fmt"
	"sort"
)

// Variable locates one named setting inside the Setup store.
type Variable struct {
	// Offset is relative to the start of the Setup store.
	Offset uint64
	// Width in bytes, 1 or 2.
	Width int
	Desc  string
}

// Profile describes one supported machine.
type Profile struct {
	Name string

	// SetupSignature marks the start of the Setup store in the image.
	SetupSignature []byte
	// SetupWindow is how many bytes of store to expose after the signature.
	SetupWindow uint64

	// Variables maps setting names to store-relative locations.
	Variables map[string]Variable

	// PCHStrapOffset is the absolute offset of the strap dword carrying the
	// HAP bit. HAPBit is the bit number within it.
	PCHStrapOffset uint64
	HAPBit         uint

	// Power limit bounds in watts. Encodings saturate here.
	PLMinWatts int
	PLMaxWatts int

	// Expected CPU for microcode injection.
	CPUID    uint32
	CPUFlags uint32
}

// Lookup returns the variable for name. Missing names are skippable by the
// caller, never fatal here.
func (p *Profile) Lookup(name string) (Variable, bool) {
	v, ok := p.Variables[name]
	return v, ok
}

var profiles = map[string]*Profile{}

func register(p *Profile) *Profile {
	profiles[p.Name] = p
	return p
}

// ProfileByName returns a built-in profile.
func ProfileByName(name string) (*Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown platform profile %q, available: %v", name, ProfileNames())
	}
	return p, nil
}

// ProfileNames lists the built-in profiles, sorted.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
