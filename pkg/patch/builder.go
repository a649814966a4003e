// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package patch

import (
	"encoding/binary"
	"fmt"

	"github.com/biosmod/biosmod/pkg/bytesrange"
	"github.com/biosmod/biosmod/pkg/log"
	"github.com/biosmod/biosmod/pkg/platform"
	"github.com/biosmod/biosmod/pkg/uefi"
)

// Dell G-series VRM spec. The builder warns above these, the profile bounds
// still saturate the encoding.
const (
	vrmSpecPL1 = 95
	vrmSpecPL2 = 115
)

// unlockSet is the lock bits cleared together when the config unlocks.
var unlockSet = []string{"CfgLk", "OcLk", "PlLk", "BiosLk", "PkgLk", "TdpLk"}

// Builder translates a platform profile plus a configuration into a patch
// batch. Settings the profile does not define are skipped with a warning,
// never fatal.
type Builder struct {
	img     *uefi.Image
	profile *platform.Profile
	patches []Patch
}

// NewBuilder returns a builder for one image and profile.
func NewBuilder(img *uefi.Image, profile *platform.Profile) *Builder {
	return &Builder{img: img, profile: profile}
}

// FromConfig appends every patch the configuration implies and returns the
// accumulated batch.
func (b *Builder) FromConfig(cfg *platform.Config) []Patch {
	if cfg.CfgLock == 0 {
		for _, name := range unlockSet {
			b.addByte(name, 0)
		}
	}

	if cfg.PL1 != nil {
		if *cfg.PL1 > vrmSpecPL1 {
			log.Warnf("PL1 %dW exceeds the board VRM spec (%dW)", *cfg.PL1, vrmSpecPL1)
		}
		b.addPowerLimit("Pl1", *cfg.PL1)
		b.addByte("Pl1En", 1)
	}
	if cfg.PL2 != nil {
		if *cfg.PL2 > vrmSpecPL2 {
			log.Warnf("PL2 %dW exceeds the board VRM spec (%dW)", *cfg.PL2, vrmSpecPL2)
		}
		b.addPowerLimit("Pl2", *cfg.PL2)
		b.addByte("Pl2En", 1)
	}
	if cfg.PL3 != nil {
		b.addPowerLimit("Pl3", *cfg.PL3)
	}
	if cfg.PL4 != nil {
		b.addPowerLimit("Pl4", *cfg.PL4)
	}
	if cfg.Tau != nil {
		b.addByte("Tau", EncodeTau(*cfg.Tau))
	}

	if cfg.VcoreOffset != nil {
		b.addVoltageOffset("VcO", *cfg.VcoreOffset)
	}
	if cfg.RingOffset != nil {
		b.addVoltageOffset("RgO", *cfg.RingOffset)
	}
	if cfg.SAOffset != nil {
		b.addVoltageOffset("SaO", *cfg.SAOffset)
	}
	if cfg.IOOffset != nil {
		b.addVoltageOffset("IoO", *cfg.IOOffset)
	}

	b.addOptByte("R1", cfg.Turbo1C)
	b.addOptByte("R2", cfg.Turbo2C)
	b.addOptByte("R3", cfg.Turbo3C)
	b.addOptByte("R4", cfg.Turbo4C)
	b.addOptByte("R5", cfg.Turbo5C)
	b.addOptByte("R6", cfg.Turbo6C)

	b.addOptByte("CSt", cfg.CStates)
	b.addOptByte("C1E", cfg.C1E)
	b.addOptByte("PkgC", cfg.PkgCState)

	if cfg.Memory != nil {
		b.memoryPatches(cfg.Memory)
	}

	b.addOptByte("A4G", cfg.Above4G)
	b.addOptByte("RBar", cfg.ResizableBAR)

	if cfg.FanCurve != nil {
		b.fanPatches(cfg.FanCurve)
	}

	if cfg.MEDisable != nil && *cfg.MEDisable == 1 {
		b.hapPatch()
	}

	return b.patches
}

// Patches returns the batch accumulated so far.
func (b *Builder) Patches() []Patch {
	return b.patches
}

func (b *Builder) memoryPatches(m *platform.MemoryTimings) {
	b.addByte("Xmp", uint8(m.XMP))
	if m.Freq != nil {
		b.addWord("MFreq", uint16(*m.Freq))
	}
	b.addOptByte("tCL", m.TCL)
	b.addOptByte("tRCD", m.TRCD)
	b.addOptByte("tRP", m.TRP)
	b.addOptByte("tRAS", m.TRAS)
	b.addOptByte("tFAW", m.TFAW)
	if m.TRFC != nil {
		b.addWord("tRFC", uint16(*m.TRFC))
	}
	if m.TREFI != nil {
		b.addWord("tREFI", uint16(*m.TREFI))
	}
	b.addOptByte("tCWL", m.TCWL)
	b.addOptByte("RttNom", m.RttNom)
	b.addOptByte("RttWr", m.RttWr)
	b.addOptByte("RttPrk", m.RttPrk)
}

func (b *Builder) fanPatches(f *platform.FanCurve) {
	b.addByte("FanCtl", 1)
	b.addByte("FanMd", uint8(f.Mode))
	speedNames := []string{"F1", "F2", "F3", "F4", "F5", "F6"}
	tempNames := []string{"T1", "T2", "T3", "T4", "T5", "T6"}
	for i := 0; i < 6; i++ {
		b.addByte(speedNames[i], uint8(f.Speeds[i]))
		b.addByte(tempNames[i], uint8(f.Temps[i]))
	}
	b.addByte("FRamp", uint8(f.RampRate))
	b.addByte("FHyst", uint8(f.Hysteresis))
	b.addByte("FMin", uint8(f.MinSpeed))
	b.addByte("FMax", uint8(f.MaxSpeed))
}

// hapPatch sets the HAP bit in the PCH strap dword, disabling the ME. The
// new value depends on the current strap, so it is computed here and the
// patch is marked critical for read-back.
func (b *Builder) hapPatch() {
	strap := bytesrange.Range{Offset: b.profile.PCHStrapOffset, Length: 4}
	cur, err := b.img.ReadAt(strap)
	if err != nil {
		log.Warnf("skipping HAP bit, PCH strap unreadable: %v", err)
		return
	}
	val := binary.LittleEndian.Uint32(cur)
	set := val | 1<<b.profile.HAPBit
	if set == val {
		log.Infof("HAP bit already set, ME stays disabled")
		return
	}
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, set)
	b.patches = append(b.patches, Patch{
		Offset:   strap.Offset,
		Data:     data,
		Label:    "Hap: disable ME via PCH strap",
		Critical: true,
	})
}

func (b *Builder) addByte(name string, value uint8) {
	b.add(name, []byte{value})
}

func (b *Builder) addOptByte(name string, value *int) {
	if value == nil {
		return
	}
	b.addByte(name, uint8(*value))
}

func (b *Builder) addWord(name string, value uint16) {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, value)
	b.add(name, data)
}

func (b *Builder) addPowerLimit(name string, watts int) {
	b.addWord(name, EncodePowerLimit(watts, b.profile.PLMinWatts, b.profile.PLMaxWatts))
}

func (b *Builder) addVoltageOffset(name string, mv int) {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, uint16(EncodeVoltageOffset(mv)))
	b.add(name, data)
}

// add appends a named patch if the profile defines the variable. Missing
// names degrade to a warning so one unknown setting never sinks a preset.
func (b *Builder) add(name string, data []byte) {
	variable, ok := b.profile.Lookup(name)
	if !ok {
		log.Warnf("profile %s does not define %s, skipping", b.profile.Name, name)
		return
	}
	b.patches = append(b.patches, Patch{
		Name:  name,
		Data:  data,
		Label: fmt.Sprintf("%s: %s", name, variable.Desc),
	})
}
