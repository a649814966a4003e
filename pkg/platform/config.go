// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"fmt"
	"sort"
)

// MemoryTimings configures the memory block. Nil fields are left untouched.
type MemoryTimings struct {
	XMP    int  `mapstructure:"xmp"`
	Freq   *int `mapstructure:"freq"`
	TCL    *int `mapstructure:"tcl"`
	TRCD   *int `mapstructure:"trcd"`
	TRP    *int `mapstructure:"trp"`
	TRAS   *int `mapstructure:"tras"`
	TFAW   *int `mapstructure:"tfaw"`
	TRFC   *int `mapstructure:"trfc"`
	TREFI  *int `mapstructure:"trefi"`
	TCWL   *int `mapstructure:"tcwl"`
	RttNom *int `mapstructure:"rtt_nom"`
	RttWr  *int `mapstructure:"rtt_wr"`
	RttPrk *int `mapstructure:"rtt_park"`
}

// FanCurve configures the thermal block. Speeds are percent, temps Celsius,
// six points each.
type FanCurve struct {
	Mode       int    `mapstructure:"mode"` // 0 auto, 1 manual, 2 custom
	Speeds     [6]int `mapstructure:"speeds"`
	Temps      [6]int `mapstructure:"temps"`
	RampRate   int    `mapstructure:"ramp_rate"`
	Hysteresis int    `mapstructure:"hysteresis"`
	MinSpeed   int    `mapstructure:"min_speed"`
	MaxSpeed   int    `mapstructure:"max_speed"`
}

// Config is one complete BIOS configuration. Nil pointer fields mean "leave
// the firmware value alone".
type Config struct {
	Preset string `mapstructure:"preset"`

	// Locks: 0 unlocked, 1 locked. CfgLock 0 unlocks the whole lock set.
	CfgLock int `mapstructure:"cfg_lock"`
	OcLock  int `mapstructure:"oc_lock"`

	// Power limits in watts, Tau in seconds.
	PL1 *int `mapstructure:"pl1"`
	PL2 *int `mapstructure:"pl2"`
	PL3 *int `mapstructure:"pl3"`
	PL4 *int `mapstructure:"pl4"`
	Tau *int `mapstructure:"tau"`

	// Voltage offsets in mV, negative is undervolt.
	VcoreOffset *int `mapstructure:"vcore_offset"`
	RingOffset  *int `mapstructure:"ring_offset"`
	SAOffset    *int `mapstructure:"sa_offset"`
	IOOffset    *int `mapstructure:"io_offset"`

	// Turbo ratios, raw multiplier per active-core count.
	Turbo1C *int `mapstructure:"turbo_1c"`
	Turbo2C *int `mapstructure:"turbo_2c"`
	Turbo3C *int `mapstructure:"turbo_3c"`
	Turbo4C *int `mapstructure:"turbo_4c"`
	Turbo5C *int `mapstructure:"turbo_5c"`
	Turbo6C *int `mapstructure:"turbo_6c"`

	// C-states.
	CStates   *int `mapstructure:"c_states"`
	C1E       *int `mapstructure:"c1e"`
	PkgCState *int `mapstructure:"pkg_c_state"`

	Memory *MemoryTimings `mapstructure:"memory"`

	// PCIe.
	Above4G      *int `mapstructure:"above_4g"`
	ResizableBAR *int `mapstructure:"resizable_bar"`

	FanCurve *FanCurve `mapstructure:"fan_curve"`

	// MEDisable 1 sets the HAP bit. Critical, read-back verified.
	MEDisable *int `mapstructure:"me_disable"`
}

func intp(v int) *int { return &v }

var presets = map[string]Config{
	"stock": {
		Preset:  "stock",
		CfgLock: 1,
		OcLock:  1,
	},

	"balanced": {
		Preset:      "balanced",
		PL1:         intp(65),
		PL2:         intp(90),
		Tau:         intp(28),
		VcoreOffset: intp(-25),
		RingOffset:  intp(-25),
		CStates:     intp(1),
		C1E:         intp(1),
		PkgCState:   intp(7),
	},

	"perf": {
		Preset:      "perf",
		PL1:         intp(85),
		PL2:         intp(105),
		Tau:         intp(56),
		VcoreOffset: intp(-15),
		RingOffset:  intp(-15),
		CStates:     intp(1),
		C1E:         intp(1),
		PkgCState:   intp(3),
	},

	"gaming": {
		Preset:       "gaming",
		PL1:          intp(80),
		PL2:          intp(100),
		PL3:          intp(110),
		Tau:          intp(40),
		VcoreOffset:  intp(-20),
		RingOffset:   intp(-20),
		CStates:      intp(1),
		C1E:          intp(1),
		PkgCState:    intp(3),
		Above4G:      intp(1),
		ResizableBAR: intp(1),
		FanCurve: &FanCurve{
			Mode:       1,
			Speeds:     [6]int{35, 55, 75, 90, 100, 100},
			Temps:      [6]int{45, 55, 65, 75, 85, 95},
			RampRate:   5,
			Hysteresis: 3,
			MinSpeed:   20,
			MaxSpeed:   100,
		},
	},

	// max exceeds the Dell VRM spec, the builder warns.
	"max": {
		Preset:       "max",
		PL1:          intp(95),
		PL2:          intp(115),
		PL3:          intp(125),
		PL4:          intp(135),
		Tau:          intp(128),
		VcoreOffset:  intp(-10),
		RingOffset:   intp(-10),
		CStates:      intp(0),
		C1E:          intp(0),
		PkgCState:    intp(0),
		Above4G:      intp(1),
		ResizableBAR: intp(1),
		FanCurve: &FanCurve{
			Mode:       1,
			Speeds:     [6]int{40, 60, 80, 95, 100, 100},
			Temps:      [6]int{40, 50, 60, 70, 80, 90},
			RampRate:   5,
			Hysteresis: 3,
			MinSpeed:   30,
			MaxSpeed:   100,
		},
	},

	"silent": {
		Preset:      "silent",
		PL1:         intp(45),
		PL2:         intp(65),
		Tau:         intp(20),
		VcoreOffset: intp(-40),
		RingOffset:  intp(-40),
		CStates:     intp(1),
		C1E:         intp(1),
		PkgCState:   intp(10),
		FanCurve: &FanCurve{
			Mode:       1,
			Speeds:     [6]int{20, 30, 45, 60, 75, 90},
			Temps:      [6]int{50, 60, 70, 80, 90, 100},
			RampRate:   5,
			Hysteresis: 3,
			MinSpeed:   15,
			MaxSpeed:   80,
		},
	},

	"uv": {
		Preset:      "uv",
		VcoreOffset: intp(-75),
		RingOffset:  intp(-60),
		SAOffset:    intp(-50),
		IOOffset:    intp(-50),
	},

	"bare": {
		Preset:    "bare",
		MEDisable: intp(1),
	},
}

// Preset returns the named built-in configuration by value, so callers can
// mutate their copy.
func Preset(name string) (Config, error) {
	c, ok := presets[name]
	if !ok {
		return Config{}, fmt.Errorf("unknown preset %q, available: %v", name, PresetNames())
	}
	return c, nil
}

// PresetNames lists the built-in presets, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
