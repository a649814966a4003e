// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/biosmod/biosmod/pkg/log"
)

// LoadConfig reads a user configuration file (JSON or YAML, by extension).
// A "preset" key selects the built-in base; the file's other keys override
// it field by field.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Config{Preset: "stock"}
	if name := v.GetString("preset"); name != "" {
		base, err := Preset(name)
		if err != nil {
			return nil, err
		}
		cfg = base
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}
	log.Infof("loaded config %s (preset %s)", path, cfg.Preset)
	return &cfg, nil
}

// profileFile is the on-disk shape of a profile override.
type profileFile struct {
	Base           string              `mapstructure:"base"`
	Name           string              `mapstructure:"name"`
	SetupSignature string              `mapstructure:"setup_signature"`
	SetupWindow    uint64              `mapstructure:"setup_window"`
	PCHStrapOffset uint64              `mapstructure:"pch_strap_offset"`
	HAPBit         *uint               `mapstructure:"hap_bit"`
	PLMinWatts     int                 `mapstructure:"pl_min_watts"`
	PLMaxWatts     int                 `mapstructure:"pl_max_watts"`
	CPUID          uint32              `mapstructure:"cpuid"`
	CPUFlags       uint32              `mapstructure:"cpu_flags"`
	Variables      map[string]Variable `mapstructure:"variables"`
}

// LoadProfile reads a profile override file. It starts from the built-in
// profile named by the "base" key (dell-g5-5090 when absent) and overlays
// whatever the file defines, including individual variable offsets.
func LoadProfile(path string) (*Profile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}

	var file profileFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decoding profile %s: %w", path, err)
	}

	baseName := file.Base
	if baseName == "" {
		baseName = DellG55090.Name
	}
	base, err := ProfileByName(baseName)
	if err != nil {
		return nil, err
	}

	p := *base
	p.Variables = make(map[string]Variable, len(base.Variables))
	for name, variable := range base.Variables {
		p.Variables[name] = variable
	}

	if file.Name != "" {
		p.Name = file.Name
	}
	if file.SetupSignature != "" {
		p.SetupSignature = []byte(file.SetupSignature)
	}
	if file.SetupWindow != 0 {
		p.SetupWindow = file.SetupWindow
	}
	if file.PCHStrapOffset != 0 {
		p.PCHStrapOffset = file.PCHStrapOffset
	}
	if file.HAPBit != nil {
		p.HAPBit = *file.HAPBit
	}
	if file.PLMinWatts != 0 {
		p.PLMinWatts = file.PLMinWatts
	}
	if file.PLMaxWatts != 0 {
		p.PLMaxWatts = file.PLMaxWatts
	}
	if file.CPUID != 0 {
		p.CPUID = file.CPUID
	}
	if file.CPUFlags != 0 {
		p.CPUFlags = file.CPUFlags
	}
	for name, variable := range file.Variables {
		p.Variables[name] = variable
	}

	log.Infof("loaded profile %s (base %s, %d variables)", p.Name, baseName, len(p.Variables))
	return &p, nil
}
