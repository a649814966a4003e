// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// setupdump prints the decoded Setup store of a firmware image: every
// variable the platform profile defines, with its offset, raw bytes and
// decoded value.
package main

import (
	"encoding/binary"
	"fmt"
	"log"
	"sort"

	flag "github.com/spf13/pflag"

	"github.com/biosmod/biosmod/pkg/bytesrange"
	"github.com/biosmod/biosmod/pkg/patch"
	"github.com/biosmod/biosmod/pkg/platform"
	"github.com/biosmod/biosmod/pkg/uefi"
)

var profileName = flag.StringP("profile", "p", "dell-g5-5090", "platform profile")

func main() {
	flag.Parse()

	a := flag.Args()
	if len(a) != 1 {
		log.Fatal("Usage: setupdump [-p profile] <firmware-image>")
	}

	profile, err := platform.ProfileByName(*profileName)
	if err != nil {
		log.Fatal(err)
	}
	img, err := uefi.ParseFile(a[0])
	if err != nil {
		log.Fatal(err)
	}
	setup, err := img.FindSetupStore(profile.SetupSignature, profile.SetupWindow)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("setup store at %#x, profile %s\n\n", setup.Range.Offset, profile.Name)

	names := make([]string, 0, len(profile.Variables))
	for name := range profile.Variables {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return profile.Variables[names[i]].Offset < profile.Variables[names[j]].Offset
	})

	for _, name := range names {
		v := profile.Variables[name]
		raw, err := img.ReadAt(bytesrange.Range{
			Offset: setup.Range.Offset + v.Offset,
			Length: uint64(v.Width),
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%#06x  %-8s % -10x %-12s %s\n", v.Offset, name, raw, decode(name, raw), v.Desc)
	}
}

// decode renders the raw bytes through the matching codec where one exists.
func decode(name string, raw []byte) string {
	switch {
	case len(raw) == 2 && (name == "Pl1" || name == "Pl2" || name == "Pl3" || name == "Pl4"):
		return fmt.Sprintf("%dW", patch.DecodePowerLimit(binary.LittleEndian.Uint16(raw)))
	case len(raw) == 2 && (name == "VcO" || name == "RgO" || name == "SaO" || name == "IoO"):
		return fmt.Sprintf("%dmV", patch.DecodeVoltageOffset(int16(binary.LittleEndian.Uint16(raw))))
	case name == "Tau":
		return fmt.Sprintf("%ds", patch.DecodeTau(raw[0]))
	case len(raw) == 1:
		return fmt.Sprintf("%d", raw[0])
	case len(raw) == 2:
		return fmt.Sprintf("%d", binary.LittleEndian.Uint16(raw))
	}
	return ""
}
