// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// biosmod analyzes and patches Dell desktop UEFI firmware images.
//
// Synopsis:
//     biosmod analyze -f IMAGE [options]
//     biosmod patch -f IMAGE [options]
//     biosmod report -f IMAGE [options]
//
// An example:
//     biosmod analyze -f firmware.bin
//     biosmod patch -f firmware.bin -o patched.bin --preset gaming
//     biosmod patch -f firmware.bin --config my.yaml --dry-run
//     biosmod report -f firmware.bin --format=json
//
// Description:
//     analyze: Run the security hazard analysis and print the findings
//     patch:   Apply a settings preset or config file through the full pipeline
//     report:  Print the parsed image structure
package main

import (
	"log"

	"github.com/jessevdk/go-flags"

	"github.com/biosmod/biosmod/cmds/biosmod/commands"
	"github.com/biosmod/biosmod/cmds/biosmod/commands/analyze"
	"github.com/biosmod/biosmod/cmds/biosmod/commands/patchimage"
	"github.com/biosmod/biosmod/cmds/biosmod/commands/report"
)

var (
	knownCommands = map[string]commands.Command{
		"analyze": &analyze.Command{},
		"patch":   &patchimage.Command{},
		"report":  &report.Command{},
	}
)

func main() {
	flagsParser := flags.NewParser(nil, flags.Default)
	for commandName, command := range knownCommands {
		_, err := flagsParser.AddCommand(commandName, command.ShortDescription(), command.LongDescription(), command)
		if err != nil {
			panic(err)
		}
	}

	// parse arguments and execute the appropriate command
	if _, err := flagsParser.Parse(); err != nil {
		log.Fatal(err)
	}
}
