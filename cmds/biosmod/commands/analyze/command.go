// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package analyze

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/biosmod/biosmod/cmds/biosmod/commands"
	"github.com/biosmod/biosmod/pkg/security"
	"github.com/biosmod/biosmod/pkg/uefi"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	ImagePath string `short:"f" long:"image" description:"path to the firmware image" required:"true"`
	JSON      bool   `long:"json" description:"print findings as JSON"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "runs the security hazard analysis and prints the findings"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return ""
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrArgs{Err: fmt.Errorf("there are extra arguments")}
	}

	img, err := uefi.ParseFile(cmd.ImagePath)
	if err != nil {
		return fmt.Errorf("unable to parse the firmware image '%s': %w", cmd.ImagePath, err)
	}
	report := security.Analyze(img)

	if cmd.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Println(report)
	}

	if !report.SafeToFlash() {
		return fmt.Errorf("%d blocking findings", len(report.HardFails()))
	}
	return nil
}
