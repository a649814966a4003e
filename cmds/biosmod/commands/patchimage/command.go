// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package patchimage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/biosmod/biosmod/cmds/biosmod/commands"
	"github.com/biosmod/biosmod/pkg/patch"
	"github.com/biosmod/biosmod/pkg/pipeline"
	"github.com/biosmod/biosmod/pkg/platform"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	ImagePath   string `short:"f" long:"image" description:"path to the firmware image" required:"true"`
	OutputPath  string `short:"o" long:"output" description:"path for the patched image (default: IMAGE.patched)"`
	ProfileName string `short:"p" long:"profile" description:"platform profile" default:"dell-g5-5090"`
	ProfilePath string `long:"profile-file" description:"YAML/JSON profile override file"`
	Preset      string `long:"preset" description:"settings preset" default:"stock"`
	ConfigPath  string `short:"c" long:"config" description:"YAML/JSON settings file (overrides --preset)"`
	Microcode   string `long:"microcode" description:"microcode update file to inject into free space"`
	Force       bool   `long:"force" description:"flash despite blocking security findings"`
	DryRun      bool   `short:"n" long:"dry-run" description:"run everything but write nothing"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "applies a settings preset or config file through the full pipeline"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return fmt.Sprintf("Profiles: %s\nPresets: %s",
		strings.Join(platform.ProfileNames(), ", "),
		strings.Join(platform.PresetNames(), ", "))
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrArgs{Err: fmt.Errorf("there are extra arguments")}
	}

	profile, err := platform.ProfileByName(cmd.ProfileName)
	if err != nil {
		return commands.ErrArgs{Err: err}
	}
	if cmd.ProfilePath != "" {
		if profile, err = platform.LoadProfile(cmd.ProfilePath); err != nil {
			return fmt.Errorf("unable to load the profile file '%s': %w", cmd.ProfilePath, err)
		}
	}

	var cfg *platform.Config
	if cmd.ConfigPath != "" {
		if cfg, err = platform.LoadConfig(cmd.ConfigPath); err != nil {
			return fmt.Errorf("unable to load the config file '%s': %w", cmd.ConfigPath, err)
		}
	} else {
		preset, err := platform.Preset(cmd.Preset)
		if err != nil {
			return commands.ErrArgs{Err: err}
		}
		cfg = &preset
	}

	var microcode []byte
	if cmd.Microcode != "" {
		if microcode, err = os.ReadFile(cmd.Microcode); err != nil {
			return fmt.Errorf("unable to read the microcode file '%s': %w", cmd.Microcode, err)
		}
	}

	output := cmd.OutputPath
	if output == "" {
		output = cmd.ImagePath + ".patched"
	}

	out, err := pipeline.Run(context.Background(), pipeline.RunConfig{
		InputPath:       cmd.ImagePath,
		OutputPath:      output,
		Profile:         profile,
		Config:          cfg,
		Microcode:       microcode,
		MicrocodeOffset: patch.AutoOffset,
		Force:           cmd.Force,
		DryRun:          cmd.DryRun,
	})
	if out != nil && out.Findings != nil {
		fmt.Println(out.Findings)
	}
	if err != nil {
		return fmt.Errorf("pipeline stopped in state %v: %w", out.State, err)
	}
	if len(out.Log) > 0 {
		fmt.Println(out.Log)
	}
	return nil
}
