// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package report

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/biosmod/biosmod/cmds/biosmod/commands"
	"github.com/biosmod/biosmod/pkg/platform"
	"github.com/biosmod/biosmod/pkg/uefi"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	ImagePath   string  `short:"f" long:"image" description:"path to the firmware image" required:"true"`
	ProfileName string  `short:"p" long:"profile" description:"platform profile, used to locate the Setup store" default:"dell-g5-5090"`
	Format      *string `long:"format" description:"output format [text, json]"`
}

type Format int

const (
	FormatUndefined = Format(iota)
	FormatText
	FormatJSON
)

func ParseFormat(s string) Format {
	switch strings.Trim(strings.ToLower(s), " ") {
	case "text":
		return FormatText
	case "json":
		return FormatJSON
	}
	return FormatUndefined
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "prints the parsed image structure"
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

	format := FormatText
	if cmd.Format != nil {
		format = ParseFormat(*cmd.Format)
		if format == FormatUndefined {
			return commands.ErrArgs{Err: fmt.Errorf("unknown format '%s'", *cmd.Format)}
		}
	}

	img, err := uefi.ParseFile(cmd.ImagePath)
	if err != nil {
		return fmt.Errorf("unable to parse the firmware image '%s': %w", cmd.ImagePath, err)
	}
	if profile, err := platform.ProfileByName(cmd.ProfileName); err == nil {
		// The Setup store is informational here; a missing one is fine.
		_, _ = img.FindSetupStore(profile.SetupSignature, profile.SetupWindow)
	}

	switch format {
	case FormatText:
		printText(img)
	case FormatJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(img)
	}
	return nil
}

func printText(img *uefi.Image) {
	fmt.Printf("image: %s total\n", humanize.IBytes(img.Len()))
	if img.Descriptor != nil {
		locked := "unlocked"
		if img.Descriptor.Locked() {
			locked = "locked"
		}
		fmt.Printf("flash descriptor at %#x, %s\n", img.Descriptor.Offset, locked)
	}
	if img.Setup != nil {
		fmt.Printf("setup store at %#x (%s window)\n", img.Setup.Range.Offset, humanize.IBytes(img.Setup.Range.Length))
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"#", "offset", "length", "type", "files", "free"})
	for i, fv := range img.Volumes {
		tw.AppendRow(table.Row{
			i,
			fmt.Sprintf("%#x", fv.Range.Offset),
			humanize.IBytes(fv.Length),
			fv.FVType,
			len(fv.Files),
			humanize.IBytes(fv.FreeSpace),
		})
	}
	tw.Render()

	for i, fv := range img.Volumes {
		if len(fv.Files) == 0 {
			continue
		}
		fmt.Printf("\nvolume %d files:\n", i)
		ft := table.NewWriter()
		ft.SetOutputMirror(os.Stdout)
		ft.SetStyle(table.StyleLight)
		ft.AppendHeader(table.Row{"guid", "type", "offset", "size", "name"})
		for _, f := range fv.Files {
			name := fileName(f)
			ft.AppendRow(table.Row{
				f.Header.Name.String(),
				fmt.Sprintf("%#02x", f.Header.Type),
				fmt.Sprintf("%#x", f.Range.Offset),
				humanize.IBytes(f.Header.ExtendedSize),
				name,
			})
		}
		ft.Render()
	}
}

// fileName returns the file's UI section name if it has one.
func fileName(f *uefi.File) string {
	if f.Erased {
		return "(deleted)"
	}
	for _, s := range f.Sections {
		if s.Name != "" {
			return s.Name
		}
	}
	return ""
}
