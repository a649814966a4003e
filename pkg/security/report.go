// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package security

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// String renders the report as a table plus the aggregate verdict.
func (r *Report) String() string {
	if len(r.Findings) == 0 {
		return "no security findings\nverdict: SAFE TO FLASH (with caution)\n"
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Severity", "Kind", "Offset", "Message"})
	for _, f := range r.Findings {
		t.AppendRow(table.Row{f.Severity, f.Kind, fmt.Sprintf("%#x", f.Offset), f.Message})
	}

	var b strings.Builder
	b.WriteString(t.Render())
	b.WriteByte('\n')
	if r.SafeToFlash() {
		b.WriteString("verdict: SAFE TO FLASH (with caution)\n")
	} else {
		fmt.Fprintf(&b, "verdict: DO NOT FLASH (%d blocking findings)\n", len(r.HardFails()))
	}
	return b.String()
}
