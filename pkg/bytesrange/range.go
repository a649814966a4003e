// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bytesrange provides absolute byte ranges into a flat firmware
// buffer. Every parsed tree node and every pending patch carries one.
package bytesrange

import (
	"fmt"
	"sort"
	"strings"
)

// Range is a half-open [Offset, Offset+Length) span of the image buffer.
type Range struct {
	Offset uint64
	Length uint64
}

func (r Range) String() string {
	return fmt.Sprintf(`{"Offset":"0x%x", "Length":"0x%x"}`, r.Offset, r.Length)
}

// End returns the exclusive end offset.
func (r Range) End() uint64 {
	return r.Offset + r.Length
}

// Intersect returns true if ranges r and cmp share at least one byte.
func (r Range) Intersect(cmp Range) bool {
	if r.Length == 0 || cmp.Length == 0 {
		return false
	}
	if r.End() <= cmp.Offset {
		return false
	}
	if r.Offset >= cmp.End() {
		return false
	}
	return true
}

// Contains returns true if cmp lies entirely within r.
func (r Range) Contains(cmp Range) bool {
	return cmp.Offset >= r.Offset && cmp.End() <= r.End()
}

// Ranges is a helper to manipulate multiple Range-s at once.
type Ranges []Range

func (s Ranges) String() string {
	r := make([]string, 0, len(s))
	for _, oneRange := range s {
		r = append(r, oneRange.String())
	}
	return `[` + strings.Join(r, `, `) + `]`
}

// Sort sorts the slice by field Offset.
func (s Ranges) Sort() {
	sort.Slice(s, func(i, j int) bool {
		return s[i].Offset < s[j].Offset
	})
}

// MergeRanges merges ranges whose distance is less than or equal to
// mergeDistance. Input must be sorted.
func MergeRanges(in Ranges, mergeDistance uint64) Ranges {
	if len(in) < 2 {
		return in
	}

	var result Ranges
	entry := in[0]
	for _, nextEntry := range in[1:] {
		if entry.Offset+entry.Length+mergeDistance >= nextEntry.Offset {
			entry.Length = (nextEntry.Offset - entry.Offset) + nextEntry.Length
			continue
		}
		result = append(result, entry)
		entry = nextEntry
	}
	result = append(result, entry)

	return result
}

// SortAndMerge sorts the slice by Offset and merges adjacent ranges.
func (s *Ranges) SortAndMerge() {
	if len(*s) < 2 {
		return
	}
	s.Sort()
	*s = MergeRanges(*s, 0)
}

// IsIn returns whether the index is covered by these ranges.
func (s Ranges) IsIn(index uint64) bool {
	for _, r := range s {
		if r.Offset <= index && index < r.End() {
			return true
		}
	}
	return false
}
