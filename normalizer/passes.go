// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package normalizer

import "strings"

// maybeDeduceHugePages runs the optional huge-page deduction pass
// (§9 "Huge-page deduction") over pid's mapping stream after a new
// mapping is installed: a single anonymous mapping whose neighbours
// in mmap order are file-backed mappings of the same filename, whose
// addresses abut both neighbours, and whose file offset is zero or
// continues the earlier neighbour's, is rewritten to extend that
// file, since it is almost always a transparent-huge-page artifact
// rather than a real anonymous region. A run of two or more adjacent
// anonymous mappings is not rewritten.
func (n *Normalizer) maybeDeduceHugePages(pid int, state *PidState) {
	if !n.opts.DeduceHugePages {
		return
	}
	ms := state.allMappings
	for i := 1; i < len(ms)-1; i++ {
		anon := ms[i]
		if anon.Filename != "" {
			continue
		}
		before, after := ms[i-1], ms[i+1]
		if before.Filename == "" || before.Filename != after.Filename {
			continue
		}
		if before.Limit != anon.Start || anon.Limit != after.Start {
			continue
		}
		wantOffset := before.FileOffset + (before.Limit - before.Start)
		if anon.FileOffset != 0 && anon.FileOffset != wantOffset {
			continue
		}

		patched := *anon
		patched.Filename = before.Filename
		patched.FileOffset = wantOffset
		patched.BuildID = before.BuildID
		ms[i] = &patched
		state.install(&patched)
	}
}

// maybeCombineMappings runs the optional mapping-combiner pass (§9
// "Mapping combining"): merges adjacent mappings with identical
// filename/build-id whose file offsets are contiguous, to compact
// artifacts of segment splitting. It refuses to merge device files
// and anonymous-then-file pairs (only file-then-anonymous BSS-tail
// merges are allowed). Protection and map type are not compared.
func (n *Normalizer) maybeCombineMappings(pid int, state *PidState) {
	if !n.opts.CombineMappings {
		return
	}
	ms := state.allMappings
	if len(ms) < 2 {
		return
	}
	combined := make([]*Mapping, 0, len(ms))
	combined = append(combined, ms[0])
	for i := 1; i < len(ms); i++ {
		prev := combined[len(combined)-1]
		cur := ms[i]
		if canCombine(prev, cur) {
			merged := *prev
			merged.Limit = cur.Limit
			combined[len(combined)-1] = &merged
			continue
		}
		combined = append(combined, cur)
	}
	if len(combined) == len(ms) {
		return
	}
	state.allMappings = combined
	state.ranges.Clear()
	for _, m := range combined {
		if m.Start < m.Limit {
			state.ranges.Set(m.Start, m.Limit, m)
		}
	}
}

func canCombine(a, b *Mapping) bool {
	if strings.HasPrefix(a.Filename, "/dev/") || strings.HasPrefix(b.Filename, "/dev/") {
		return false
	}
	if a.Limit != b.Start {
		return false
	}
	if a.Filename == "" && b.Filename != "" {
		// Anonymous-then-file: never merges. Only a file mapping
		// followed by its anonymous BSS tail may merge.
		return false
	}
	if a.Filename != "" && b.Filename == "" {
		// File-then-anonymous BSS tail: allowed regardless of
		// build id agreement, since the tail carries none.
		return a.FileOffset+(a.Limit-a.Start) == b.FileOffset || b.FileOffset == 0
	}
	if a.Filename != b.Filename || a.BuildID.Value != b.BuildID.Value {
		return false
	}
	return a.FileOffset+(a.Limit-a.Start) == b.FileOffset
}
