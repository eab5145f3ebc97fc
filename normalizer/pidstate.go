// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package normalizer

import "perfconv/intervalmap"

// PidState holds everything the Normalizer tracks for one process:
// its address-space map, the best guess at its main executable, and
// a per-tid comm table (§3 "Per-process state").
//
// Invariant: mappings in ranges are pairwise non-overlapping — this
// follows directly from IntervalMap.Set's overwrite semantics.
type PidState struct {
	ranges intervalmap.IntervalMap[*Mapping]

	main *Mapping

	// tidToComm records the most recently observed thread name
	// for each tid in this pid.
	tidToComm map[int]string

	// allMappings lists every mapping currently installed, in
	// mmap order, for passes (huge-page deduction, combining)
	// that need to scan file-backed runs rather than do point
	// lookups.
	allMappings []*Mapping

	sawAnyMmap bool
}

func newPidState() *PidState {
	return &PidState{tidToComm: make(map[int]string)}
}

// clone deep-copies p for a FORK child, per §4.2 "deep-copy the
// ppid's interval map, last-comm pointer, and main-mapping pointer".
func (p *PidState) clone() *PidState {
	c := newPidState()
	c.main = p.main
	for k, v := range p.tidToComm {
		c.tidToComm[k] = v
	}
	for _, m := range p.allMappings {
		c.install(m)
	}
	c.sawAnyMmap = p.sawAnyMmap
	return c
}

// install adds m to the interval map (overwriting whatever it
// overlaps) and to the ordered mapping list.
func (p *PidState) install(m *Mapping) {
	if m.Start < m.Limit {
		p.ranges.Set(m.Start, m.Limit, m)
	}
	p.allMappings = append(p.allMappings, m)
	p.sawAnyMmap = true
}

// lookup resolves addr to the mapping that currently covers it, if any.
func (p *PidState) lookup(addr uint64) *Mapping {
	v, ok := p.ranges.Lookup(addr)
	if !ok {
		return nil
	}
	return v
}

// clearExec resets exec-sensitive state on a confirmed exec() comm
// event: the main-mapping guess and the entire address-space map are
// dropped, since exec() replaces a process's address space wholesale
// and any mapping observed before it belongs to an image that no
// longer exists. Thread names survive; a later MMAP stream repopulates
// ranges for the new image.
func (p *PidState) clearExec() {
	p.main = nil
	p.ranges.Clear()
	p.allMappings = nil
	p.sawAnyMmap = false
}
