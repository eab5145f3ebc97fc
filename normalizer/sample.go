// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package normalizer

import "perfconv/perffile"

// cpuModeToExecMode maps a RecordSample's CPUMode onto the output
// profile's ExecMode label space (§3, §6).
func cpuModeToExecMode(m perffile.CPUMode) ExecMode {
	switch m {
	case perffile.CPUModeKernel:
		return ExecModeHostKernel
	case perffile.CPUModeUser:
		return ExecModeHostUser
	case perffile.CPUModeGuestKernel:
		return ExecModeGuestKernel
	case perffile.CPUModeGuestUser:
		return ExecModeGuestUser
	case perffile.CPUModeHypervisor:
		return ExecModeHypervisor
	default:
		return ExecModeUnknown
	}
}

// isUnmappedSentinel reports whether addr's top nibble marks it as
// deliberately unmapped (§6 "Sentinel address conventions").
func isUnmappedSentinel(addr uint64) bool {
	return addr>>60 == addrUnmappedNibble
}

// callchainContext classifies a callchain entry as one of the
// PERF_CONTEXT_* markers, or reports it is a real address.
func callchainContext(v uint64) (ExecMode, bool) {
	switch v {
	case perffile.CallchainHV:
		return ExecModeHypervisor, true
	case perffile.CallchainKernel:
		return ExecModeHostKernel, true
	case perffile.CallchainUser:
		return ExecModeHostUser, true
	case perffile.CallchainGuest:
		return ExecModeUnknown, true // guest, mode TBD by next marker
	case perffile.CallchainGuestKernel:
		return ExecModeGuestKernel, true
	case perffile.CallchainGuestUser:
		return ExecModeGuestUser, true
	default:
		return ExecModeUnknown, false
	}
}

// handleSample implements §4.2's SAMPLE handling.
func (n *Normalizer) handleSample(r *perffile.RecordSample) {
	n.Stats.TotalSamples++

	pid, tid := r.PID, r.TID
	state, havePid := n.pids[pid]
	if !havePid {
		n.Stats.MissingPID++
		state = newPidState()
	}

	mode := cpuModeToExecMode(r.CPUMode)

	ctx := &SampleContext{
		PID:          pid,
		TID:          tid,
		Time:         r.Time,
		CPU:          r.CPU,
		EventIndex:   n.eventIndex(r.EventAttr),
		ExecMode:     mode,
		MainMapping:  state.main,
		IP:           r.IP,
		Period:       r.Period,
		CodePageSize: r.CodePageSize,
		DataPageSize: r.DataPageSize,
	}

	if ctx.MainMapping == nil {
		n.Stats.MissingMainMapping++
	}

	if r.Format&perffile.SampleFormatIP != 0 {
		ctx.SampleMapping = n.resolveAddr(state, mode, r.IP)
		if ctx.SampleMapping == nil {
			n.Stats.MissingSampleMapping++
		}
	}

	if r.Format&perffile.SampleFormatAddr != 0 {
		ctx.HasAddr = true
		ctx.Addr = r.Addr
		ctx.AddrMapping = n.resolveAddr(state, mode, r.Addr)
		if ctx.AddrMapping == nil {
			n.Stats.MissingAddrMapping++
		}
	}

	if r.Format&(perffile.SampleFormatWeight|perffile.SampleFormatWeightStruct) != 0 {
		if r.Format&perffile.SampleFormatWeightStruct != 0 {
			ctx.Weight = uint64(r.Weights.Var1)
		} else {
			ctx.Weight = r.Weight
		}
	}

	if r.Format&perffile.SampleFormatDataSrc != 0 {
		ctx.DataSrc = decodeDataSrc(r.DataSrc)
	}

	if r.Format&perffile.SampleFormatCGroup != 0 {
		ctx.CGroup = n.cgroups[r.CGroup]
	}

	if r.Format&perffile.SampleFormatCallchain != 0 {
		ctx.Callchain = n.resolveCallchain(state, mode, r.Callchain)
	}

	if r.Format&perffile.SampleFormatBranchStack != 0 {
		ctx.BranchStack = n.resolveBranchStack(state, r.BranchStack)
	}

	n.handler.Sample(ctx)
}

// resolveAddr resolves addr against pid's address space, applying the
// unmapped-sentinel and guest/hypervisor exclusion rules from §4.2.
func (n *Normalizer) resolveAddr(state *PidState, mode ExecMode, addr uint64) *Mapping {
	if isUnmappedSentinel(addr) {
		return nil
	}
	switch mode {
	case ExecModeGuestKernel, ExecModeGuestUser, ExecModeHypervisor:
		// Guest/hypervisor addresses are never resolved against
		// host address spaces.
		return nil
	case ExecModeHostKernel:
		if m := n.kernel.lookup(addr); m != nil {
			return m
		}
		return state.lookup(addr)
	default:
		if m := state.lookup(addr); m != nil {
			return m
		}
		return n.kernel.lookup(addr)
	}
}

// resolveCallchain walks a raw callchain, splitting it on context
// markers and resolving each real address against the address space
// selected by the context active at that point (§4.2, §3).
func (n *Normalizer) resolveCallchain(state *PidState, mode ExecMode, raw []uint64) []Location {
	locs := make([]Location, 0, len(raw))
	cur := mode
	for _, ip := range raw {
		if newMode, isMarker := callchainContext(ip); isMarker {
			cur = newMode
			continue
		}
		m := n.resolveAddr(state, cur, ip)
		if m == nil {
			n.Stats.UnresolvedCallchain++
		}
		locs = append(locs, Location{IP: ip, Mapping: m, Mode: cur})
	}
	return locs
}

// resolveBranchStack resolves every branch-stack entry's from/to
// addresses independently in an Unknown context, per §4.2.
func (n *Normalizer) resolveBranchStack(state *PidState, raw []perffile.BranchRecord) []BranchStackPair {
	out := make([]BranchStackPair, len(raw))
	for i, b := range raw {
		fromMapping := n.resolveAddr(state, ExecModeUnknown, b.From)
		toMapping := n.resolveAddr(state, ExecModeUnknown, b.To)
		if fromMapping == nil || toMapping == nil {
			n.Stats.UnresolvedBranchEntry++
		}
		out[i] = BranchStackPair{
			From:          Location{IP: b.From, Mapping: fromMapping},
			To:            Location{IP: b.To, Mapping: toMapping},
			Mispredicted:  b.Flags&perffile.BranchFlagMispredicted != 0,
			Predicted:     b.Flags&perffile.BranchFlagPredicted != 0,
			InTransaction: b.Flags&perffile.BranchFlagInTransaction != 0,
			Abort:         b.Flags&perffile.BranchFlagAbort != 0,
			Cycles:        uint32(b.Cycles),
		}
	}
	return out
}

// eventIndex returns attr's position in the file's Events slice. A
// nil attr (e.g. single-attribute files omit the id field) maps to 0
// when the file has exactly one event, and to -1 otherwise.
func (n *Normalizer) eventIndex(attr *perffile.EventAttr) int64 {
	if attr == nil {
		if len(n.file.Events) == 1 {
			return 0
		}
		return -1
	}
	for i, ev := range n.file.Events {
		if ev == attr {
			return int64(i)
		}
	}
	return -1
}

// decodeDataSrc turns the parser's structured DataSrc bits into the
// human labels §4.4 specifies.
func decodeDataSrc(d perffile.DataSrc) DataSrcLabel {
	var level string
	switch {
	case d.Level&perffile.DataSrcLevelL1 != 0:
		level = "L1"
	case d.Level&perffile.DataSrcLevelLFB != 0:
		level = "LFB"
	case d.Level&perffile.DataSrcLevelL2 != 0:
		level = "L2"
	case d.Level&perffile.DataSrcLevelL3 != 0:
		level = "L3"
	case d.Level&perffile.DataSrcLevelLocalRAM != 0:
		level = "Local DRAM"
	case d.Level&(perffile.DataSrcLevelRemoteRAM1|perffile.DataSrcLevelRemoteRAM2) != 0:
		level = "Remote DRAM"
	case d.Level&(perffile.DataSrcLevelRemoteCache1|perffile.DataSrcLevelRemoteCache2) != 0:
		level = "Remote Cache"
	case d.Level&perffile.DataSrcLevelIO != 0:
		level = "IO Memory"
	case d.Level&perffile.DataSrcLevelUncached != 0:
		level = "Uncached Memory"
	case d.Remote:
		level = "Remote DRAM"
	default:
		level = "Unknown Level"
	}

	var snoop string
	switch {
	case d.Snoop&perffile.DataSrcSnoopNone != 0:
		snoop = "None"
	case d.Snoop&perffile.DataSrcSnoopHit != 0:
		snoop = "Hit"
	case d.Snoop&perffile.DataSrcSnoopMiss != 0:
		snoop = "Miss"
	case d.Snoop&perffile.DataSrcSnoopHitM != 0:
		snoop = "HitM"
	case d.Snoop&perffile.DataSrcSnoopFwd != 0:
		snoop = "Fwd"
	default:
		snoop = "Unknown Status"
	}

	return DataSrcLabel{Level: level, Snoop: snoop}
}
