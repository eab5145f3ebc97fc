// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package normalizer

import (
	"strings"

	"perfconv/armspe"
	"perfconv/perffile"
)

const kernelPrefix = "[kernel.kallsyms]"

// auxtraceInfoArmSPE is the AUXTRACE_INFO "type" value perf uses for
// Arm SPE traces (PERF_AUXTRACE_ARM_SPE in tools/perf/util/auxtrace.h).
const auxtraceInfoArmSPE = 5

// Normalize drives every record in the file through the appropriate
// handler, in file order by default or, with Options.SortEventsByTime,
// in timestamp order (§4.2 "Concurrency": single-threaded and
// deterministic either way).
func (n *Normalizer) Normalize() error {
	order := perffile.RecordsFileOrder
	if n.opts.SortEventsByTime {
		order = perffile.RecordsTimeOrder
	}
	records := n.file.Records(order)
	for records.Next() {
		n.dispatch(records.Record)
	}
	return records.Err()
}

func (n *Normalizer) dispatch(r perffile.Record) {
	switch r := r.(type) {
	case *perffile.RecordMmap:
		n.handleMmap(r)
	case *perffile.RecordComm:
		n.handleComm(r)
	case *perffile.RecordFork:
		n.handleFork(r)
	case *perffile.RecordCGroup:
		n.cgroups[r.ID] = r.Path
	case *perffile.RecordLost:
		if !n.useLostSampleEvents {
			n.synthesizeLostSamples(r.Common().PID, r.NumLost)
		}
	case *perffile.RecordLostSamples:
		if n.useLostSampleEvents {
			n.synthesizeLostSamples(r.Common().PID, r.Lost)
		}
	case *perffile.RecordSample:
		n.handleSample(r)
	case *perffile.RecordAuxtraceInfo:
		if r.Kind == auxtraceInfoArmSPE {
			n.isArmSPE = true
		}
	case *perffile.RecordAuxtrace:
		if n.isArmSPE {
			n.handleSpeAuxtrace(r)
		}
	case *perffile.RecordUnknown:
		n.log.WithField("type", r.Type()).Warn("perfconv: skipping record of unknown type")
	}
}

func (n *Normalizer) pidState(pid int) *PidState {
	if pid == KernelPID {
		return n.kernel
	}
	p, ok := n.pids[pid]
	if !ok {
		p = newPidState()
		n.pids[pid] = p
	}
	return p
}

// handleMmap implements §4.2's MMAP/MMAP2/KSYMBOL → mmap_update.
func (n *Normalizer) handleMmap(r *perffile.RecordMmap) {
	start, limit, fileOffset := r.Addr, r.Addr+r.Len, r.FileOffset

	// Legacy perf bug: kernel start synthesized from the first
	// kallsyms symbol at address 0.
	if start <= 1<<63 && fileOffset > 1<<63 && limit > 1<<63 {
		start = fileOffset &^ 0xfff
	}

	buildID := n.resolveBuildID(r)
	mapping := &Mapping{
		Filename:   r.Filename,
		BuildID:    buildID,
		Start:      start,
		Limit:      limit,
		FileOffset: fileOffset,
	}

	pid := r.Common().PID
	state := n.pidState(pid)
	state.install(mapping)
	n.applyMainHeuristic(pid, state, mapping)
	n.maybeDeduceHugePages(pid, state)
	n.maybeCombineMappings(pid, state)

	n.handler.MMap(&MMapContext{PID: pid, Mapping: mapping})
}

// resolveBuildID implements the lookup chain (a)-(d) from §4.2.
func (n *Normalizer) resolveBuildID(r *perffile.RecordMmap) BuildID {
	if len(r.BuildID) > 0 {
		hex := perffile.BuildID(r.BuildID).String()
		if existing, ok := n.filenameToBuildID[r.Filename]; ok && existing.Value == hex {
			return BuildID{Value: hex, Source: BuildIdMmapSameFilename}
		}
		return BuildID{Value: hex, Source: BuildIdMmapDiffFilename}
	}
	if bid, ok := n.filenameToBuildID[r.Filename]; ok {
		return BuildID{Value: bid.Value, Source: bid.Source}
	}
	if strings.HasPrefix(r.Filename, kernelPrefix) && n.maybeKernelBuildID != "" {
		return BuildID{Value: n.maybeKernelBuildID, Source: BuildIdKernelPrefix}
	}
	return BuildID{Value: "", Source: BuildIdMissing}
}

// looksLikeLibrary reports whether filename has a shape the main
// executable heuristic should never pick: shared libraries, deleted
// or versioned variants, virtual/anonymous names, and kernel blobs.
func looksLikeLibrary(filename string) bool {
	switch {
	case strings.HasSuffix(filename, ".ko"):
		return true
	case strings.Contains(filename, ".so"):
		return true
	case strings.HasPrefix(filename, "//anon"):
		return true
	case strings.HasPrefix(filename, "[") && strings.HasSuffix(filename, "]"):
		return true
	case strings.HasPrefix(filename, "/memfd:"):
		return true
	case strings.HasPrefix(filename, "/anon:"):
		return true
	case strings.HasSuffix(filename, "(deleted)"):
		return true
	case strings.Contains(filename, "classes.jsa"):
		return true
	case strings.HasPrefix(filename, kernelPrefix):
		return true
	default:
		return false
	}
}

// applyMainHeuristic implements §4.2's main-executable heuristic and
// the hugepage-text patch for a blank-filename main mapping.
func (n *Normalizer) applyMainHeuristic(pid int, state *PidState, mapping *Mapping) {
	if pid == KernelPID && strings.HasPrefix(mapping.Filename, kernelPrefix) {
		state.main = mapping
		return
	}

	if mapping.Start == 0x400000 || mapping.Start == 0x8048000 {
		state.main = mapping
		return
	}

	if state.main == nil && !looksLikeLibrary(mapping.Filename) {
		state.main = mapping
		return
	}

	if state.main != nil && state.main.Filename == "" &&
		mapping.Start-mapping.FileOffset == 0x400000 {
		patched := *state.main
		patched.Filename = mapping.Filename
		state.main = &patched
	}
}

// handleComm implements §4.2's COMM handling.
func (n *Normalizer) handleComm(r *perffile.RecordComm) {
	if r.PID != r.TID {
		// Only pid==tid comm events rename the process; other
		// comm events (thread renames) just update the tid table.
		state := n.pidState(r.PID)
		state.tidToComm[r.TID] = r.Comm
		n.tidToPid[r.TID] = r.PID
		return
	}

	state := n.pidState(r.PID)
	state.tidToComm[r.TID] = r.Comm
	n.tidToPid[r.TID] = r.PID

	isExec := r.Exec || !state.sawAnyMmap || !n.anyAttrDeclaresCommExec()
	if isExec {
		state.clearExec()
	}

	n.handler.Comm(&CommContext{PID: r.PID, TID: r.TID, Comm: r.Comm, IsExec: isExec})
}

func (n *Normalizer) anyAttrDeclaresCommExec() bool {
	for _, ev := range n.file.Events {
		if ev.Flags&perffile.EventFlagCommExec != 0 {
			return true
		}
	}
	return false
}

// handleFork implements §4.2's FORK handling.
func (n *Normalizer) handleFork(r *perffile.RecordFork) {
	if r.PID == r.PPID {
		// Thread creation within the same process; nothing to do.
		return
	}
	parent := n.pidState(r.PPID)
	n.pids[r.PID] = parent.clone()
	n.tidToPid[r.TID] = r.PID
}

// synthesizeLostSamples implements §4.2's LOST/LOST_SAMPLES handling:
// manufacture numLost fake SAMPLE events against the [lost] mapping.
func (n *Normalizer) synthesizeLostSamples(pid int, numLost uint64) {
	if numLost == 0 {
		return
	}
	lostMapping := n.getOrAddFakeMapping("lost", BuildID{}, 0, LostSampleIP)
	for i := uint64(0); i < numLost; i++ {
		n.Stats.SynthesizedLostSamples++
		n.Stats.TotalSamples++
		n.handler.Sample(&SampleContext{
			PID:           pid,
			IP:            LostSampleIP,
			SampleMapping: lostMapping,
			MainMapping:   n.pidState(pid).main,
			ExecMode:      ExecModeUnknown,
		})
	}
}

// handleSpeAuxtrace implements §4.2.1: decode SPE records from an
// AUXTRACE record's raw payload and synthesize one SAMPLE per record.
//
// The SPE record's file_attrs_index is hard-coded to 0 here, matching
// the open question in §9: the correct behavior when multiple event
// types coexist with SPE is undefined upstream, so this mirrors that
// rather than inventing a resolution.
func (n *Normalizer) handleSpeAuxtrace(r *perffile.RecordAuxtrace) {
	dec := armspe.New(r.Data)
	for {
		rec, ok, err := dec.Next()
		if err != nil {
			n.log.WithError(err).Warn("perfconv: dropping malformed arm SPE record")
			return
		}
		if !ok {
			return
		}

		tid := int(rec.Context.ID)
		pid, havePid := n.tidToPid[tid]
		if !havePid {
			n.Stats.MissingPID++
			pid = tid
		}

		n.Stats.TotalSamples++
		state := n.pidState(pid)
		mode := ExecModeHostUser
		if rec.Context.EL1 || rec.Context.EL2 {
			mode = ExecModeHostKernel
		}

		ctx := &SampleContext{
			PID:         pid,
			TID:         tid,
			Time:        rec.Timestamp,
			ExecMode:    mode,
			EventIndex:  0,
			MainMapping: state.main,
			IP:          rec.IP.Addr,
			SPE: SpeRecord{
				IsSPE:              true,
				TotalLatency:       uint64(rec.TotalLatency),
				IssueLatency:       uint64(rec.IssueLatency),
				TranslationLatency: uint64(rec.TranslationLatency),
			},
		}
		ctx.SampleMapping = n.resolveAddr(state, mode, rec.IP.Addr)
		if ctx.SampleMapping == nil {
			n.Stats.MissingSampleMapping++
		}
		if ctx.MainMapping == nil {
			n.Stats.MissingMainMapping++
		}
		if rec.DataVirt != 0 {
			ctx.HasAddr = true
			ctx.Addr = rec.DataVirt
			ctx.AddrMapping = n.resolveAddr(state, mode, rec.DataVirt)
		}

		n.handler.Sample(ctx)
	}
}

// getOrAddFakeMapping memoizes synthetic mappings the normalizer
// itself creates (the [lost] mapping) so repeated synthesis shares
// one *Mapping.
func (n *Normalizer) getOrAddFakeMapping(comm string, buildID BuildID, commMD5, start uint64) *Mapping {
	key := comm + "\x00" + buildID.Value
	if m, ok := n.fakeMappings[key]; ok {
		return m
	}
	m := &Mapping{
		Filename:          LostMappingFilename,
		BuildID:           buildID,
		Start:             start,
		Limit:             start + 1,
		FilenameMD5Prefix: commMD5,
	}
	if comm != "lost" {
		m.Filename = comm
	}
	n.fakeMappings[key] = m
	return m
}
