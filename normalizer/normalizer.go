// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package normalizer walks the event stream decoded by perffile and
// reconstructs, per process, which memory mapping owned every
// sampled address at sample time. It drives a small set of
// subscriber callbacks (Sample, Comm, MMap) with fully enriched
// context, the same shape a downstream converter needs to build a
// pprof-style profile.
package normalizer

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"perfconv/intervalmap"
	"perfconv/perffile"
)

// KernelPID is the PID perf uses for synthesized mmap records
// describing the kernel binary and *.ko modules.
const KernelPID = -1 // ^uint32(0) reinterpreted as a 32-bit signed value

// Sentinel address conventions (§6).
const (
	// addrUnmappedNibble is the top nibble that marks a sample
	// address as deliberately unmapped.
	addrUnmappedNibble = 0x8

	// LostSampleIP is the address synthesized for samples
	// manufactured from LOST/LOST_SAMPLES events.
	LostSampleIP = uint64(0x9) << 60

	// LostMappingFilename names the synthetic mapping backing
	// LostSampleIP.
	LostMappingFilename = "[lost]"
)

// Options configures a Normalizer.
type Options struct {
	// DeduceHugePages enables the second pass that folds
	// transparent-huge-page anonymous mappings into the
	// surrounding file-backed mapping.
	DeduceHugePages bool

	// CombineMappings enables the third pass that merges
	// adjacent mappings with matching filename/build-id and
	// contiguous file offsets. Protection is not compared.
	CombineMappings bool

	// SortEventsByTime requests RecordsTimeOrder instead of
	// RecordsFileOrder, at the cost of an extra buffered pass over
	// the file (§5).
	SortEventsByTime bool

	// InjectedBuildIDs supplies filename -> build-id pairs from
	// outside the perf.data file (e.g. a separately distributed
	// build-id manifest). These seed the filename->build-id
	// table with source FilenameInjected.
	InjectedBuildIDs map[string]string

	// Log receives diagnostic warnings. If nil, logrus.StandardLogger() is used.
	Log *logrus.Logger
}

// Handler receives normalized events. A comm event that indicates an
// exec() is reported with CommContext.IsExec set.
type Handler interface {
	Sample(ctx *SampleContext)
	Comm(ctx *CommContext)
	MMap(ctx *MMapContext)
}

// Stats counts non-fatal degradations seen while normalizing, per §7.
// Every field is a count of samples or events affected.
type Stats struct {
	MissingMainMapping     int64
	MissingSampleMapping   int64
	MissingAddrMapping     int64
	UnresolvedCallchain    int64
	UnresolvedBranchEntry  int64
	MissingPID             int64
	SynthesizedLostSamples int64
	UnknownEventIDs        int64
	TotalSamples           int64
}

// WarnIfDegraded logs a warning for every stats category whose count
// exceeds 1% of the total processed samples, per §7.
func (s *Stats) WarnIfDegraded(log *logrus.Logger) {
	if s.TotalSamples == 0 {
		return
	}
	threshold := s.TotalSamples / 100
	check := func(name string, n int64) {
		if n > threshold {
			log.WithFields(logrus.Fields{
				"category": name,
				"count":    n,
				"total":    s.TotalSamples,
			}).Warn("perfconv: data quality degradation exceeds 1% of samples")
		}
	}
	check("missing_main_mapping", s.MissingMainMapping)
	check("missing_sample_mapping", s.MissingSampleMapping)
	check("missing_addr_mapping", s.MissingAddrMapping)
	check("unresolved_callchain", s.UnresolvedCallchain)
	check("unresolved_branch_entry", s.UnresolvedBranchEntry)
	check("missing_pid", s.MissingPID)
	check("synthesized_lost_samples", s.SynthesizedLostSamples)
	check("unknown_event_ids", s.UnknownEventIDs)
}

// Normalizer drives a single pass over a *perffile.File's records.
type Normalizer struct {
	file    *perffile.File
	handler Handler
	opts    Options
	log     *logrus.Logger

	pids   map[int]*PidState
	kernel *PidState

	// filenameToBuildID mirrors the source's filename_to_build_id_
	// table, populated from HEADER_BUILD_ID and any injected ids.
	filenameToBuildID map[string]BuildID

	// maybeKernelBuildID is the most recently observed
	// MISC_KERNEL build-id, used as a fallback for
	// "[kernel.kallsyms]" mappings with no direct match.
	maybeKernelBuildID string

	// fakeMappings memoizes synthetic mappings (the [lost]
	// mapping) keyed by a string built from comm+build-id so
	// repeated lookups share one Mapping.
	fakeMappings map[string]*Mapping

	// cgroups maps a cgroup id to its path, from RecordCGroup.
	cgroups map[uint64]string

	// tidToPid is populated from every COMM and FORK event; Arm
	// SPE decoding uses it to recover a pid from a bare tid.
	tidToPid map[int]int

	useLostSampleEvents bool

	// isArmSPE is set once a RecordAuxtraceInfo declares the Arm
	// SPE auxtrace type; only then are subsequent RecordAuxtrace
	// payloads decoded as SPE packet streams (§4.2.1).
	isArmSPE bool

	Stats Stats
}

// New creates a Normalizer over file that will drive handler.
func New(file *perffile.File, handler Handler, opts Options) *Normalizer {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	n := &Normalizer{
		file:              file,
		handler:           handler,
		opts:              opts,
		log:               log,
		pids:              make(map[int]*PidState),
		filenameToBuildID: make(map[string]BuildID),
		fakeMappings:      make(map[string]*Mapping),
		cgroups:           make(map[uint64]string),
		tidToPid:          make(map[int]int),
	}
	n.kernel = newPidState()
	n.loadBuildIDTable()
	n.useLostSampleEvents = detectLostSampleSupport(file.Meta.Version)
	return n
}

func (n *Normalizer) loadBuildIDTable() {
	for filename, hex := range n.opts.InjectedBuildIDs {
		n.filenameToBuildID[filename] = BuildID{Value: hex, Source: BuildIdFilenameInjected}
	}
	for _, bid := range n.file.Meta.BuildIDs {
		filename := NameOrMD5Prefix(bid.Filename, 0)
		hex := bid.BuildID.String()
		if existing, ok := n.filenameToBuildID[filename]; ok && existing.Value != hex {
			n.log.WithFields(logrus.Fields{
				"filename": filename,
				"was":      existing.Value,
				"now":      hex,
			}).Warn("perfconv: observed build id changed for file path")
			n.filenameToBuildID[filename] = BuildID{Value: hex, Source: BuildIdFilenameAmbiguous}
			continue
		}
		n.filenameToBuildID[filename] = BuildID{Value: hex, Source: BuildIdFilename}

		if bid.CPUMode == perffile.CPUModeKernel && !isKernelModuleName(filename) {
			if n.maybeKernelBuildID != "" && n.maybeKernelBuildID != hex {
				n.log.WithFields(logrus.Fields{
					"filename": filename,
					"build_id": hex,
					"first":    n.maybeKernelBuildID,
				}).Warn("perfconv: multiple kernel build ids found; using the first")
				continue
			}
			n.maybeKernelBuildID = hex
		}
	}
}

// detectLostSampleSupport reports whether the recording perf's
// version is >= 6.1, the version that introduced LOST_SAMPLES events
// with an accurate num_lost count.
func detectLostSampleSupport(version string) bool {
	var v1, v2 int
	if _, err := fmt.Sscanf(version, "%d.%d", &v1, &v2); err != nil {
		return false
	}
	return v1 > 6 || (v1 == 6 && v2 >= 1)
}

func isKernelModuleName(filename string) bool {
	const suffix = ".ko"
	return len(filename) >= len(suffix) && filename[len(filename)-len(suffix):] == suffix
}
