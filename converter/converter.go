// Package converter implements §4.4: turning the normalizer's stream
// of enriched Sample/Comm/MMap callbacks into pprof-style profiles,
// one per process (or one overall, when grouping by pid is disabled).
//
// Grounded on original_source/src/perf_data_handler.cc's ProcessSample
// and aclements-go-perf/perfsession/symbolize.go's stack-walking shape,
// adapted to build profile.Location/Sample rows through profilebuilder
// instead of resolving symbols.
package converter

import (
	"fmt"

	"github.com/google/pprof/profile"
	"github.com/samber/lo"

	"perfconv/normalizer"
	"perfconv/perffile"
	"perfconv/profilebuilder"
)

// Options configures a Converter.
type Options struct {
	// GroupByPIDs, when true, produces one Builder per pid instead
	// of a single combined profile (§4.4, §6).
	GroupByPIDs bool

	// AddDataAddressFrames prepends a synthetic leaf frame at the
	// sample's data address, ahead of the instruction-pointer
	// frame, for samples that carry one (§4.4).
	AddDataAddressFrames bool

	// LabelFields narrows which SampleKey fields participate in
	// grouping and get emitted as profile labels.
	LabelFields LabelFields
}

// ProcessProfile is one process's worth of accumulated profile state (§6).
type ProcessProfile struct {
	PID                          int
	Builder                      *profilebuilder.Builder
	MinSampleTimeNs, MaxSampleTimeNs uint64
	BuildIDStats                 map[normalizer.BuildIdSource]int64
}

// Converter implements normalizer.Handler, building one or more
// profilebuilder.Builder profiles from the normalized event stream.
type Converter struct {
	file *perffile.File
	opts Options

	sampleTypes []*profile.ValueType

	combined *ProcessProfile
	byPID    map[int]*ProcessProfile

	commByTid map[int]string
}

var _ normalizer.Handler = (*Converter)(nil)

// New creates a Converter over file's declared events (used to name
// sample types and fall back to an event's declared period).
func New(file *perffile.File, opts Options) *Converter {
	types := make([]*profile.ValueType, 0, len(file.Events)*2+2)
	for i := range file.Events {
		types = append(types,
			&profile.ValueType{Type: eventName(file, i) + "_samples", Unit: "count"},
			&profile.ValueType{Type: eventName(file, i) + "_events", Unit: "count"},
		)
	}
	if len(types) == 0 {
		types = append(types,
			&profile.ValueType{Type: "samples", Unit: "count"},
			&profile.ValueType{Type: "events", Unit: "count"},
		)
	}

	c := &Converter{
		file:        file,
		opts:        opts,
		sampleTypes: types,
		byPID:       make(map[int]*ProcessProfile),
		commByTid:   make(map[int]string),
	}
	if !opts.GroupByPIDs {
		c.combined = c.newProcessProfile(0)
	}
	return c
}

func eventName(file *perffile.File, index int) string {
	if name := file.Meta.EventDescs; index < len(name) {
		if n := name[index].Name; n != "" {
			return n
		}
	}
	return fmt.Sprintf("event_%d", index)
}

func (c *Converter) newProcessProfile(pid int) *ProcessProfile {
	defaultType := c.sampleTypes[0].Type
	return &ProcessProfile{
		PID:           pid,
		Builder:       profilebuilder.New(c.sampleTypes, defaultType),
		BuildIDStats:  make(map[normalizer.BuildIdSource]int64),
	}
}

// processFor returns the ProcessProfile a pid's samples/mmaps belong
// to, creating one on first use when grouping by pid (§6).
func (c *Converter) processFor(pid int) *ProcessProfile {
	if !c.opts.GroupByPIDs {
		return c.combined
	}
	pp, ok := c.byPID[pid]
	if !ok {
		pp = c.newProcessProfile(pid)
		c.byPID[pid] = pp
	}
	return pp
}

// Profiles returns every accumulated ProcessProfile, including the
// single combined one when GroupByPIDs is disabled.
func (c *Converter) Profiles() []*ProcessProfile {
	if !c.opts.GroupByPIDs {
		return []*ProcessProfile{c.combined}
	}
	return lo.Values(c.byPID)
}

// Comm implements normalizer.Handler.
func (c *Converter) Comm(ctx *normalizer.CommContext) {
	c.commByTid[ctx.TID] = ctx.Comm
	if ctx.IsExec {
		// An exec() invalidates stack frames taken before it under
		// the old comm's identity; InvalidateRange over the whole
		// address space isn't available cheaply, so instead we rely
		// on MMap's per-range invalidation from the mappings exec()
		// itself installs.
	}
}

// MMap implements normalizer.Handler.
func (c *Converter) MMap(ctx *normalizer.MMapContext) {
	pp := c.processFor(ctx.PID)
	pp.Builder.InvalidateRange(ctx.PID, ctx.Mapping.Start, ctx.Mapping.Limit)
}

// Sample implements normalizer.Handler: §4.4's "Stack construction"
// and "SampleKey" pipeline.
func (c *Converter) Sample(ctx *normalizer.SampleContext) {
	pp := c.processFor(ctx.PID)
	b := pp.Builder

	if pp.MinSampleTimeNs == 0 || ctx.Time < pp.MinSampleTimeNs {
		pp.MinSampleTimeNs = ctx.Time
	}
	if ctx.Time > pp.MaxSampleTimeNs {
		pp.MaxSampleTimeNs = ctx.Time
	}
	if ctx.SampleMapping != nil {
		pp.BuildIDStats[ctx.SampleMapping.BuildID.Source]++
	}

	frames := buildStack(ctx, c.opts.AddDataAddressFrames)

	locs := make([]*profile.Location, 0, len(frames))
	for _, f := range frames {
		var mapping *profile.Mapping
		if f.mapping != nil {
			mapping = b.Mapping(f.mapping, profilebuilder.MappingInfo{
				Filename:   f.mapping.FilenameOrMD5(),
				Start:      f.mapping.Start,
				Limit:      f.mapping.Limit,
				FileOffset: f.mapping.FileOffset,
				BuildID:    f.mapping.BuildID.Value,
			})
		}
		locs = append(locs, b.Location(ctx.PID, f.addr, mapping))
	}

	key := c.sampleKey(ctx, frames)
	value := make([]int64, len(c.sampleTypes))
	idx := ctx.EventIndex
	if idx < 0 {
		idx = 0
	}
	if si := int(idx) * 2; si+1 < len(value) {
		value[si] = 1
		eventCount := ctx.Period
		if eventCount == 0 {
			eventCount = c.declaredPeriod(int(idx))
		}
		value[si+1] = int64(eventCount)
	}

	label, numLabel, numUnit := c.labels(ctx, key)
	b.AddSample(key.Key(), locs, value, label, numLabel, numUnit)
}

func (c *Converter) declaredPeriod(index int) uint64 {
	if index >= 0 && index < len(c.file.Events) {
		if p := c.file.Events[index].SamplePeriod; p != 0 {
			return p
		}
	}
	return 1
}

// buildStack implements §4.4's "Stack construction": leaf-first
// ordering starting with the optional data-address frame, then the
// instruction pointer, then the resolved callchain (skipping the
// perf-synthesized duplicate leaf and applying the call-site -1
// correction) and, for LBR samples, the branch stack's "from"
// addresses appended without correction.
//
// LBR samples carry only the kernel-context prefix of the callchain
// (§4.4): the branch stack already supplies the user call chain, so
// once a callchain frame crosses into user context it and everything
// after it are dropped rather than duplicated on top of the branch
// stack, mirroring ProcessSample's callchain loop.
func buildStack(ctx *normalizer.SampleContext, addDataFrames bool) []stackFrame {
	var out []stackFrame

	if addDataFrames && ctx.HasAddr && ctx.AddrMapping != nil {
		out = append(out, stackFrame{addr: ctx.Addr, mapping: ctx.AddrMapping})
	}

	out = append(out, stackFrame{addr: ctx.IP, mapping: ctx.SampleMapping})

	lbrSample := len(ctx.BranchStack) > 0

	for i, frame := range ctx.Callchain {
		if lbrSample && frame.Mode == normalizer.ExecModeHostUser {
			break
		}
		if i == 0 {
			// The first non-marker callchain entry duplicates the
			// sample's own IP; elide it.
			continue
		}
		if frame.Mapping != nil && frame.IP == frame.Mapping.Start {
			// Can't be a valid return address: nothing calls into
			// the very first byte of a mapping.
			continue
		}
		out = append(out, stackFrame{addr: frame.IP - 1, mapping: frame.Mapping})
	}

	for _, b := range ctx.BranchStack {
		if b.From.Mapping != nil && b.From.IP == b.From.Mapping.Start {
			continue
		}
		out = append(out, stackFrame{addr: b.From.IP, mapping: b.From.Mapping})
	}

	return out
}

// sampleKey builds the §4.4 SampleKey for ctx, honoring LabelFields.
func (c *Converter) sampleKey(ctx *normalizer.SampleContext, frames []stackFrame) *SampleKey {
	f := c.opts.LabelFields
	k := &SampleKey{
		fields: f,
		Stack:  frames,
	}
	if f.PID {
		k.PID = ctx.PID
	}
	if f.TID {
		k.TID = ctx.TID
	}
	if f.TimestampNs {
		k.TimeNs = ctx.Time
	}
	if f.ExecMode {
		k.ExecMode = ctx.ExecMode
	}
	if f.Comm {
		k.Comm = c.commByTid[ctx.PID]
	}
	if f.ThreadComm {
		k.ThreadComm = c.commByTid[ctx.TID]
	}
	if f.ThreadType {
		if ctx.TID == ctx.PID {
			k.ThreadType = "process"
		} else {
			k.ThreadType = "thread"
		}
	}
	if f.CGroup {
		k.CGroup = ctx.CGroup
	}
	if f.CodePageSize {
		k.CodePageSize = ctx.CodePageSize
	}
	if f.DataPageSize {
		k.DataPageSize = ctx.DataPageSize
	}
	if f.CPU {
		k.CPU = ctx.CPU
	}
	if f.Weight {
		k.Weight = ctx.Weight
	}
	if f.DataSrc {
		k.DataSrc = ctx.DataSrc.Level
	}
	if f.SnoopStatus {
		k.SnoopStatus = ctx.DataSrc.Snoop
	}
	return k
}

// labels builds the profile label maps from key plus the SPE latency
// counters, when present (§4.4, §4.2.1).
func (c *Converter) labels(ctx *normalizer.SampleContext, key *SampleKey) (map[string][]string, map[string][]int64, map[string][]string) {
	label := make(map[string][]string)
	numLabel := make(map[string][]int64)
	numUnit := make(map[string][]string)

	str := func(k, v string) {
		if v != "" {
			label[k] = []string{v}
		}
	}
	num := func(k string, v int64, unit string) {
		if v != 0 {
			numLabel[k] = []int64{v}
			numUnit[k] = []string{unit}
		}
	}

	f := c.opts.LabelFields
	if f.PID {
		num("pid", int64(key.PID), "")
	}
	if f.TID {
		num("tid", int64(key.TID), "")
	}
	if f.TimestampNs {
		num("timestamp_ns", int64(key.TimeNs), "nanoseconds")
	}
	if f.ExecMode {
		str("execution_mode", key.ExecMode.String())
	}
	if f.Comm {
		str("comm", key.Comm)
	}
	if f.ThreadComm && key.ThreadComm != key.Comm {
		str("thread_comm", key.ThreadComm)
	}
	if f.ThreadType {
		str("thread_type", key.ThreadType)
	}
	if f.CGroup {
		str("cgroup", key.CGroup)
	}
	if f.CodePageSize {
		num("code_page_size", int64(key.CodePageSize), "bytes")
	}
	if f.DataPageSize {
		num("data_page_size", int64(key.DataPageSize), "bytes")
	}
	if f.CPU {
		num("cpu", int64(key.CPU), "cpu")
	}
	if f.Weight {
		num("cache_latency", int64(key.Weight), "cycles")
	}
	if f.DataSrc {
		str("data_src", key.DataSrc)
	}
	if f.SnoopStatus {
		str("snoop_status", key.SnoopStatus)
	}

	if ctx.SPE.IsSPE {
		num("spe_total_latency", int64(ctx.SPE.TotalLatency), "cycles")
		num("spe_issue_latency", int64(ctx.SPE.IssueLatency), "cycles")
		num("spe_translation_latency", int64(ctx.SPE.TranslationLatency), "cycles")
	}

	return label, numLabel, numUnit
}
