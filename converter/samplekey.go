package converter

import (
	"fmt"
	"hash/fnv"
	"strings"

	"perfconv/normalizer"
)

// LabelFields selects which optional SampleKey fields participate in
// grouping and are emitted as profile labels (§4.4). All default to
// enabled; internal/config lets a caller narrow this list.
type LabelFields struct {
	PID, TID, TimestampNs, ExecMode                bool
	Comm, ThreadType, ThreadComm, CGroup            bool
	CodePageSize, DataPageSize, CPU, Weight         bool
	DataSrc, SnoopStatus                            bool
}

// DefaultLabelFields enables every §4.4 SampleKey field.
func DefaultLabelFields() LabelFields {
	return LabelFields{
		PID: true, TID: true, TimestampNs: true, ExecMode: true,
		Comm: true, ThreadType: true, ThreadComm: true, CGroup: true,
		CodePageSize: true, DataPageSize: true, CPU: true, Weight: true,
		DataSrc: true, SnoopStatus: true,
	}
}

// LabelFieldsFromNames builds a LabelFields enabling only the named
// fields, for internal/config's label_fields list. An empty names
// enables every field (DefaultLabelFields), matching §5's "an empty
// list means every field" rule. Unrecognized names are ignored; they
// are rejected earlier, during config validation.
func LabelFieldsFromNames(names []string) LabelFields {
	if len(names) == 0 {
		return DefaultLabelFields()
	}
	var f LabelFields
	for _, n := range names {
		switch n {
		case "pid":
			f.PID = true
		case "tid":
			f.TID = true
		case "timestamp_ns":
			f.TimestampNs = true
		case "exec_mode":
			f.ExecMode = true
		case "comm":
			f.Comm = true
		case "thread_type":
			f.ThreadType = true
		case "thread_comm":
			f.ThreadComm = true
		case "cgroup":
			f.CGroup = true
		case "code_page_size":
			f.CodePageSize = true
		case "data_page_size":
			f.DataPageSize = true
		case "cpu":
			f.CPU = true
		case "weight":
			f.Weight = true
		case "data_src":
			f.DataSrc = true
		case "snoop_status":
			f.SnoopStatus = true
		}
	}
	return f
}

// stackFrame is one resolved stack-construction entry (§4.4 "Stack
// construction"), before it's been interned into a profile.Location.
type stackFrame struct {
	addr    uint64
	mapping *normalizer.Mapping
}

// SampleKey is the tuple of every field that distinguishes samples in
// the final profile (§4.4): samples with equal keys are merged (sum
// of counts and weights). Only fields enabled by LabelFields are
// populated; the rest are left zero and excluded from Key/Hash.
type SampleKey struct {
	fields LabelFields

	PID, TID     int
	TimeNs       uint64
	ExecMode     normalizer.ExecMode
	Comm         string
	ThreadType   string
	ThreadComm   string
	CGroup       string
	CodePageSize uint64
	DataPageSize uint64
	CPU          uint32
	Weight       uint64
	DataSrc      string
	SnoopStatus  string
	Stack        []stackFrame
}

// Key returns a string that is equal for two SampleKeys if and only
// if they are field-wise equal (§4.4 "Equality is field-wise"). It is
// the authoritative identity used to merge samples: a plain composite
// encoding, rather than only the XOR hash from Hash, so that two
// distinct keys can never collide into one merged sample.
func (k *SampleKey) Key() string {
	var sb strings.Builder
	f := &k.fields
	if f.PID {
		fmt.Fprintf(&sb, "p%d|", k.PID)
	}
	if f.TID {
		fmt.Fprintf(&sb, "t%d|", k.TID)
	}
	if f.TimestampNs {
		fmt.Fprintf(&sb, "n%d|", k.TimeNs)
	}
	if f.ExecMode {
		fmt.Fprintf(&sb, "m%d|", k.ExecMode)
	}
	if f.Comm {
		fmt.Fprintf(&sb, "c%s|", k.Comm)
	}
	if f.ThreadType {
		fmt.Fprintf(&sb, "y%s|", k.ThreadType)
	}
	if f.ThreadComm {
		fmt.Fprintf(&sb, "z%s|", k.ThreadComm)
	}
	if f.CGroup {
		fmt.Fprintf(&sb, "g%s|", k.CGroup)
	}
	if f.CodePageSize {
		fmt.Fprintf(&sb, "cp%d|", k.CodePageSize)
	}
	if f.DataPageSize {
		fmt.Fprintf(&sb, "dp%d|", k.DataPageSize)
	}
	if f.CPU {
		fmt.Fprintf(&sb, "u%d|", k.CPU)
	}
	if f.Weight {
		fmt.Fprintf(&sb, "w%d|", k.Weight)
	}
	if f.DataSrc {
		fmt.Fprintf(&sb, "d%s|", k.DataSrc)
	}
	if f.SnoopStatus {
		fmt.Fprintf(&sb, "s%s|", k.SnoopStatus)
	}
	sb.WriteString("#")
	for _, s := range k.Stack {
		fmt.Fprintf(&sb, "%p:%x,", s.mapping, s.addr)
	}
	return sb.String()
}

// Hash implements §4.4's literal description: "hashing XORs the
// per-field hashes". It is not used as the authoritative equality
// check (Key is, to rule out XOR collisions across differing field
// combinations) but is exposed because a hash bucket is exactly how a
// real hash-map-backed sample table would use it, and §8 expects
// SampleKey's hash/equality contract to be independently testable.
func (k *SampleKey) Hash() uint64 {
	var h uint64
	f := &k.fields
	mix := func(v uint64) { h ^= v }
	hashString := func(s string) uint64 {
		f := fnv.New64a()
		f.Write([]byte(s))
		return f.Sum64()
	}
	if f.PID {
		mix(uint64(k.PID))
	}
	if f.TID {
		mix(uint64(k.TID))
	}
	if f.TimestampNs {
		mix(k.TimeNs)
	}
	if f.ExecMode {
		mix(uint64(k.ExecMode))
	}
	if f.Comm {
		mix(hashString(k.Comm))
	}
	if f.ThreadType {
		mix(hashString(k.ThreadType))
	}
	if f.ThreadComm {
		mix(hashString(k.ThreadComm))
	}
	if f.CGroup {
		mix(hashString(k.CGroup))
	}
	if f.CodePageSize {
		mix(k.CodePageSize)
	}
	if f.DataPageSize {
		mix(k.DataPageSize)
	}
	if f.CPU {
		mix(uint64(k.CPU))
	}
	if f.Weight {
		mix(k.Weight)
	}
	if f.DataSrc {
		mix(hashString(k.DataSrc))
	}
	if f.SnoopStatus {
		mix(hashString(k.SnoopStatus))
	}
	for _, s := range k.Stack {
		mix(s.addr)
	}
	return h
}
