// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package normalizer

import "fmt"

// BuildIdSource labels how a Mapping's build id was obtained (§3).
type BuildIdSource int

const (
	BuildIdUnknown BuildIdSource = iota
	// BuildIdMmapSameFilename: the in-band MMAP2 build id agrees
	// with the filename->build-id table. The common case.
	BuildIdMmapSameFilename
	// BuildIdMmapDiffFilename: the in-band MMAP2 build id
	// disagrees with the filename->build-id table.
	BuildIdMmapDiffFilename
	// BuildIdFilename: the build id came from the filename
	// table; the mmap event itself carried none.
	BuildIdFilename
	// BuildIdFilenameInjected: like BuildIdFilename, but the
	// entry was supplied by the caller, not the perf.data file.
	BuildIdFilenameInjected
	// BuildIdFilenameAmbiguous: conflicting build id events were
	// observed for the same filename.
	BuildIdFilenameAmbiguous
	// BuildIdKernelPrefix: synthesized from the most recent
	// MISC_KERNEL build-id event for a "[kernel.kallsyms]" mapping.
	BuildIdKernelPrefix
	// BuildIdMissing: no build id could be found for this mapping's mmap event.
	BuildIdMissing
	// BuildIdNoMmap: there was no mmap event at all for this item.
	BuildIdNoMmap
)

func (s BuildIdSource) String() string {
	switch s {
	case BuildIdMmapSameFilename:
		return "MmapSameFilename"
	case BuildIdMmapDiffFilename:
		return "MmapDiffFilename"
	case BuildIdFilename:
		return "Filename"
	case BuildIdFilenameInjected:
		return "FilenameInjected"
	case BuildIdFilenameAmbiguous:
		return "FilenameAmbiguous"
	case BuildIdKernelPrefix:
		return "KernelPrefix"
	case BuildIdMissing:
		return "Missing"
	case BuildIdNoMmap:
		return "NoMmap"
	default:
		return "Unknown"
	}
}

// BuildID wraps a hex build-id string with the source that produced it.
type BuildID struct {
	Value  string
	Source BuildIdSource
}

// Mapping is a named memory range belonging to a process (§3). It is
// immutable after construction; the Normalizer owns every Mapping it
// creates and hands out stable pointers to it.
type Mapping struct {
	Filename          string
	BuildID           BuildID
	Start, Limit      uint64
	FileOffset        uint64
	FilenameMD5Prefix uint64
}

// NameOrMD5Prefix returns name if non-empty, otherwise the hex
// representation of md5Prefix. This is the fallback used when a
// filename has been stripped from the data for privacy and only its
// MD5 checksum prefix survives.
func NameOrMD5Prefix(name string, md5Prefix uint64) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("%016x", md5Prefix)
}

// FilenameOrMD5 returns the mapping's effective display filename: its
// real name if present, otherwise the hex MD5 prefix fallback.
func (m *Mapping) FilenameOrMD5() string {
	if m == nil {
		return ""
	}
	return NameOrMD5Prefix(m.Filename, m.FilenameMD5Prefix)
}

// Location is an address together with the mapping that was found to
// contain it (or nil, if unresolved) and the execution-mode context
// active when it was resolved (callchain frames may cross a
// kernel/user/guest boundary marker mid-stack; §4.2, §4.4).
type Location struct {
	IP      uint64
	Mapping *Mapping
	Mode    ExecMode
}

// BranchStackPair is one normalized entry of a sample's LBR branch stack.
type BranchStackPair struct {
	From, To      Location
	Mispredicted  bool
	Predicted     bool
	InTransaction bool
	Abort         bool
	Cycles        uint32
	Spec          uint32
}

// ExecMode identifies the address-space context an address or
// callchain frame was captured in (§3, §6).
type ExecMode int

const (
	ExecModeUnknown ExecMode = iota
	ExecModeHostKernel
	ExecModeHostUser
	ExecModeGuestKernel
	ExecModeGuestUser
	ExecModeHypervisor
)

// String returns the bit-exact label used for the "execution_mode" profile label (§6).
func (m ExecMode) String() string {
	switch m {
	case ExecModeHostKernel:
		return "Host Kernel"
	case ExecModeHostUser:
		return "Host User"
	case ExecModeGuestKernel:
		return "Guest Kernel"
	case ExecModeGuestUser:
		return "Guest User"
	case ExecModeHypervisor:
		return "Hypervisor"
	default:
		return ""
	}
}

// SpeRecord carries the subset of a decoded Arm SPE record a
// synthesized SampleContext needs.
type SpeRecord struct {
	IsSPE bool
	// TotalLatency, IssueLatency, TranslationLatency are non-zero
	// when the corresponding SPE counter packet was present.
	TotalLatency, IssueLatency, TranslationLatency uint64
}

// SampleContext is the enriched form of a SAMPLE event delivered to Handler.Sample.
type SampleContext struct {
	PID, TID int
	Time     uint64
	CPU      uint32
	EventIndex int64 // index into the file's event attrs, or -1

	ExecMode ExecMode

	MainMapping   *Mapping
	SampleMapping *Mapping // mapping containing IP
	AddrMapping   *Mapping // mapping containing Addr, if Addr present

	IP        uint64
	HasAddr   bool
	Addr      uint64
	Period    uint64
	Weight    uint64
	DataSrc   DataSrcLabel
	CGroup    string
	CodePageSize, DataPageSize uint64

	Callchain   []Location
	BranchStack []BranchStackPair

	SPE SpeRecord
}

// DataSrcLabel is the human label pair produced from a sample's raw DataSrc bits (§4.4).
type DataSrcLabel struct {
	Level  string
	Snoop  string
}

// CommContext is delivered to Handler.Comm.
type CommContext struct {
	PID, TID int
	Comm     string
	IsExec   bool
}

// MMapContext is delivered to Handler.MMap.
type MMapContext struct {
	PID     int
	Mapping *Mapping
}
