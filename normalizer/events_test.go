// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package normalizer

import (
	"testing"

	"perfconv/perffile"
)

// fakeHandler records every callback it receives, for assertions
// against the literal end-to-end scenarios.
type fakeHandler struct {
	samples []*SampleContext
	comms   []*CommContext
	mmaps   []*MMapContext
}

func (h *fakeHandler) Sample(ctx *SampleContext) { h.samples = append(h.samples, ctx) }
func (h *fakeHandler) Comm(ctx *CommContext)      { h.comms = append(h.comms, ctx) }
func (h *fakeHandler) MMap(ctx *MMapContext)      { h.mmaps = append(h.mmaps, ctx) }

func newTestNormalizer(h Handler) *Normalizer {
	return New(&perffile.File{}, h, Options{})
}

// TestEndToEnd/scenario-4 mirrors spec.md's fork scenario: pid 100 maps
// libc at [0x1000,0x2000); a subsequent FORK to pid 200 inherits that
// mapping, so a sample at pid 200 resolves against libc too.
func TestEndToEnd(t *testing.T) {
	t.Run("scenario-4", func(t *testing.T) {
		h := &fakeHandler{}
		n := newTestNormalizer(h)

		n.dispatch(&perffile.RecordMmap{
			RecordCommon: perffile.RecordCommon{PID: 100, TID: 100},
			Addr:         0x1000,
			Len:          0x1000,
			Filename:     "libc.so",
		})

		n.dispatch(&perffile.RecordFork{
			RecordCommon: perffile.RecordCommon{PID: 200, TID: 200},
			PPID:         100,
			PTID:         100,
		})

		n.dispatch(&perffile.RecordSample{
			RecordCommon: perffile.RecordCommon{PID: 200, TID: 200, Format: perffile.SampleFormatIP},
			IP:           0x1500,
		})

		if len(h.samples) != 1 {
			t.Fatalf("got %d samples, want 1", len(h.samples))
		}
		s := h.samples[0]
		if s.SampleMapping == nil || s.SampleMapping.Filename != "libc.so" {
			t.Fatalf("sample did not resolve against forked libc mapping: %+v", s.SampleMapping)
		}
	})

	// TestEndToEnd/scenario-5 mirrors spec.md's exec scenario: pid 100
	// maps libc, then a pid==tid COMM with the exec misc bit set
	// arrives; a sample taken afterwards at the same address must not
	// resolve against the pre-exec mapping.
	t.Run("scenario-5", func(t *testing.T) {
		h := &fakeHandler{}
		n := newTestNormalizer(h)

		n.dispatch(&perffile.RecordMmap{
			RecordCommon: perffile.RecordCommon{PID: 100, TID: 100},
			Addr:         0x1000,
			Len:          0x1000,
			Filename:     "libc.so",
		})

		n.dispatch(&perffile.RecordComm{
			RecordCommon: perffile.RecordCommon{PID: 100, TID: 100},
			Exec:         true,
			Comm:         "newimage",
		})

		n.dispatch(&perffile.RecordSample{
			RecordCommon: perffile.RecordCommon{PID: 100, TID: 100, Format: perffile.SampleFormatIP},
			IP:           0x1500,
		})

		if len(h.comms) != 1 || !h.comms[0].IsExec {
			t.Fatalf("exec comm not reported as exec: %+v", h.comms)
		}
		if len(h.samples) != 1 {
			t.Fatalf("got %d samples, want 1", len(h.samples))
		}
		if s := h.samples[0]; s.SampleMapping != nil {
			t.Fatalf("sample resolved against stale pre-exec mapping: %+v", s.SampleMapping)
		}
	})

	// TestEndToEnd/scenario-6 mirrors spec.md's lost-samples scenario:
	// under a perf version that supports LOST_SAMPLES, a num_lost=3
	// record synthesizes three SAMPLE events against the [lost]
	// mapping at the reserved sentinel address.
	t.Run("scenario-6", func(t *testing.T) {
		h := &fakeHandler{}
		n := New(&perffile.File{Meta: perffile.FileMeta{Version: "6.1"}}, h, Options{})

		n.dispatch(&perffile.RecordLostSamples{
			RecordCommon: perffile.RecordCommon{PID: 100},
			Lost:         3,
		})

		if len(h.samples) != 3 {
			t.Fatalf("got %d synthesized samples, want 3", len(h.samples))
		}
		for _, s := range h.samples {
			if s.IP != LostSampleIP {
				t.Errorf("synthesized sample IP = %#x, want %#x", s.IP, LostSampleIP)
			}
			if s.SampleMapping == nil || s.SampleMapping.Filename != LostMappingFilename {
				t.Errorf("synthesized sample mapping = %+v, want filename %q", s.SampleMapping, LostMappingFilename)
			}
		}
		if n.Stats.SynthesizedLostSamples != 3 {
			t.Errorf("Stats.SynthesizedLostSamples = %d, want 3", n.Stats.SynthesizedLostSamples)
		}
	})
}

// A LOST record (the pre-6.1 path) synthesizes samples the same way,
// keyed off NumLost instead of Lost, but only when useLostSampleEvents
// is false.
func TestLostRecordPreLostSamplesSupport(t *testing.T) {
	h := &fakeHandler{}
	n := New(&perffile.File{Meta: perffile.FileMeta{Version: "5.15"}}, h, Options{})

	n.dispatch(&perffile.RecordLost{
		RecordCommon: perffile.RecordCommon{PID: 7},
		NumLost:      2,
	})

	if len(h.samples) != 2 {
		t.Fatalf("got %d synthesized samples, want 2", len(h.samples))
	}
}

// Once a perf version advertises LOST_SAMPLES support, a plain LOST
// record (which that version would no longer emit faithfully) must be
// ignored rather than double-counted against RecordLostSamples.
func TestLostRecordIgnoredWhenLostSamplesSupported(t *testing.T) {
	h := &fakeHandler{}
	n := New(&perffile.File{Meta: perffile.FileMeta{Version: "6.1"}}, h, Options{})

	n.dispatch(&perffile.RecordLost{
		RecordCommon: perffile.RecordCommon{PID: 7},
		NumLost:      5,
	})

	if len(h.samples) != 0 {
		t.Fatalf("got %d samples from a LOST record under LOST_SAMPLES support, want 0", len(h.samples))
	}
}

// A comm event for a tid other than its pid only renames a thread; it
// must never be reported as an exec or clear the process's mappings.
func TestThreadRenameIsNotExec(t *testing.T) {
	h := &fakeHandler{}
	n := newTestNormalizer(h)

	n.dispatch(&perffile.RecordMmap{
		RecordCommon: perffile.RecordCommon{PID: 100, TID: 100},
		Addr:         0x1000,
		Len:          0x1000,
		Filename:     "/usr/bin/app",
	})
	n.dispatch(&perffile.RecordComm{
		RecordCommon: perffile.RecordCommon{PID: 100, TID: 101},
		Comm:         "worker-thread",
	})

	if len(h.comms) != 0 {
		t.Fatalf("thread rename should not invoke Handler.Comm in this implementation's non-exec path, got %+v", h.comms)
	}
	if n.pids[100].main == nil {
		t.Fatalf("thread rename cleared the process's main mapping")
	}
}

// A blank-filename main mapping that isn't at the usual 0x400000/
// 0x8048000 load address still gets its filename patched in from a
// later mapping whose start minus file offset lands at 0x400000 (the
// hugepage-text-remap case): the patch condition is about that
// relationship, not about the mapping's own start address.
func TestHugepageTextPatchFillsBlankMainFilename(t *testing.T) {
	h := &fakeHandler{}
	n := newTestNormalizer(h)

	n.dispatch(&perffile.RecordMmap{
		RecordCommon: perffile.RecordCommon{PID: 100, TID: 100},
		Addr:         0x401000,
		Len:          0x1000,
		Filename:     "",
	})
	if n.pids[100].main == nil || n.pids[100].main.Filename != "" {
		t.Fatalf("blank mapping should have become the (unnamed) main mapping: %+v", n.pids[100].main)
	}

	n.dispatch(&perffile.RecordMmap{
		RecordCommon: perffile.RecordCommon{PID: 100, TID: 100},
		Addr:         0x500000,
		Len:          0x1000,
		FileOffset:   0x100000,
		Filename:     "/usr/bin/foo",
	})

	if got := n.pids[100].main.Filename; got != "/usr/bin/foo" {
		t.Fatalf("hugepage text patch did not fill in main's filename, got %q", got)
	}
}

// A same-pid/tid FORK is thread creation, not a new process, and must
// not install a new PidState.
func TestForkSameGroupIsThreadCreation(t *testing.T) {
	h := &fakeHandler{}
	n := newTestNormalizer(h)

	n.dispatch(&perffile.RecordMmap{
		RecordCommon: perffile.RecordCommon{PID: 100, TID: 100},
		Addr:         0x1000,
		Len:          0x1000,
		Filename:     "libc.so",
	})
	n.dispatch(&perffile.RecordFork{
		RecordCommon: perffile.RecordCommon{PID: 100, TID: 101},
		PPID:         100,
		PTID:         100,
	})

	if len(n.pids) != 1 {
		t.Fatalf("same-group fork created a new PidState: %d entries", len(n.pids))
	}
}
