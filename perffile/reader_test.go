// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"bytes"
	"testing"
)

// A file whose only file-level attr carries sample id 1 but whose
// HEADER_EVENT_DESC section has two entries, "cycles" and "cycles-dup",
// for the same event (CPU cycles), each (erroneously, for this test)
// claiming that same id 1. New should prefer the descriptor attrs over the file
// table and keep the first descriptor's claim on id 1 rather than
// letting the second overwrite it.
func TestPreferEventDescAttrsDedup(t *testing.T) {
	descs := []synthEventDesc{
		{name: "cycles", attr: synthAttr{typ: EventTypeHardware, config: uint64(EventHardwareCPUCycles), ids: []uint64{1}}},
		{name: "cycles-dup", attr: synthAttr{typ: EventTypeHardware, config: uint64(EventHardwareCPUCycles), ids: []uint64{1}}},
	}
	raw := buildPerfData(t, synthAttr{typ: EventTypeHardware, config: uint64(EventHardwareCPUCycles), ids: []uint64{1}}, descs)

	f, err := New(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if len(f.Events) != 2 {
		t.Fatalf("got %d events, want 2 (one per HEADER_EVENT_DESC entry)", len(f.Events))
	}
	if got := f.Meta.NameForIDs(1); got != "cycles" {
		t.Fatalf("NameForIDs(1) = %q, want %q (first descriptor to claim it)", got, "cycles")
	}

	attr, ok := f.idToAttr[1]
	if !ok {
		t.Fatal("idToAttr[1] missing after preferring HEADER_EVENT_DESC")
	}
	if attr != f.Events[0] {
		t.Fatal("idToAttr[1] should still point at the first descriptor's attr, not be overwritten by the duplicate")
	}
}

// A file with distinct events and disjoint ids: every descriptor's
// ids should resolve, in descriptor order.
func TestPreferEventDescAttrsDisjointIDs(t *testing.T) {
	descs := []synthEventDesc{
		{name: "cycles", attr: synthAttr{typ: EventTypeHardware, config: uint64(EventHardwareCPUCycles), ids: []uint64{1}}},
		{name: "instructions", attr: synthAttr{typ: EventTypeHardware, config: uint64(EventHardwareInstructions), ids: []uint64{2}}},
	}
	raw := buildPerfData(t, synthAttr{typ: EventTypeHardware, config: uint64(EventHardwareCPUCycles), ids: []uint64{1, 2}}, descs)

	f, err := New(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := f.Meta.NameForIDs(1); got != "cycles" {
		t.Fatalf("NameForIDs(1) = %q, want %q", got, "cycles")
	}
	if got := f.Meta.NameForIDs(2); got != "instructions" {
		t.Fatalf("NameForIDs(2) = %q, want %q", got, "instructions")
	}
	if f.idToAttr[1] == f.idToAttr[2] {
		t.Fatal("id 1 and id 2 should resolve to distinct EventAttrs")
	}
}
