// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"bytes"
	"testing"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	raw := buildPerfData(t, synthAttr{typ: EventTypeHardware, config: 0, ids: []uint64{1}}, nil)

	f, err := New(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	proto, err := f.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.Equal(proto.Data, raw) {
		t.Fatalf("Serialize produced %d bytes, want the original %d-byte file verbatim", len(proto.Data), len(raw))
	}

	f2, err := Deserialize(proto)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if len(f2.Events) != len(f.Events) {
		t.Fatalf("Deserialize: got %d events, want %d", len(f2.Events), len(f.Events))
	}

	proto2, err := f2.Serialize()
	if err != nil {
		t.Fatalf("re-Serialize: %v", err)
	}
	if !bytes.Equal(proto2.Data, raw) {
		t.Fatalf("re-Serialize after a round trip produced different bytes than the original file")
	}
}

func TestSerializeUnsizedReader(t *testing.T) {
	raw := buildPerfData(t, synthAttr{typ: EventTypeHardware, config: 0, ids: []uint64{1}}, nil)
	f, err := New(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Swap in a reader with no Size/Seek method after construction, to
	// exercise readerSize's failure path without changing how New
	// itself is called.
	f.r = readerAtOnly{bytes.NewReader(raw)}

	if _, err := f.Serialize(); err == nil {
		t.Fatal("Serialize succeeded on an io.ReaderAt with no discoverable size")
	}
}

// readerAtOnly strips every method from *bytes.Reader except ReadAt,
// so it satisfies io.ReaderAt but neither sizer nor io.Seeker.
type readerAtOnly struct {
	r *bytes.Reader
}

func (r readerAtOnly) ReadAt(p []byte, off int64) (int, error) {
	return r.r.ReadAt(p, off)
}
