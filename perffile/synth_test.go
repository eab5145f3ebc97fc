// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// synthAttr is the handful of perf_event_attr fields buildPerfData
// needs to produce a decodable EventAttr: an event class, its config
// value, and the sample ids it's registered under.
type synthAttr struct {
	typ    EventType
	config uint64
	ids    []uint64
}

// synthEventDesc describes one HEADER_EVENT_DESC entry.
type synthEventDesc struct {
	name string
	attr synthAttr
}

// buildPerfData assembles a minimal, valid little-endian perf.data
// byte buffer: a v0-sized perf_event_attr, its sample ids, an empty
// data section, and (if descs is non-empty) a HEADER_EVENT_DESC
// feature section. It exists so reader_test.go and proto_test.go can
// exercise New/Serialize/Deserialize without a recorded file on disk.
func buildPerfData(t *testing.T, attr synthAttr, descs []synthEventDesc) []byte {
	t.Helper()
	order := binary.LittleEndian

	encodeAttrV0 := func(typ EventType, config uint64) []byte {
		v0 := eventAttrV0{Type: typ, Size: 64, Config: config}
		var buf bytes.Buffer
		if err := binary.Write(&buf, order, &v0); err != nil {
			t.Fatalf("encoding synthetic attr: %v", err)
		}
		if buf.Len() != 64 {
			t.Fatalf("eventAttrV0 encoded to %d bytes, want 64", buf.Len())
		}
		return buf.Bytes()
	}

	headerSize := int64(binary.Size(fileHeader{}))
	const attrTableEntrySize = 64 + 16 // eventAttrV0 + IDs fileSection

	attrTableOff := headerSize
	idsValuesOff := attrTableOff + attrTableEntrySize
	idsValuesLen := int64(8 * len(attr.ids))
	dataOff := idsValuesOff + idsValuesLen
	dataBytes := []byte{0, 0, 0, 0, 0, 0, 0, 0}

	var body bytes.Buffer
	body.Write(encodeAttrV0(attr.typ, attr.config))
	if err := binary.Write(&body, order, fileSection{Offset: uint64(idsValuesOff), Size: uint64(idsValuesLen)}); err != nil {
		t.Fatalf("encoding IDs fileSection: %v", err)
	}
	for _, id := range attr.ids {
		if err := binary.Write(&body, order, id); err != nil {
			t.Fatalf("encoding sample id: %v", err)
		}
	}
	body.Write(dataBytes)

	var features [4]uint64
	featureDescOff := dataOff + int64(len(dataBytes))
	if len(descs) > 0 {
		features[0] |= 1 << uint(featureEventDesc)

		var payload bytes.Buffer
		binary.Write(&payload, order, uint32(len(descs)))
		binary.Write(&payload, order, uint32(64))
		for _, d := range descs {
			payload.Write(encodeAttrV0(d.attr.typ, d.attr.config))
			binary.Write(&payload, order, uint32(len(d.attr.ids)))
			nameBytes := append([]byte(d.name), 0)
			binary.Write(&payload, order, uint32(len(nameBytes)))
			payload.Write(nameBytes)
			for _, id := range d.attr.ids {
				binary.Write(&payload, order, id)
			}
		}

		payloadOff := featureDescOff + 16
		if err := binary.Write(&body, order, fileSection{Offset: uint64(payloadOff), Size: uint64(payload.Len())}); err != nil {
			t.Fatalf("encoding feature descriptor: %v", err)
		}
		body.Write(payload.Bytes())
	}

	hdr := fileHeader{
		Size:     uint64(headerSize),
		AttrSize: 64,
		Attrs:    fileSection{Offset: uint64(attrTableOff), Size: attrTableEntrySize},
		Data:     fileSection{Offset: uint64(dataOff), Size: uint64(len(dataBytes))},
		Features: features,
	}
	copy(hdr.Magic[:], "PERFILE2")

	var out bytes.Buffer
	if err := binary.Write(&out, order, &hdr); err != nil {
		t.Fatalf("encoding file header: %v", err)
	}
	out.Write(body.Bytes())
	return out.Bytes()
}
