// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"bytes"
	"fmt"
	"io"
)

// Proto is the intermediate representation §4.1's public contract
// names: "the proto representation of a prior parse". New never
// mutates the bytes it parses, so a byte-for-byte copy of the
// original file is already a lossless snapshot of everything New
// read -- attrs, records, and every feature section, known or not.
type Proto struct {
	// Data is the complete contents of the perf.data file this
	// Proto was produced from.
	Data []byte
}

// Serialize implements §4.1's serialize(proto): a snapshot of the
// bytes f was parsed from. Round-tripping it through Deserialize
// yields a File equivalent to f, and re-serializing that File
// reproduces Data byte for byte (§8), since nothing upstream of this
// snapshot mutates the underlying storage.
func (f *File) Serialize() (*Proto, error) {
	size, err := readerSize(f.r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(f.r, 0, size), buf); err != nil {
		return nil, fmt.Errorf("perffile: Serialize: %w", err)
	}
	return &Proto{Data: buf}, nil
}

// Deserialize implements §4.1's deserialize(proto): reconstructs a
// File from a Proto snapshot produced by Serialize, as if by
// New(bytes.NewReader(p.Data)).
func Deserialize(p *Proto) (*File, error) {
	return New(bytes.NewReader(p.Data))
}

// sizer is implemented by bytes.Reader, strings.Reader, and other
// io.ReaderAt sources that know their own length up front.
type sizer interface {
	Size() int64
}

// readerSize discovers the total length of r, the one piece of
// information an io.ReaderAt doesn't expose on its own that Serialize
// needs to snapshot the whole file.
func readerSize(r io.ReaderAt) (int64, error) {
	if s, ok := r.(sizer); ok {
		return s.Size(), nil
	}
	if s, ok := r.(io.Seeker); ok {
		cur, err := s.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		end, err := s.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, err
		}
		if _, err := s.Seek(cur, io.SeekStart); err != nil {
			return 0, err
		}
		return end, nil
	}
	return 0, fmt.Errorf("%w: %T", ErrUnsizedReader, r)
}
