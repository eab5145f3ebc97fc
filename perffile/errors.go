// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import "errors"

// The following sentinel errors classify the ways a perf.data file
// can fail to parse (§7). Use errors.Is to test for a specific kind.
// Errors for a bad magic number, a bad header size, a bad record size,
// a malformed HEADER_EVENT_DESC section and an unsized reader wrap one
// of these (via fmt.Errorf's %w) with context. Other errors, such as
// I/O errors from the underlying reader, attribute-table checks in New
// and unknown attribute ids, are returned without a sentinel.
var (
	// ErrBadMagic means the file did not start with a recognized
	// perf.data magic number in either byte order.
	ErrBadMagic = errors.New("perffile: bad or unsupported file magic")

	// ErrTruncatedHeader means the file ended before a header,
	// attribute, or section could be fully read.
	ErrTruncatedHeader = errors.New("perffile: truncated header")

	// ErrBadAlignment means a size or offset violated the format's
	// 8-byte alignment requirement.
	ErrBadAlignment = errors.New("perffile: misaligned size or offset")

	// ErrOversizeEvent means a record's header.size claimed more
	// bytes than its fixed payload for that record type permits.
	ErrOversizeEvent = errors.New("perffile: event larger than its declared payload")

	// ErrUnknownEventType is a non-fatal classification used only
	// for diagnostics; perffile itself does not return it as an
	// error (unknown event types are skipped, not rejected).
	ErrUnknownEventType = errors.New("perffile: unknown event type")

	// ErrTruncatedEvent means a record's bytes ran out before its
	// fields could be fully decoded.
	ErrTruncatedEvent = errors.New("perffile: truncated event")

	// ErrSampleFormatMismatch means a sample-info trailer's layout
	// didn't match its owning attribute's sample format mask.
	ErrSampleFormatMismatch = errors.New("perffile: sample format mismatch")

	// ErrUnknownSampleID means a sample or sample-id trailer named
	// an attribute id with no corresponding FileAttr.
	ErrUnknownSampleID = errors.New("perffile: unknown sample id")

	// ErrInvalidFeatureSection means a feature/metadata section's
	// contents could not be parsed according to its known layout.
	ErrInvalidFeatureSection = errors.New("perffile: invalid feature section")

	// ErrUnsizedReader means Serialize was called on a File opened
	// over an io.ReaderAt with no way to discover its total length
	// (it implements neither io.Seeker nor a Size() int64 method).
	ErrUnsizedReader = errors.New("perffile: reader has no discoverable size")
)
