// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package intervalmap provides a generic map from disjoint
// half-open intervals of uint64 keys to values.
//
// It is the Go counterpart of the interval map used by the address
// space reconstruction logic (package normalizer) to track which
// mapping currently covers which range of a process's virtual
// address space: setting an interval overwrites (and, where
// necessary, splits) any interval it overlaps, exactly as a new
// mmap record supersedes whatever mappings previously covered its
// range.
package intervalmap

import "sort"

// IntervalMap maps disjoint half-open intervals [start, limit) of
// uint64 to values of type V. The zero value is an empty map ready
// to use.
//
// IntervalMap is not safe for concurrent use.
type IntervalMap[V any] struct {
	// ivs is kept sorted by start and holds pairwise disjoint
	// intervals. A sorted slice plays the role the C++
	// implementation gives to an ordered tree map: lookups and
	// the upper-bound step FindNext needs are both binary
	// searches.
	ivs []interval[V]
}

type interval[V any] struct {
	start, limit uint64
	value        V
}

// Set sets [start, limit) to value, overwriting (and splitting, if
// necessary) any interval currently in the map that it overlaps.
//
// Set panics if start >= limit.
func (m *IntervalMap[V]) Set(start, limit uint64, value V) {
	if start >= limit {
		panic("intervalmap: Set requires start < limit")
	}
	m.removeInterval(start, limit)
	m.insert(start, limit, value)
}

// Lookup returns the value associated with the interval containing
// key and reports whether such an interval exists.
func (m *IntervalMap[V]) Lookup(key uint64) (value V, ok bool) {
	i, found := m.containing(key)
	if !found {
		var zero V
		return zero, false
	}
	return m.ivs[i].value, true
}

// FindNext finds the interval containing key, or, if none does, the
// next interval whose start is greater than key. It reports false
// if no such interval exists.
func (m *IntervalMap[V]) FindNext(key uint64) (start, limit uint64, value V, ok bool) {
	// upper_bound(key): first interval with start > key.
	i := sort.Search(len(m.ivs), func(i int) bool {
		return m.ivs[i].start > key
	})
	if i > 0 && m.ivs[i-1].limit > key {
		// The preceding interval still contains key.
		i--
	}
	if i >= len(m.ivs) {
		var zero V
		return 0, 0, zero, false
	}
	iv := m.ivs[i]
	return iv.start, iv.limit, iv.value, true
}

// Clear removes all entries from the map.
func (m *IntervalMap[V]) Clear() {
	m.ivs = nil
}

// ClearInterval removes everything in the map within
// [clearStart, clearLimit), splitting any interval that straddles
// either boundary.
//
// ClearInterval panics if clearStart >= clearLimit.
func (m *IntervalMap[V]) ClearInterval(clearStart, clearLimit uint64) {
	if clearStart >= clearLimit {
		panic("intervalmap: ClearInterval requires clearStart < clearLimit")
	}
	m.removeInterval(clearStart, clearLimit)
}

// Size returns the number of intervals currently in the map.
func (m *IntervalMap[V]) Size() int {
	return len(m.ivs)
}

// containing returns the index of the interval containing point, or
// (0, false) if none does.
func (m *IntervalMap[V]) containing(point uint64) (int, bool) {
	i := sort.Search(len(m.ivs), func(i int) bool {
		return m.ivs[i].start > point
	})
	if i == 0 {
		return 0, false
	}
	i--
	if m.ivs[i].limit <= point {
		return 0, false
	}
	return i, true
}

// removeInterval deletes everything within [removeStart, removeLimit),
// splitting the intervals that straddle the two boundaries so only
// the overlapping portions are removed.
func (m *IntervalMap[V]) removeInterval(removeStart, removeLimit uint64) {
	if removeStart >= removeLimit {
		return
	}
	// Split any interval straddling the limit first, then any
	// interval straddling the start; doing limit before start
	// mirrors the reference implementation and avoids the two
	// splits interfering with each other's indices.
	m.splitAt(removeLimit)
	m.splitAt(removeStart)

	lo := sort.Search(len(m.ivs), func(i int) bool {
		return m.ivs[i].start >= removeStart
	})
	hi := sort.Search(len(m.ivs), func(i int) bool {
		return m.ivs[i].start >= removeLimit
	})
	if lo < hi {
		m.ivs = append(m.ivs[:lo], m.ivs[hi:]...)
	}
}

// splitAt splits the interval containing point, if any, into
// [start, point) and [point, limit). A point equal to the
// interval's start or limit is not a split.
func (m *IntervalMap[V]) splitAt(point uint64) {
	i, found := m.containing(point)
	if !found {
		return
	}
	iv := &m.ivs[i]
	if point <= iv.start || point >= iv.limit {
		return
	}
	tail := interval[V]{start: point, limit: iv.limit, value: iv.value}
	iv.limit = point
	m.insert(tail.start, tail.limit, tail.value)
}

// insert adds [start, limit) to the map. The caller must already
// have removed any overlapping interval.
func (m *IntervalMap[V]) insert(start, limit uint64, value V) {
	i := sort.Search(len(m.ivs), func(i int) bool {
		return m.ivs[i].start >= start
	})
	m.ivs = append(m.ivs, interval[V]{})
	copy(m.ivs[i+1:], m.ivs[i:])
	m.ivs[i] = interval[V]{start, limit, value}
}
