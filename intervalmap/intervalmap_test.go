// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package intervalmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntervalMap(t *testing.T) {
	t.Run("lookup-empty", func(t *testing.T) {
		var m IntervalMap[string]
		_, ok := m.Lookup(10)
		require.False(t, ok)
	})

	t.Run("basic-set-lookup", func(t *testing.T) {
		var m IntervalMap[string]
		m.Set(10, 20, "a")
		v, ok := m.Lookup(15)
		require.True(t, ok)
		require.Equal(t, "a", v)

		_, ok = m.Lookup(20)
		require.False(t, ok, "limit is exclusive")

		_, ok = m.Lookup(9)
		require.False(t, ok)
	})

	t.Run("total-overwrite", func(t *testing.T) {
		var m IntervalMap[string]
		m.Set(10, 20, "a")
		m.Set(5, 25, "b")
		require.Equal(t, 1, m.Size())
		v, ok := m.Lookup(15)
		require.True(t, ok)
		require.Equal(t, "b", v)
	})

	t.Run("abutting-intervals-stay-separate", func(t *testing.T) {
		var m IntervalMap[string]
		m.Set(10, 20, "a")
		m.Set(20, 30, "b")
		require.Equal(t, 2, m.Size())
		v, ok := m.Lookup(19)
		require.True(t, ok)
		require.Equal(t, "a", v)
		v, ok = m.Lookup(20)
		require.True(t, ok)
		require.Equal(t, "b", v)
	})

	t.Run("partial-overwrite-from-left", func(t *testing.T) {
		var m IntervalMap[string]
		m.Set(10, 20, "a")
		m.Set(5, 15, "b")
		require.Equal(t, 2, m.Size())
		v, ok := m.Lookup(12)
		require.True(t, ok)
		require.Equal(t, "b", v)
		v, ok = m.Lookup(17)
		require.True(t, ok)
		require.Equal(t, "a", v)
	})

	t.Run("partial-overwrite-from-right", func(t *testing.T) {
		var m IntervalMap[string]
		m.Set(10, 20, "a")
		m.Set(15, 25, "b")
		require.Equal(t, 2, m.Size())
		v, ok := m.Lookup(12)
		require.True(t, ok)
		require.Equal(t, "a", v)
		v, ok = m.Lookup(17)
		require.True(t, ok)
		require.Equal(t, "b", v)
	})

	t.Run("internal-overwrite-three-way-split", func(t *testing.T) {
		var m IntervalMap[string]
		m.Set(10, 30, "a")
		m.Set(15, 20, "b")
		require.Equal(t, 3, m.Size())

		v, ok := m.Lookup(12)
		require.True(t, ok)
		require.Equal(t, "a", v)

		v, ok = m.Lookup(17)
		require.True(t, ok)
		require.Equal(t, "b", v)

		v, ok = m.Lookup(25)
		require.True(t, ok)
		require.Equal(t, "a", v)
	})

	t.Run("exact-overwrite", func(t *testing.T) {
		var m IntervalMap[string]
		m.Set(10, 20, "a")
		m.Set(10, 20, "b")
		require.Equal(t, 1, m.Size())
		v, ok := m.Lookup(15)
		require.True(t, ok)
		require.Equal(t, "b", v)
	})

	t.Run("multiple-overwrite", func(t *testing.T) {
		var m IntervalMap[string]
		m.Set(10, 20, "a")
		m.Set(20, 30, "b")
		m.Set(30, 40, "c")
		m.Set(15, 35, "z")
		require.Equal(t, 3, m.Size())

		v, ok := m.Lookup(12)
		require.True(t, ok)
		require.Equal(t, "a", v)

		v, ok = m.Lookup(25)
		require.True(t, ok)
		require.Equal(t, "z", v)

		v, ok = m.Lookup(37)
		require.True(t, ok)
		require.Equal(t, "c", v)
	})

	t.Run("split-then-resplit", func(t *testing.T) {
		var m IntervalMap[string]
		m.Set(0, 100, "base")
		m.Set(40, 60, "hole")
		// Now re-split the left remainder.
		m.Set(10, 20, "patch")
		require.Equal(t, 5, m.Size())

		v, ok := m.Lookup(5)
		require.True(t, ok)
		require.Equal(t, "base", v)

		v, ok = m.Lookup(15)
		require.True(t, ok)
		require.Equal(t, "patch", v)

		v, ok = m.Lookup(30)
		require.True(t, ok)
		require.Equal(t, "base", v)

		v, ok = m.Lookup(50)
		require.True(t, ok)
		require.Equal(t, "hole", v)

		v, ok = m.Lookup(80)
		require.True(t, ok)
		require.Equal(t, "base", v)
	})

	t.Run("find-next", func(t *testing.T) {
		var m IntervalMap[string]
		m.Set(10, 20, "a")
		m.Set(30, 40, "b")

		start, limit, v, ok := m.FindNext(15)
		require.True(t, ok)
		require.Equal(t, uint64(10), start)
		require.Equal(t, uint64(20), limit)
		require.Equal(t, "a", v)

		start, limit, v, ok = m.FindNext(25)
		require.True(t, ok)
		require.Equal(t, uint64(30), start)
		require.Equal(t, uint64(40), limit)
		require.Equal(t, "b", v)

		_, _, _, ok = m.FindNext(40)
		require.False(t, ok)
	})

	t.Run("clear-interval", func(t *testing.T) {
		var m IntervalMap[string]
		m.Set(0, 100, "a")
		m.ClearInterval(20, 40)
		require.Equal(t, 2, m.Size())
		_, ok := m.Lookup(30)
		require.False(t, ok)
		v, ok := m.Lookup(10)
		require.True(t, ok)
		require.Equal(t, "a", v)
		v, ok = m.Lookup(60)
		require.True(t, ok)
		require.Equal(t, "a", v)
	})

	t.Run("clear", func(t *testing.T) {
		var m IntervalMap[string]
		m.Set(0, 10, "a")
		m.Set(10, 20, "b")
		m.Clear()
		require.Equal(t, 0, m.Size())
	})

	t.Run("set-panics-on-empty-interval", func(t *testing.T) {
		var m IntervalMap[string]
		require.Panics(t, func() { m.Set(10, 10, "a") })
		require.Panics(t, func() { m.Set(10, 5, "a") })
	})
}
