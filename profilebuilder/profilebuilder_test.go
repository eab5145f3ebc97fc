package profilebuilder

import (
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/require"
)

func newTestBuilder() *Builder {
	return New([]*profile.ValueType{
		{Type: "cycles_samples", Unit: "count"},
		{Type: "cycles_events", Unit: "count"},
	}, "cycles_samples")
}

func TestFunctionInterning(t *testing.T) {
	b := newTestBuilder()
	f1 := b.Function("main", "main", "main.go", 10)
	f2 := b.Function("main", "main", "main.go", 10)
	require.Same(t, f1, f2, "identical keys must intern to the same row")
	require.Len(t, b.Prof.Function, 1)

	f3 := b.Function("helper", "helper", "main.go", 20)
	require.NotSame(t, f1, f3)
	require.Len(t, b.Prof.Function, 2)
}

func TestMappingInterning(t *testing.T) {
	b := newTestBuilder()
	keyA, keyB := "mapping-a", "mapping-b"

	m1 := b.Mapping(keyA, MappingInfo{Filename: "libc.so", Start: 0x1000, Limit: 0x2000})
	m2 := b.Mapping(keyA, MappingInfo{Filename: "libc.so", Start: 0x1000, Limit: 0x2000})
	require.Same(t, m1, m2)

	m3 := b.Mapping(keyB, MappingInfo{Filename: "libssl.so", Start: 0x3000, Limit: 0x4000})
	require.NotSame(t, m1, m3)
	require.Len(t, b.Prof.Mapping, 2)
}

func TestLocationInterningAndInvalidation(t *testing.T) {
	b := newTestBuilder()
	m := b.Mapping("libc", MappingInfo{Filename: "libc.so", Start: 0x1000, Limit: 0x2000})

	l1 := b.Location(100, 0x1500, m)
	l2 := b.Location(100, 0x1500, m)
	require.Same(t, l1, l2)

	b.InvalidateRange(100, 0x1000, 0x2000)
	l3 := b.Location(100, 0x1500, m)
	require.NotSame(t, l1, l3, "invalidated location must not be reused")

	// A different pid at the same address is a distinct location.
	l4 := b.Location(200, 0x1500, m)
	require.NotSame(t, l3, l4)
}

func TestLocationZeroAddressHasNoMapping(t *testing.T) {
	b := newTestBuilder()
	m := b.Mapping("libc", MappingInfo{Filename: "libc.so", Start: 0x1000, Limit: 0x2000})
	l := b.Location(100, 0, m)
	require.Nil(t, l.Mapping)
}

func TestAddSampleMergesOnDedupKey(t *testing.T) {
	b := newTestBuilder()
	loc := b.Location(100, 0x1500, nil)

	b.AddSample("key-a", []*profile.Location{loc}, []int64{1, 100}, nil, nil, nil)
	b.AddSample("key-a", []*profile.Location{loc}, []int64{1, 50}, nil, nil, nil)
	b.AddSample("key-b", []*profile.Location{loc}, []int64{1, 10}, nil, nil, nil)

	require.Len(t, b.Prof.Sample, 2, "equal keys merge into one sample row")

	var merged *profile.Sample
	for _, s := range b.Prof.Sample {
		if s.Value[0] == 2 {
			merged = s
		}
	}
	require.NotNil(t, merged, "merged sample should have summed sample count")
	require.Equal(t, int64(150), merged.Value[1])
}

// TestFinalizeMaterializesRawAddressLocations covers Finalize's first
// half: a caller that builds a sample directly from raw addresses,
// bypassing Builder.Location, still ends up with real location table
// rows, deduplicated by address, and those rows then get mapped by
// the usual repair scan.
func TestFinalizeMaterializesRawAddressLocations(t *testing.T) {
	b := newTestBuilder()
	b.Mapping("a", MappingInfo{Filename: "a.so", Start: 0x1000, Limit: 0x2000})

	raw1 := &profile.Location{Address: 0x1500}
	raw2 := &profile.Location{Address: 0x1500} // same address, different row, from another sample
	b.AddSample("s1", []*profile.Location{raw1}, []int64{1}, nil, nil, nil)
	b.AddSample("s2", []*profile.Location{raw2}, []int64{1}, nil, nil, nil)

	require.Empty(t, b.Prof.Location, "no Location call happened yet")

	b.Finalize()

	require.Len(t, b.Prof.Location, 1, "the two raw locations at the same address should collapse to one row")
	require.NotZero(t, raw1.ID)
	require.Equal(t, raw1, b.Prof.Sample[1].Location[0], "the second sample's raw location is replaced by the first's materialized row")
	require.Equal(t, "a.so", raw1.Mapping.File)
}

func TestFinalizeRepairsUnmappedLocations(t *testing.T) {
	b := newTestBuilder()
	b.Mapping("a", MappingInfo{Filename: "a.so", Start: 0x1000, Limit: 0x2000})
	b.Mapping("b", MappingInfo{Filename: "b.so", Start: 0x3000, Limit: 0x4000})

	loc := b.Location(100, 0x3500, nil)
	require.Nil(t, loc.Mapping)

	b.Finalize()
	require.NotNil(t, loc.Mapping)
	require.Equal(t, "b.so", loc.Mapping.File)

	// Idempotent: finalizing twice changes nothing further.
	b.Finalize()
	require.Equal(t, "b.so", loc.Mapping.File)
}

func TestFinalizeLeavesOutOfRangeLocationUnmapped(t *testing.T) {
	b := newTestBuilder()
	b.Mapping("a", MappingInfo{Filename: "a.so", Start: 0x1000, Limit: 0x2000})

	loc := b.Location(100, 0x9000, nil)
	b.Finalize()
	require.Nil(t, loc.Mapping)
}

func TestValidateRejectsBadDefaultSampleType(t *testing.T) {
	b := New([]*profile.ValueType{{Type: "samples", Unit: "count"}}, "not-declared")
	err := b.Validate()
	require.ErrorIs(t, err, ErrValidationFailure)
}

func TestValidateRejectsMixedStrAndNumLabel(t *testing.T) {
	b := newTestBuilder()
	loc := b.Location(100, 0x1500, nil)
	b.AddSample("key", []*profile.Location{loc}, []int64{1, 1},
		map[string][]string{"dup": {"x"}},
		map[string][]int64{"dup": {1}},
		map[string][]string{"dup": {""}})

	err := b.Validate()
	require.ErrorIs(t, err, ErrValidationFailure)
}

func TestValidateAcceptsWellFormedProfile(t *testing.T) {
	b := newTestBuilder()
	loc := b.Location(100, 0x1500, nil)
	b.AddSample("key", []*profile.Location{loc}, []int64{1, 100}, nil, nil, nil)
	require.NoError(t, b.Validate())
}
