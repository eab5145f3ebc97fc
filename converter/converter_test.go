package converter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"perfconv/normalizer"
)

// TestEndToEnd/scenario-1 mirrors spec.md's LBR stack-construction
// scenario: the callchain carries only a PERF_CONTEXT_USER marker
// ahead of user addresses that the branch stack already covers, so
// the callchain contributes nothing and the stack is just the
// sample's own IP followed by the branch stack's uncorrected "from"
// address.
func TestEndToEnd(t *testing.T) {
	t.Run("scenario-1", func(t *testing.T) {
		libc := &normalizer.Mapping{Filename: "libc.so", Start: 0x7f0000, Limit: 0x800000}

		ctx := &normalizer.SampleContext{
			PID:           100,
			TID:           100,
			IP:            0x7f1234,
			SampleMapping: libc,
			Period:        1,
			Callchain: []normalizer.Location{
				// Both entries resolved in user context: the raw
				// callchain's PERF_CONTEXT_USER marker (stripped by
				// the normalizer before these reach the converter)
				// preceded either address.
				{IP: 0x7f1234, Mapping: libc, Mode: normalizer.ExecModeHostUser}, // duplicate leaf, elided
				{IP: 0x7f1230, Mapping: libc, Mode: normalizer.ExecModeHostUser},
			},
			BranchStack: []normalizer.BranchStackPair{
				{From: normalizer.Location{IP: 0x7f1230, Mapping: libc}, To: normalizer.Location{IP: 0x7f1234, Mapping: libc}},
			},
		}

		frames := buildStack(ctx, false)
		require.Len(t, frames, 2)

		require.Equal(t, uint64(0x7f1234), frames[0].addr)
		require.Equal(t, libc, frames[0].mapping)

		require.Equal(t, uint64(0x7f1230), frames[1].addr, "branch-stack from address is uncorrected")
		require.Equal(t, libc, frames[1].mapping)
	})
}

// TestBuildStackLBRKeepsKernelPrefix covers the case scenario-1
// degenerates away: when the callchain actually has kernel frames
// before the user-context boundary, those survive (with the call-site
// -1 correction) and only the frames at or past the boundary are
// dropped in favor of the branch stack.
func TestBuildStackLBRKeepsKernelPrefix(t *testing.T) {
	libc := &normalizer.Mapping{Filename: "libc.so", Start: 0x7f0000, Limit: 0x800000}
	kernel := &normalizer.Mapping{Filename: "[kernel.kallsyms]", Start: 0xffffffff81000000, Limit: 0xffffffffa0000000}

	ctx := &normalizer.SampleContext{
		IP:            0x7f1234,
		SampleMapping: libc,
		Callchain: []normalizer.Location{
			{IP: 0x7f1234, Mapping: libc, Mode: normalizer.ExecModeHostKernel}, // duplicate leaf, elided
			{IP: 0xffffffff81001000, Mapping: kernel, Mode: normalizer.ExecModeHostKernel},
			{IP: 0x7f1230, Mapping: libc, Mode: normalizer.ExecModeHostUser}, // past the boundary, dropped
		},
		BranchStack: []normalizer.BranchStackPair{
			{From: normalizer.Location{IP: 0x7f1230, Mapping: libc}, To: normalizer.Location{IP: 0x7f1234, Mapping: libc}},
		},
	}

	frames := buildStack(ctx, false)
	require.Len(t, frames, 3)
	require.Equal(t, uint64(0x7f1234), frames[0].addr)
	require.Equal(t, uint64(0xffffffff81000fff), frames[1].addr, "kernel-context callchain entry survives, with the call-site correction")
	require.Equal(t, kernel, frames[1].mapping)
	require.Equal(t, uint64(0x7f1230), frames[2].addr, "branch-stack from address, not the duplicated user-context callchain entry")
	require.Equal(t, libc, frames[2].mapping)
}

func TestBuildStackSkipsMappingStartSentinel(t *testing.T) {
	libc := &normalizer.Mapping{Filename: "libc.so", Start: 0x7f0000, Limit: 0x800000}
	ctx := &normalizer.SampleContext{
		IP:            0x7f1234,
		SampleMapping: libc,
		Callchain: []normalizer.Location{
			{IP: 0x7f1234, Mapping: libc},
			{IP: libc.Start, Mapping: libc}, // can't be a return address
			{IP: 0x7f1230, Mapping: libc},
		},
	}

	frames := buildStack(ctx, false)
	require.Len(t, frames, 2)
	require.Equal(t, uint64(0x7f1234), frames[0].addr)
	require.Equal(t, uint64(0x7f122f), frames[1].addr)
}

func TestBuildStackPrependsDataAddressFrame(t *testing.T) {
	libc := &normalizer.Mapping{Filename: "libc.so", Start: 0x7f0000, Limit: 0x800000}
	heap := &normalizer.Mapping{Filename: "[heap]", Start: 0x600000, Limit: 0x700000}
	ctx := &normalizer.SampleContext{
		IP:            0x7f1234,
		SampleMapping: libc,
		HasAddr:       true,
		Addr:          0x650000,
		AddrMapping:   heap,
	}

	frames := buildStack(ctx, true)
	require.Len(t, frames, 2)
	require.Equal(t, uint64(0x650000), frames[0].addr)
	require.Equal(t, heap, frames[0].mapping)
	require.Equal(t, uint64(0x7f1234), frames[1].addr)
}

func TestSampleKeyMergesEqualFieldsOnly(t *testing.T) {
	c := &Converter{opts: Options{LabelFields: LabelFields{PID: true, TID: true}}}

	ctxA := &normalizer.SampleContext{PID: 1, TID: 2}
	ctxB := &normalizer.SampleContext{PID: 1, TID: 2}
	ctxC := &normalizer.SampleContext{PID: 1, TID: 3}

	keyA := c.sampleKey(ctxA, nil)
	keyB := c.sampleKey(ctxB, nil)
	keyC := c.sampleKey(ctxC, nil)

	require.Equal(t, keyA.Key(), keyB.Key())
	require.NotEqual(t, keyA.Key(), keyC.Key())
}

func TestSampleKeyDisabledFieldsDoNotAffectEquality(t *testing.T) {
	c := &Converter{opts: Options{LabelFields: LabelFields{PID: true}}}

	ctxA := &normalizer.SampleContext{PID: 1, TID: 2}
	ctxB := &normalizer.SampleContext{PID: 1, TID: 99}

	keyA := c.sampleKey(ctxA, nil)
	keyB := c.sampleKey(ctxB, nil)

	require.Equal(t, keyA.Key(), keyB.Key(), "tid differs but the field is disabled")
}

func TestHashXORsPerFieldHashes(t *testing.T) {
	k := &SampleKey{fields: LabelFields{PID: true, TID: true}, PID: 1, TID: 2}
	want := uint64(1) ^ uint64(2)
	require.Equal(t, want, k.Hash())
}
