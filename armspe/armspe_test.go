package armspe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// le appends n's low size bytes of v in little-endian order.
func le(v uint64, size int) []byte {
	b := make([]byte, size)
	for i := 0; i < size; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func TestDecodeOneRecord(t *testing.T) {
	var buf []byte

	// Instruction-pointer address packet: index 0, 8-byte payload.
	buf = append(buf, 0xb0)
	buf = append(buf, le(0x401234, 8)...)

	// Total-latency counter packet: index 0, 2-byte payload.
	buf = append(buf, 0x98)
	buf = append(buf, le(7, 2)...)

	// Context packet at EL1: 4-byte payload carrying the tid.
	buf = append(buf, 0x64)
	buf = append(buf, le(42, 4)...)

	// End of record.
	buf = append(buf, 0x01)

	dec := New(buf)
	rec, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, uint64(0x401234), rec.IP.Addr)
	require.Equal(t, uint64(7), rec.TotalLatency)
	require.Equal(t, uint64(42), rec.Context.ID)
	require.True(t, rec.Context.EL1)
	require.False(t, rec.Context.EL2)

	_, ok, err = dec.Next()
	require.NoError(t, err)
	require.False(t, ok, "a clean end of trace yields no further records")
}

func TestDecodeDataVirtAddressSignExtension(t *testing.T) {
	var buf []byte

	// Data virtual-address packet: index 2, 8-byte payload, with the
	// top nibble of the 56-bit value set so the result sign-extends.
	buf = append(buf, 0xb2)
	buf = append(buf, le(0x00f0_0000_0000_1000, 8)...)
	buf = append(buf, 0x01)

	dec := New(buf)
	rec, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(0x00f0_0000_0000_1000)|(0xff<<56), rec.DataVirt)
}

func TestDecodeRejectsUnknownHeader(t *testing.T) {
	dec := New([]byte{0xff})
	_, _, err := dec.Next()
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	// Header 0xb0 declares an 8-byte payload but only 2 bytes follow.
	dec := New([]byte{0xb0, 0x01, 0x02})
	_, _, err := dec.Next()
	require.Error(t, err)
}

func TestDecodeEmptyBufferYieldsNoRecords(t *testing.T) {
	dec := New(nil)
	_, ok, err := dec.Next()
	require.NoError(t, err)
	require.False(t, ok)
}
