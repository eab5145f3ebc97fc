// Package armspe decodes Arm Statistical Profiling Extension (SPE)
// records embedded in a perf.data AUXTRACE record's raw payload
// (§4.2.1). SPE traces are a packet stream; each packet's header byte
// classifies it (timestamp, event, data source, context, operation,
// address, counter, end, padding), and a record is the run of packets
// up to and including its terminating end or timestamp packet.
//
// This is the one piece of the core with no library grounding in the
// retrieved corpus (there is no Go package for SPE decoding); it is
// hand-written bit-twiddling ported from the reference decoder, the
// same way the reference implementation has no library to reach for
// either.
package armspe

import (
	"encoding/binary"
	"fmt"
)

// IP is a decoded instruction pointer or virtual address, with the
// exception level and non-secure bit that determined its sign
// extension.
type IP struct {
	Addr uint64
	EL   uint8
	NS   uint8
}

// Context is the SPE context packet: an opaque context id (normalizer
// uses it to recover a tid) and the exception level it was taken at.
type Context struct {
	ID  uint64
	EL1 bool
	EL2 bool
}

// Record is one decoded SPE sample record (§4.2.1).
type Record struct {
	TotalLatency, IssueLatency, TranslationLatency uint64

	IP        IP
	TargetBr  IP
	PrevBr    IP
	DataVirt  uint64
	DataPhys  uint64

	Timestamp uint64
	Context   Context
	Source    uint64
}

// address packet indices (§4.2.1).
const (
	addrIdxIns     = 0x0
	addrIdxBr      = 0x1
	addrIdxDataVA  = 0x2
	addrIdxDataPA  = 0x3
	addrIdxPrevBr  = 0x4
)

func mask(h, l uint) uint64 {
	return (^uint64(0) << l) & (^uint64(0) >> (64 - 1 - h))
}

func bit(n uint) uint64 { return 1 << n }

// payloadSize returns the packet payload size encoded in header bits 5:4.
func payloadSize(header byte) int {
	return 1 << ((header & 0x30) >> 4)
}

// Decoder walks a raw SPE trace buffer, yielding one Record per call
// to Next.
type Decoder struct {
	buf  []byte
	pos  int
	seen uint32 // unsupported address-packet indices seen (recorded, not reported)
}

// New creates a Decoder over buf. Packet payloads are always decoded
// as little-endian, whatever the byte order of the perf.data file the
// trace came from; there is no byte-swap flag here.
func New(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Next decodes the next record from the trace. It returns false (with
// a nil error) at a clean end of trace, and a non-nil error on a
// malformed packet (§4.2.1 "Invalid headers, truncated payloads, or
// unknown packets abort the record").
func (d *Decoder) Next() (*Record, bool, error) {
	if d.pos >= len(d.buf) {
		return nil, false, nil
	}

	var r Record
	for {
		if d.pos >= len(d.buf) {
			break
		}
		header := d.buf[d.pos]

		switch {
		case header == 0x00:
			d.pos++
			continue
		case header == 0x01:
			d.pos++
			return &r, true, nil
		case header == 0x71:
			sz, err := d.handleTimestamp(&r)
			if err != nil {
				return nil, false, err
			}
			d.pos += sz
			return &r, true, nil
		case header&0xc3 == 0x42:
			sz, err := d.handleEvent(&r)
			if err != nil {
				return nil, false, err
			}
			d.pos += sz
		case header&0xc3 == 0x43:
			sz, err := d.handleDataSource(&r)
			if err != nil {
				return nil, false, err
			}
			d.pos += sz
		case header&0xfc == 0x64:
			sz, err := d.handleContext(&r)
			if err != nil {
				return nil, false, err
			}
			d.pos += sz
		case header&0xfc == 0x48:
			sz, err := d.handleOperation()
			if err != nil {
				return nil, false, err
			}
			d.pos += sz
		case header&0xfc == 0x20:
			sz, err := d.handleExtendedOrAddrCounter(&r)
			if err != nil {
				return nil, false, err
			}
			if sz == 0 {
				// nothing consumed; keep scanning this record
				// (alignment padding returns its pad length,
				// at least 1, and is consumed below)
				continue
			}
			d.pos += sz
		default:
			if sz, ok, err := d.tryAddrOrCounter(header, 1, &r); ok {
				if err != nil {
					return nil, false, err
				}
				d.pos += sz
				continue
			}
			return nil, false, fmt.Errorf("armspe: unknown packet header 0x%02x at offset %d", header, d.pos)
		}
	}
	return &r, true, nil
}

func (d *Decoder) readPayload(headerSize int) (uint64, int, error) {
	if d.pos+headerSize > len(d.buf) {
		return 0, 0, fmt.Errorf("armspe: truncated packet header at offset %d", d.pos)
	}
	psize := payloadSize(d.buf[d.pos+headerSize-1])
	if d.pos+headerSize+psize > len(d.buf) {
		return 0, 0, fmt.Errorf("armspe: truncated packet payload at offset %d", d.pos)
	}
	start := d.pos + headerSize
	var payload uint64
	switch psize {
	case 1:
		payload = uint64(d.buf[start])
	case 2:
		payload = uint64(binary.LittleEndian.Uint16(d.buf[start:]))
	case 4:
		payload = uint64(binary.LittleEndian.Uint32(d.buf[start:]))
	case 8:
		payload = binary.LittleEndian.Uint64(d.buf[start:])
	default:
		return 0, 0, fmt.Errorf("armspe: bad payload size %d", psize)
	}
	return payload, headerSize + psize, nil
}

func (d *Decoder) handleTimestamp(r *Record) (int, error) {
	payload, size, err := d.readPayload(1)
	if err != nil {
		return 0, err
	}
	r.Timestamp = payload
	return size, nil
}

func (d *Decoder) handleEvent(r *Record) (int, error) {
	_, size, err := d.readPayload(1)
	if err != nil {
		return 0, err
	}
	// Event flags (exception/retire/cache/TLB/branch-mispredict bits)
	// aren't consumed by the normalizer today; only the packet's
	// size matters for keeping the stream in sync.
	return size, nil
}

func (d *Decoder) handleDataSource(r *Record) (int, error) {
	payload, size, err := d.readPayload(1)
	if err != nil {
		return 0, err
	}
	r.Source = payload
	return size, nil
}

func (d *Decoder) handleContext(r *Record) (int, error) {
	header := d.buf[d.pos]
	payload, size, err := d.readPayload(1)
	if err != nil {
		return 0, err
	}
	r.Context.ID = payload
	r.Context.EL1 = header&0x3 == 0x0
	r.Context.EL2 = header&0x3 == 0x1
	return size, nil
}

func (d *Decoder) handleOperation() (int, error) {
	header := d.buf[d.pos]
	_, size, err := d.readPayload(1)
	if err != nil {
		return 0, err
	}
	switch header & 0x3 {
	case 0x0, 0x1, 0x2:
		return size, nil
	default:
		return 0, fmt.Errorf("armspe: invalid operation packet class 0x%x", header&0x3)
	}
}

// handleExtendedOrAddrCounter deals with the one header value (0x20
// class) that is ambiguous until the next byte is inspected: it may be
// an extended header for an address/counter packet, or pure alignment
// padding when that next byte is zero.
func (d *Decoder) handleExtendedOrAddrCounter(r *Record) (int, error) {
	if len(d.buf)-d.pos == 1 {
		return 0, fmt.Errorf("armspe: truncated extended header")
	}
	header := d.buf[d.pos]
	ext := d.buf[d.pos+1]
	if ext == 0x0 {
		alignment := 1 << ((header & 0xf) + 1)
		if len(d.buf)-d.pos < alignment {
			return 0, fmt.Errorf("armspe: not enough bytes for extended-header alignment")
		}
		pad := alignment - (d.pos % alignment)
		return pad, nil
	}
	sz, ok, err := d.tryAddrOrCounter(ext, 2, r)
	if !ok {
		return 0, fmt.Errorf("armspe: unknown extended packet header 0x%02x", ext)
	}
	return sz, err
}

// tryAddrOrCounter dispatches an address or counter packet whose
// effective header (possibly from an extended-header byte) is known.
// headerSize is 1 for a plain header, 2 when an extended header byte
// precedes the payload.
func (d *Decoder) tryAddrOrCounter(effectiveHeader byte, headerSize int, r *Record) (int, bool, error) {
	switch {
	case effectiveHeader&0xf8 == 0xb0:
		sz, err := d.handleAddress(effectiveHeader, headerSize, r)
		return sz, true, err
	case effectiveHeader&0xf8 == 0x98:
		sz, err := d.handleCounter(effectiveHeader, headerSize, r)
		return sz, true, err
	default:
		return 0, false, nil
	}
}

func (d *Decoder) handleAddress(effectiveHeader byte, headerSize int, r *Record) (int, error) {
	payload, size, err := d.readPayload(headerSize)
	if err != nil {
		return 0, err
	}
	index := uint64(effectiveHeader & 0x7)

	switch index {
	case addrIdxIns, addrIdxBr, addrIdxPrevBr:
		ip := decodeIP(payload)
		switch index {
		case addrIdxIns:
			r.IP = ip
		case addrIdxBr:
			r.TargetBr = ip
		case addrIdxPrevBr:
			r.PrevBr = ip
		}
	case addrIdxDataVA:
		value := (payload & mask(55, 0)) >> 48
		if value&0xf0 == 0xf0 {
			r.DataVirt = payload | (0xff << 56)
		} else {
			r.DataVirt = payload & mask(55, 0)
		}
	case addrIdxDataPA:
		r.DataPhys = payload & mask(55, 0)
	default:
		d.seen |= uint32(1) << index
	}
	return size, nil
}

func decodeIP(payload uint64) IP {
	ip := IP{
		EL: uint8((payload & mask(62, 61)) >> 61),
		NS: uint8((payload & bit(63)) >> 63),
	}
	if ip.NS != 0 && (ip.EL == 1 || ip.EL == 2) {
		ip.Addr = payload | (0xff << 56)
	} else {
		ip.Addr = payload & mask(55, 0)
	}
	return ip
}

func (d *Decoder) handleCounter(effectiveHeader byte, headerSize int, r *Record) (int, error) {
	payload, size, err := d.readPayload(headerSize)
	if err != nil {
		return 0, err
	}
	switch effectiveHeader & 0x7 {
	case 0x0:
		r.TotalLatency = payload
	case 0x1:
		r.IssueLatency = payload
	case 0x2:
		r.TranslationLatency = payload
	}
	return size, nil
}
