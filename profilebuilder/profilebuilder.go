// Package profilebuilder implements §4.5: interning deduplicated
// string, function, location, and mapping tables, repairing
// location<->mapping links, validating cross-table id integrity, and
// emitting a gzip-compressed serialized profile.
//
// It builds directly on top of *github.com/google/pprof/profile.Profile*
// rather than hand-rolling the pprof wire encoding: that type already
// models the §3 tables (Sample/Location/Function/Mapping) and its
// Write method already gzip-compresses its output, so this package's
// job is the bookkeeping pprof's library doesn't do for us --
// deduplication by logical key, the ordered-scan mapping repair, and
// the extra validation §4.5 calls for beyond profile.CheckValid.
package profilebuilder

import (
	"fmt"
	"os"
	"sort"

	"github.com/google/pprof/profile"
	"golang.org/x/sys/unix"
)

// MappingInfo is the subset of a normalizer.Mapping a caller supplies
// when interning a mapping; profilebuilder intentionally doesn't
// import package normalizer; converter bridges the two.
type MappingInfo struct {
	Filename   string
	Start      uint64
	Limit      uint64
	FileOffset uint64
	BuildID    string
}

type functionKey struct {
	name, systemName, file string
	startLine              int64
}

type locationKey struct {
	pid  int
	addr uint64
}

// Builder accumulates one profile's worth of deduplicated tables. It
// is not safe for concurrent use (§5: the core is single-threaded).
type Builder struct {
	Prof *profile.Profile

	functions map[functionKey]*profile.Function
	locations map[locationKey]*profile.Location
	mappings  map[any]*profile.Mapping
	samples   map[string]*profile.Sample
}

// New creates a Builder whose profile declares sampleTypes (one per
// perf event attribute) and defaultSampleType (one of their Type
// strings, per §3 "default_sample_type names one of the declared
// sample-type indices").
func New(sampleTypes []*profile.ValueType, defaultSampleType string) *Builder {
	return &Builder{
		Prof: &profile.Profile{
			SampleType:        sampleTypes,
			DefaultSampleType: defaultSampleType,
			PeriodType:        &profile.ValueType{Type: "samples", Unit: "count"},
			Period:            1,
		},
		functions: make(map[functionKey]*profile.Function),
		locations: make(map[locationKey]*profile.Location),
		mappings:  make(map[any]*profile.Mapping),
		samples:   make(map[string]*profile.Sample),
	}
}

// InternString is a documentation stub: profile.Profile's tables hold
// strings directly rather than string-table indices, so deduplication
// into an actual index-0-is-empty string table happens inside
// profile.Profile.Write. There is nothing for this package to do
// eagerly; it exists so the §4.5 "string interning" responsibility
// has a named, grep-able home.
func InternString(s string) string { return s }

// Function interns a function by (name, system_name, file, start_line)
// and returns its row, creating one on first use (§4.5).
func (b *Builder) Function(name, systemName, file string, startLine int64) *profile.Function {
	key := functionKey{name, systemName, file, startLine}
	if f, ok := b.functions[key]; ok {
		return f
	}
	f := &profile.Function{
		ID:         uint64(len(b.Prof.Function) + 1),
		Name:       name,
		SystemName: systemName,
		Filename:   file,
		StartLine:  startLine,
	}
	b.Prof.Function = append(b.Prof.Function, f)
	b.functions[key] = f
	return f
}

// Mapping interns a mapping by the identity of key (the caller's
// normalizer.Mapping pointer, or any other comparable handle for a
// synthetic mapping such as the SPE fallback) and returns its row,
// creating one on first use (§4.5, §9 "Cyclic graphs": mapping
// pointers are used as opaque handles rather than as lifetime-tied
// references).
func (b *Builder) Mapping(key any, info MappingInfo) *profile.Mapping {
	if m, ok := b.mappings[key]; ok {
		return m
	}
	m := &profile.Mapping{
		ID:      uint64(len(b.Prof.Mapping) + 1),
		Start:   info.Start,
		Limit:   info.Limit,
		Offset:  info.FileOffset,
		File:    info.Filename,
		BuildID: info.BuildID,
	}
	b.Prof.Mapping = append(b.Prof.Mapping, m)
	b.mappings[key] = m
	return m
}

// Location interns a location by (pid, address) and returns its row,
// creating one with the given mapping (nil if unresolved) on first
// use (§4.5). address == 0 always yields a mapping-less location.
func (b *Builder) Location(pid int, address uint64, mapping *profile.Mapping) *profile.Location {
	key := locationKey{pid, address}
	if l, ok := b.locations[key]; ok {
		return l
	}
	if address == 0 {
		mapping = nil
	}
	l := &profile.Location{
		ID:      uint64(len(b.Prof.Location) + 1),
		Address: address,
		Mapping: mapping,
	}
	b.Prof.Location = append(b.Prof.Location, l)
	b.locations[key] = l
	return l
}

// InvalidateRange drops every cached location for pid whose address
// falls in [start, limit), per §4.4 "MMap handling": a prior address
// might now resolve to a different mapping. A later Location call for
// the same (pid, address) key creates a fresh row rather than
// reusing the stale one, exactly as §4.5 describes ("[a location is]
// invalidated by mmap over the address").
func (b *Builder) InvalidateRange(pid int, start, limit uint64) {
	for key := range b.locations {
		if key.pid == pid && key.addr >= start && key.addr < limit {
			delete(b.locations, key)
		}
	}
}

// AddSample merges value into the sample keyed by dedupKey, appending
// a new sample row on first use. Per §4.4 "samples with equal keys
// are merged (sum of counts and weights)", callers are expected to
// have already summed per-field weights into value; AddSample itself
// only accumulates across repeated calls with the same key.
func (b *Builder) AddSample(dedupKey string, locs []*profile.Location, value []int64, label map[string][]string, numLabel map[string][]int64, numUnit map[string][]string) {
	if s, ok := b.samples[dedupKey]; ok {
		for i, v := range value {
			if i < len(s.Value) {
				s.Value[i] += v
			}
		}
		return
	}
	s := &profile.Sample{
		Location: locs,
		Value:    append([]int64(nil), value...),
		Label:    label,
		NumLabel: numLabel,
		NumUnit:  numUnit,
	}
	b.Prof.Sample = append(b.Prof.Sample, s)
	b.samples[dedupKey] = s
}

// Finalize implements §4.5 Finalize. It has two parts:
//
// First, the unsymbolized-profile case: a caller that builds samples
// directly from raw addresses, rather than interning each one through
// Location, can reference *profile.Location rows that were never
// added to the profile's location table (Address set, ID still zero).
// Finalize walks every sample's locations and materializes a table
// row for each one it finds, deduplicating by address so the same raw
// address referenced from multiple samples shares a single row.
//
// Second, once every location is in the table, when any location
// exists with a non-zero address but no mapping (because its mmap
// hadn't been observed yet when the location was created, or it just
// got materialized by the first part), repair the link by an ordered
// scan over the mapping start addresses. A location before the first
// mapping or past every mapping's limit is left mapping-less.
//
// Finalize is idempotent: calling it twice is a no-op the second
// time, since every location it touches ends up with a non-zero ID
// and either a non-nil mapping or correctly none to give.
func (b *Builder) Finalize() {
	b.materializeRawAddressLocations()

	if len(b.Prof.Mapping) == 0 {
		return
	}
	ordered := append([]*profile.Mapping(nil), b.Prof.Mapping...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	for _, loc := range b.Prof.Location {
		if loc.Mapping != nil || loc.Address == 0 {
			continue
		}
		loc.Mapping = findMapping(ordered, loc.Address)
	}
}

// materializeRawAddressLocations implements Finalize's "no location
// rows exist yet" half: any *profile.Location reachable from a sample
// that was never interned (ID still zero) is assigned one and added
// to the location table, with locations sharing a non-zero address
// collapsed onto the same row.
func (b *Builder) materializeRawAddressLocations() {
	byAddr := make(map[uint64]*profile.Location, len(b.Prof.Location))
	for _, l := range b.Prof.Location {
		if l.Address != 0 {
			byAddr[l.Address] = l
		}
	}

	for _, s := range b.Prof.Sample {
		for i, l := range s.Location {
			if l == nil || l.ID != 0 {
				continue
			}
			if existing, ok := byAddr[l.Address]; ok {
				s.Location[i] = existing
				continue
			}
			l.ID = uint64(len(b.Prof.Location) + 1)
			b.Prof.Location = append(b.Prof.Location, l)
			if l.Address != 0 {
				byAddr[l.Address] = l
			}
		}
	}
}

// findMapping returns the mapping in ordered (sorted by Start) whose
// [Start, Limit) contains addr, or nil. This is the "upper_bound then
// step back one" search §4.5 specifies.
func findMapping(ordered []*profile.Mapping, addr uint64) *profile.Mapping {
	i := sort.Search(len(ordered), func(i int) bool { return ordered[i].Start > addr })
	if i == 0 {
		return nil
	}
	m := ordered[i-1]
	if addr < m.Limit {
		return m
	}
	return nil
}

// Validate checks the cross-table invariants §4.5 requires before
// emission, beyond what profile.Profile.CheckValid already verifies
// (duplicate ids, dangling function/mapping/location references,
// sample value-length consistency): that at least one sample type is
// declared, that DefaultSampleType names one of them, and that no
// label sets both a string and a numeric value.
func (b *Builder) Validate() error {
	if len(b.Prof.SampleType) == 0 {
		return fmt.Errorf("%w: no sample types declared", ErrValidationFailure)
	}
	foundDefault := false
	for _, st := range b.Prof.SampleType {
		if st.Type == b.Prof.DefaultSampleType {
			foundDefault = true
			break
		}
	}
	if !foundDefault {
		return fmt.Errorf("%w: default_sample_type %q names no declared sample type", ErrValidationFailure, b.Prof.DefaultSampleType)
	}
	for _, s := range b.Prof.Sample {
		if len(s.Value) != len(b.Prof.SampleType) {
			return fmt.Errorf("%w: sample has %d values, want %d", ErrValidationFailure, len(s.Value), len(b.Prof.SampleType))
		}
		for key, vals := range s.NumLabel {
			if len(s.Label[key]) > 0 && len(vals) > 0 {
				return fmt.Errorf("%w: label %q sets both str and num", ErrValidationFailure, key)
			}
		}
	}
	if err := b.Prof.CheckValid(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}
	return nil
}

// WriteFile emits the finalized, validated profile to path as a
// gzip-compressed serialized message (profile.Profile.Write already
// gzips). The file is opened O_WRONLY|O_CREAT|O_TRUNC mode 0666,
// retrying the open on EINTR, per §4.5 Emission.
func (b *Builder) WriteFile(path string) error {
	b.Finalize()
	if err := b.Validate(); err != nil {
		return err
	}

	fd, err := openRetryEINTR(path)
	if err != nil {
		return fmt.Errorf("profilebuilder: opening %s: %w", path, err)
	}
	f := os.NewFile(uintptr(fd), path)
	defer f.Close()

	return b.Prof.Write(f)
}

func openRetryEINTR(path string) (int, error) {
	for {
		fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0666)
		if err == nil {
			return fd, nil
		}
		if err == unix.EINTR {
			continue
		}
		return -1, err
	}
}
