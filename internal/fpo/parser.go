package fpo

import (
	"fmt"
	"sort"

	"github.com/luser/dump-syms/internal/stream"
)

// legacyRecordSize is sizeof(FPO_DATA): three uint32 fields, one
// uint16, and the packed trailing uint16 bitfield.
const legacyRecordSize = 3*4 + 2 + 2

// v2RecordSize is sizeof(FPO_DATA_V2).
const v2RecordSize = 6*4 + 2 + 2 + 4

// Table holds the deduplicated FPO records for one stream, keyed by
// (OffStart, ProcSize) and kept in ascending key order so callers can
// reproduce the original's std::map iteration order at emission time.
type Table struct {
	keys    []Key
	entries map[Key]int
}

func newTable() *Table {
	return &Table{entries: make(map[Key]int)}
}

// Keys returns the record keys in ascending (OffStart, ProcSize) order.
func (t *Table) Keys() []Key {
	return t.keys
}

func (t *Table) insert(key Key) int {
	if idx, ok := t.entries[key]; ok {
		return idx
	}
	idx := len(t.keys)
	t.keys = append(t.keys, key)
	t.entries[key] = idx
	return idx
}

func (t *Table) sortKeys() {
	sort.Slice(t.keys, func(i, j int) bool {
		a, b := t.keys[i], t.keys[j]
		if a.OffStart != b.OffStart {
			return a.OffStart < b.OffStart
		}
		return a.ProcSize < b.ProcSize
	})
	for i, k := range t.keys {
		t.entries[k] = i
	}
}

// LegacyTable is a deduplicated collection of legacy FPO_DATA records.
type LegacyTable struct {
	*Table
	records map[Key]*Data
}

// Get returns the record for key, if present.
func (t *LegacyTable) Get(key Key) (*Data, bool) {
	d, ok := t.records[key]
	return d, ok
}

// V2Table is a deduplicated collection of FPO_DATA_V2 records.
type V2Table struct {
	*Table
	records map[Key]*DataV2
}

// Get returns the record for key, if present.
func (t *V2Table) Get(key Key) (*DataV2, bool) {
	d, ok := t.records[key]
	return d, ok
}

// ParseLegacyStream parses a stream of packed FPO_DATA records, applying
// the same run-length dedup as the original reader: a record identical
// to the immediately preceding one in (OffStart, ProcSize, CbProlog) is
// dropped rather than overwriting the kept entry.
func ParseLegacyStream(data []byte) (*LegacyTable, error) {
	t := &LegacyTable{Table: newTable(), records: make(map[Key]*Data)}

	r := stream.NewReader(data)
	var last Data
	haveLast := false

	for r.Remaining() >= legacyRecordSize {
		rec, err := parseLegacyRecord(r)
		if err != nil {
			return nil, fmt.Errorf("fpo: reading legacy record: %w", err)
		}

		if haveLast && rec.OffStart == last.OffStart && rec.ProcSize == last.ProcSize && rec.CbProlog == last.CbProlog {
			continue
		}
		last = *rec
		haveLast = true

		key := Key{OffStart: rec.OffStart, ProcSize: rec.ProcSize}
		t.insert(key)
		t.records[key] = rec
	}

	t.sortKeys()
	return t, nil
}

func parseLegacyRecord(r *stream.Reader) (*Data, error) {
	offStart, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	procSize, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	numLocals, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	numParams, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	packed, err := r.ReadU16()
	if err != nil {
		return nil, err
	}

	return &Data{
		OffStart:  offStart,
		ProcSize:  procSize,
		NumLocals: numLocals,
		NumParams: numParams,
		CbProlog:  uint8(packed & 0xFF),
		CbRegs:    uint8(packed>>8) & 0x7,
		HasSEH:    (packed>>11)&0x1 != 0,
		UseBP:     (packed>>12)&0x1 != 0,
		FrameType: uint8(packed>>14) & 0x3,
	}, nil
}

// ParseV2Stream parses a stream of FPO_DATA_V2 records, applying the
// same dedup rule as ParseLegacyStream.
func ParseV2Stream(data []byte) (*V2Table, error) {
	t := &V2Table{Table: newTable(), records: make(map[Key]*DataV2)}

	r := stream.NewReader(data)
	var last DataV2
	haveLast := false

	for r.Remaining() >= v2RecordSize {
		rec, err := parseV2Record(r)
		if err != nil {
			return nil, fmt.Errorf("fpo: reading v2 record: %w", err)
		}

		if haveLast && rec.OffStart == last.OffStart && rec.ProcSize == last.ProcSize && rec.CbProlog == last.CbProlog {
			continue
		}
		last = *rec
		haveLast = true

		key := Key{OffStart: rec.OffStart, ProcSize: rec.ProcSize}
		t.insert(key)
		t.records[key] = rec
	}

	t.sortKeys()
	return t, nil
}

func parseV2Record(r *stream.Reader) (*DataV2, error) {
	offStart, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	procSize, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	numLocals, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	numParams, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	maxStack, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	progStrOff, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	cbProlog, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	cbSavedRegs, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	flags, err := r.ReadU32()
	if err != nil {
		return nil, err
	}

	return &DataV2{
		OffStart:            offStart,
		ProcSize:            procSize,
		NumLocals:           numLocals,
		NumParams:           numParams,
		MaxStackSize:        maxStack,
		ProgramStringOffset: progStrOff,
		CbProlog:            cbProlog,
		CbSavedRegs:         cbSavedRegs,
		Flags:               flags,
	}, nil
}
