package fpo

import (
	"encoding/binary"
	"testing"
)

func appendLegacyRecord(buf []byte, offStart, procSize, numLocals uint32, numParams uint16, packed uint16) []byte {
	var rec [legacyRecordSize]byte
	binary.LittleEndian.PutUint32(rec[0:], offStart)
	binary.LittleEndian.PutUint32(rec[4:], procSize)
	binary.LittleEndian.PutUint32(rec[8:], numLocals)
	binary.LittleEndian.PutUint16(rec[12:], numParams)
	binary.LittleEndian.PutUint16(rec[14:], packed)
	return append(buf, rec[:]...)
}

func appendV2Record(buf []byte, offStart, procSize, numLocals, numParams, maxStack, progStrOff uint32, cbProlog, cbSavedRegs uint16, flags uint32) []byte {
	var rec [v2RecordSize]byte
	binary.LittleEndian.PutUint32(rec[0:], offStart)
	binary.LittleEndian.PutUint32(rec[4:], procSize)
	binary.LittleEndian.PutUint32(rec[8:], numLocals)
	binary.LittleEndian.PutUint32(rec[12:], numParams)
	binary.LittleEndian.PutUint32(rec[16:], maxStack)
	binary.LittleEndian.PutUint32(rec[20:], progStrOff)
	binary.LittleEndian.PutUint16(rec[24:], cbProlog)
	binary.LittleEndian.PutUint16(rec[26:], cbSavedRegs)
	binary.LittleEndian.PutUint32(rec[28:], flags)
	return append(buf, rec[:]...)
}

func TestParseLegacyStream(t *testing.T) {
	var data []byte
	// cbProlog=5, cbRegs=2, hasSEH, useBP, frameType=1
	packed := uint16(5) | uint16(2)<<8 | uint16(1)<<11 | uint16(1)<<12 | uint16(1)<<14
	data = appendLegacyRecord(data, 0x1000, 0x20, 8, 2, packed)
	// exact duplicate of the first record: dropped by run-length dedup
	data = appendLegacyRecord(data, 0x1000, 0x20, 99, 2, packed)
	// distinct record
	data = appendLegacyRecord(data, 0x2000, 0x40, 0, 0, 0)

	table, err := ParseLegacyStream(data)
	if err != nil {
		t.Fatalf("ParseLegacyStream: %v", err)
	}

	keys := table.Keys()
	if len(keys) != 2 {
		t.Fatalf("want 2 keys after dedup, got %d: %+v", len(keys), keys)
	}
	if keys[0] != (Key{OffStart: 0x1000, ProcSize: 0x20}) {
		t.Errorf("keys[0] = %+v, want {0x1000, 0x20}", keys[0])
	}
	if keys[1] != (Key{OffStart: 0x2000, ProcSize: 0x40}) {
		t.Errorf("keys[1] = %+v, want {0x2000, 0x40}", keys[1])
	}

	rec, ok := table.Get(Key{OffStart: 0x1000, ProcSize: 0x20})
	if !ok {
		t.Fatal("record for first key not found")
	}
	if rec.NumLocals != 8 {
		t.Errorf("NumLocals = %d, want 8 (the duplicate's 99 must not overwrite it)", rec.NumLocals)
	}
	if rec.CbProlog != 5 || rec.CbRegs != 2 || !rec.HasSEH || !rec.UseBP || rec.FrameType != 1 {
		t.Errorf("unpacked bitfield mismatch: %+v", rec)
	}
}

func TestParseLegacyStreamKeysSorted(t *testing.T) {
	var data []byte
	data = appendLegacyRecord(data, 0x9000, 0x10, 0, 0, 0)
	data = appendLegacyRecord(data, 0x1000, 0x10, 0, 0, 0)
	data = appendLegacyRecord(data, 0x1000, 0x04, 0, 0, 0)

	table, err := ParseLegacyStream(data)
	if err != nil {
		t.Fatalf("ParseLegacyStream: %v", err)
	}
	keys := table.Keys()
	if len(keys) != 3 {
		t.Fatalf("want 3 keys, got %d", len(keys))
	}
	want := []Key{{0x1000, 0x04}, {0x1000, 0x10}, {0x9000, 0x10}}
	for i, k := range want {
		if keys[i] != k {
			t.Errorf("keys[%d] = %+v, want %+v", i, keys[i], k)
		}
	}
}

func TestParseV2Stream(t *testing.T) {
	var data []byte
	data = appendV2Record(data, 0x1000, 0x20, 4, 2, 0x100, 0x40, 8, 12, FlagHasSEH|FlagIsFuncStart)
	data = appendV2Record(data, 0x1000, 0x20, 4, 2, 0x100, 0x40, 8, 12, FlagHasSEH|FlagIsFuncStart) // duplicate
	data = appendV2Record(data, 0x3000, 0x50, 0, 0, 0, 0, 0, 0, 0)

	table, err := ParseV2Stream(data)
	if err != nil {
		t.Fatalf("ParseV2Stream: %v", err)
	}
	if len(table.Keys()) != 2 {
		t.Fatalf("want 2 keys after dedup, got %d", len(table.Keys()))
	}

	rec, ok := table.Get(Key{OffStart: 0x1000, ProcSize: 0x20})
	if !ok {
		t.Fatal("record not found")
	}
	if !rec.HasSEH() || !rec.IsFunctionStart() || rec.HasCPPEH() {
		t.Errorf("flag decode mismatch: %+v", rec)
	}
	if rec.MaxStackSize != 0x100 || rec.ProgramStringOffset != 0x40 {
		t.Errorf("field mismatch: %+v", rec)
	}
}

func TestResolveParamSizePrefersV2ThenLegacyThenName(t *testing.T) {
	key := Key{OffStart: 0x10, ProcSize: 0x30}

	v2 := &V2Table{Table: newTable(), records: map[Key]*DataV2{}}
	v2.insert(key)
	v2.records[key] = &DataV2{NumParams: 16}

	v1 := &LegacyTable{Table: newTable(), records: map[Key]*Data{}}
	v1.insert(key)
	v1.records[key] = &Data{NumParams: 3}

	if size, ok := ResolveParamSize(key, v2, v1, "_foo@12"); !ok || size != 16 {
		t.Errorf("ResolveParamSize with v2 present = %d, %v, want 16, true", size, ok)
	}
	if size, ok := ResolveParamSize(key, nil, v1, "_foo@12"); !ok || size != 12 {
		t.Errorf("ResolveParamSize with only legacy = %d, %v, want 12 (3*4), true", size, ok)
	}
	if size, ok := ResolveParamSize(key, nil, nil, "_foo@12"); !ok || size != 12 {
		t.Errorf("ResolveParamSize falling back to name = %d, %v, want 12, true", size, ok)
	}
	if _, ok := ResolveParamSize(key, nil, nil, "plainName"); ok {
		t.Error("ResolveParamSize should fail for an undecorated name with no FPO data")
	}
}

func TestParamSizeFromDecoratedName(t *testing.T) {
	cases := []struct {
		name     string
		wantSize uint32
		wantOK   bool
	}{
		{"_foo@12", 12, true},
		{"@foo@12", 4, true},  // fastcall: 12 - 8
		{"@foo@4", 0, true},   // fastcall: floors at 0 rather than going negative
		{"@foo@", 0, true},    // empty numeric suffix is accepted as 0
		{"_foo@", 0, true},
		{"_justname", 0, false},
		{"", 0, false},
		{"@", 0, false}, // the only '@' is the leading character itself
		{"_foo@bar", 0, false},
	}
	for _, c := range cases {
		size, ok := paramSizeFromDecoratedName(c.name)
		if size != c.wantSize || ok != c.wantOK {
			t.Errorf("paramSizeFromDecoratedName(%q) = %d, %v, want %d, %v", c.name, size, ok, c.wantSize, c.wantOK)
		}
	}
}
