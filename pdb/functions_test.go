package pdb

import (
	"encoding/binary"
	"testing"

	"github.com/luser/dump-syms/internal/lines"
	"github.com/luser/dump-syms/internal/names"
)

func TestFileTableAssignsSequentialIDsInFirstSeenOrder(t *testing.T) {
	ft := newFileTable()
	if id := ft.id(100); id != 0 {
		t.Errorf("first id = %d, want 0", id)
	}
	if id := ft.id(200); id != 1 {
		t.Errorf("second distinct id = %d, want 1", id)
	}
	if id := ft.id(100); id != 0 {
		t.Errorf("repeat of first name index should return 0 again, got %d", id)
	}
	if got := ft.NameIndices(); len(got) != 2 || got[0] != 100 || got[1] != 200 {
		t.Errorf("NameIndices() = %v, want [100 200]", got)
	}
}

func TestFileTableResolvePathsNilNameStream(t *testing.T) {
	ft := newFileTable()
	ft.id(5)
	ft.id(9)
	paths := ft.ResolvePaths(nil)
	if len(paths) != 2 || paths[0] != "" || paths[1] != "" {
		t.Errorf("ResolvePaths(nil) = %v, want [\"\" \"\"]", paths)
	}
}

func TestFileTableResolvePaths(t *testing.T) {
	ns, err := names.ParseNameStream(buildNameStream(map[uint32]string{
		4: "a.c",
		9: "b.c",
	}))
	if err != nil {
		t.Fatalf("buildNameStream/ParseNameStream: %v", err)
	}

	ft := newFileTable()
	ft.id(9)
	ft.id(4)
	paths := ft.ResolvePaths(ns)
	if len(paths) != 2 || paths[0] != "b.c" || paths[1] != "a.c" {
		t.Errorf("ResolvePaths() = %v, want [b.c a.c]", paths)
	}
}

func TestAssignLinesFirstWriterWins(t *testing.T) {
	fnA := &Function{Segment: 1, Offset: 0x100}
	fnB := &Function{Segment: 1, Offset: 0x200}
	funcs := []*Function{fnA, fnB}

	ft := newFileTable()
	checksums := map[uint32]lines.Checksum{0: {NameIndex: 7}}

	secFirst := &lines.Section{
		Segment: 1, Offset: 0x100,
		Blocks: []lines.Block{{ChecksumOffset: 0, Lines: []lines.Line{{Offset: 0, Flags: 1}}}},
	}
	secSecond := &lines.Section{
		Segment: 1, Offset: 0x100,
		Blocks: []lines.Block{{ChecksumOffset: 0, Lines: []lines.Line{{Offset: 0, Flags: 99}}}},
	}

	assignLines(funcs, checksums, []*lines.Section{secFirst}, ft)
	if !fnA.HasFile || len(fnA.Lines) != 1 || fnA.Lines[0].LineNumber != 1 {
		t.Fatalf("fnA after first assignment: %+v", fnA)
	}

	assignLines(funcs, checksums, []*lines.Section{secSecond}, ft)
	if fnA.Lines[0].LineNumber != 1 {
		t.Errorf("a later subsection claiming the same function must not override it; got line number %d, want 1", fnA.Lines[0].LineNumber)
	}
	if fnB.HasFile {
		t.Errorf("fnB should be untouched by sections targeting fnA's range")
	}
}

func TestAssignLinesClampsToLastFunction(t *testing.T) {
	fnA := &Function{Segment: 1, Offset: 0x10}
	funcs := []*Function{fnA}
	ft := newFileTable()
	checksums := map[uint32]lines.Checksum{0: {NameIndex: 3}}

	// A section whose (segment, offset) is past every function in the table.
	sec := &lines.Section{
		Segment: 1, Offset: 0xFFFF,
		Blocks: []lines.Block{{ChecksumOffset: 0, Lines: []lines.Line{{Offset: 0, Flags: 5}}}},
	}

	assignLines(funcs, checksums, []*lines.Section{sec}, ft)
	if !fnA.HasFile {
		t.Fatal("the lone function should still receive the out-of-range section's lines, clamped to it")
	}
}

func TestAssignLinesNoChecksumLeavesHasFileFalse(t *testing.T) {
	fnA := &Function{Segment: 2, Offset: 0}
	funcs := []*Function{fnA}
	ft := newFileTable()
	// checksums map has no entry for the block's ChecksumOffset
	sec := &lines.Section{
		Segment: 2, Offset: 0,
		Blocks: []lines.Block{{ChecksumOffset: 123, Lines: []lines.Line{{Offset: 0, Flags: 1}}}},
	}

	assignLines(funcs, map[uint32]lines.Checksum{}, []*lines.Section{sec}, ft)
	if fnA.HasFile {
		t.Error("HasFile should remain false when no checksum entry resolves a source file")
	}
	if len(fnA.Lines) != 1 {
		t.Errorf("line data should still be recorded even without a resolved file, got %d lines", len(fnA.Lines))
	}
}

// buildNameStream constructs a raw "/NAMES" stream byte buffer: signature,
// version, string pool, and the offset table ParseNameStream walks.
func buildNameStream(entries map[uint32]string) []byte {
	maxOff := uint32(0)
	for off, s := range entries {
		if end := off + uint32(len(s)) + 1; end > maxOff {
			maxOff = end
		}
	}
	pool := make([]byte, maxOff)
	for off, s := range entries {
		copy(pool[off:], s)
	}

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 0xEFFEEFFE) // signature
	buf = appendU32(buf, 1)                        // version
	buf = appendU32(buf, uint32(len(pool)))
	buf = append(buf, pool...)
	buf = appendU32(buf, uint32(len(entries)))
	for off := range entries {
		buf = appendU32(buf, off)
	}
	return buf
}

func appendU32(buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return append(buf, b...)
}
