package breakpad

import (
	"errors"
	"strings"
	"testing"

	"github.com/luser/dump-syms/pdb"
)

func TestCleanName(t *testing.T) {
	cases := map[string]string{
		"foo __ptr64 bar":    "foo bar",
		"func__cdecl(int)":   "func(int)",
		"plainFunctionName":  "plainFunctionName",
		"a __ptr64__cdecl b": "a b",
	}
	for in, want := range cases {
		if got := cleanName(in); got != want {
			t.Errorf("cleanName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRewritePathFirstMatchWins(t *testing.T) {
	filters := []PathFilter{
		{From: `c:\src\`, To: `/home/build/`},
		{From: `c:\`, To: `/root/`},
	}
	if got := rewritePath(`c:\src\foo.c`, filters); got != `/home/build/foo.c` {
		t.Errorf("rewritePath = %q, want /home/build/foo.c", got)
	}
	if got := rewritePath(`c:\other\bar.c`, filters); got != `/root/other\bar.c` {
		t.Errorf("rewritePath = %q, want /root/other\\bar.c", got)
	}
	if got := rewritePath(`d:\unrelated.c`, filters); got != `d:\unrelated.c` {
		t.Errorf("rewritePath should leave an unmatched path untouched, got %q", got)
	}
}

func TestRewritePathEmptyFromNeverMatches(t *testing.T) {
	filters := []PathFilter{{From: "", To: "/x/"}}
	if got := rewritePath("anything.c", filters); got != "anything.c" {
		t.Errorf("an empty From prefix must never match, got %q", got)
	}
}

func TestFormatGUIDAge(t *testing.T) {
	info := &pdb.PDBInfo{
		Age: 7,
		GUID: [16]byte{
			0x01, 0x02, 0x03, 0x04,
			0x05, 0x06,
			0x07, 0x08,
			0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10,
		},
	}
	got := formatGUIDAge(info)
	want := "0403020106050807090A0B0C0D0E0F107"
	if got != want {
		t.Errorf("formatGUIDAge = %q, want %q", got, want)
	}
	if got != strings.ToUpper(got) {
		t.Errorf("formatGUIDAge must be all uppercase, got %q", got)
	}
}

func TestCeilToMultipleOf16(t *testing.T) {
	cases := map[uint32]uint32{
		0:  0,
		1:  16,
		15: 16,
		16: 16,
		17: 32,
	}
	for in, want := range cases {
		if got := ceilToMultipleOf16(in); got != want {
			t.Errorf("ceilToMultipleOf16(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestBoolToDigit(t *testing.T) {
	if boolToDigit(true) != "1" {
		t.Error(`boolToDigit(true) should be "1"`)
	}
	if boolToDigit(false) != "0" {
		t.Error(`boolToDigit(false) should be "0"`)
	}
}

func TestRewriteAndDedupPrefersLineData(t *testing.T) {
	sections := pdb.NewSectionHeaders([]pdb.SectionHeader{
		{VirtualAddress: 0x1000},
	})

	noLines := &pdb.Function{Name: "f", Segment: 1, Offset: 0x10}
	withLines := &pdb.Function{Name: "f", Segment: 1, Offset: 0x10, HasFile: true, Lines: []pdb.FunctionLine{{Offset: 0, LineNumber: 1}}}
	other := &pdb.Function{Name: "g", Segment: 1, Offset: 0x50}

	out := rewriteAndDedup([]*pdb.Function{noLines, withLines, other}, sections)
	if len(out) != 2 {
		t.Fatalf("want 2 functions after dedup by RVA, got %d", len(out))
	}

	byRVA := make(map[uint32]*pdb.Function, len(out))
	for _, ef := range out {
		byRVA[ef.rva] = ef.fn
	}

	dup, ok := byRVA[0x1010]
	if !ok {
		t.Fatalf("expected an entry at RVA 0x1010")
	}
	if !dup.HasFile {
		t.Errorf("rewriteAndDedup should keep the duplicate carrying line data")
	}
	if _, ok := byRVA[0x1050]; !ok {
		t.Errorf("expected the unrelated function at RVA 0x1050 to survive untouched")
	}
}

func TestRewriteAndDedupKeepsOrderWhenNeitherHasLines(t *testing.T) {
	sections := pdb.NewSectionHeaders([]pdb.SectionHeader{{VirtualAddress: 0}})
	first := &pdb.Function{Name: "first", Segment: 1, Offset: 0}
	second := &pdb.Function{Name: "second", Segment: 1, Offset: 0}

	out := rewriteAndDedup([]*pdb.Function{first, second}, sections)
	if len(out) != 1 {
		t.Fatalf("want 1 function after dedup, got %d", len(out))
	}
	if out[0].fn.Name != "first" {
		t.Errorf("when neither duplicate has line data, the first one seen should be kept; got %q", out[0].fn.Name)
	}
}

func TestClassifyImageErrorPassesThroughUnrelatedErrors(t *testing.T) {
	err := classifyImageError(nil)
	if err != nil {
		t.Errorf("classifyImageError(nil) = %v, want nil", err)
	}
	unrelated := errors.New("unrelated")
	if got := classifyImageError(unrelated); got != unrelated {
		t.Errorf("classifyImageError(unrelated) = %v, want the same error back", got)
	}
}
