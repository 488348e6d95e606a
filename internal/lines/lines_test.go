package lines

import (
	"encoding/binary"
	"testing"
)

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func padTo4(data []byte) []byte {
	for len(data)%4 != 0 {
		data = append(data, 0)
	}
	return data
}

func appendSubsection(buf []byte, sig uint32, body []byte) []byte {
	buf = append(buf, u32(sig)...)
	buf = append(buf, u32(uint32(len(body)))...)
	buf = append(buf, body...)
	return padTo4(buf)
}

func buildChecksumBody(nameIndex uint32, hash []byte, hashType uint8) []byte {
	body := append([]byte{}, u32(nameIndex)...)
	body = append(body, byte(len(hash)), hashType)
	body = append(body, hash...)
	return padTo4(body)
}

func buildLineSectionBody(offset uint32, segment, flags uint16, codeSize uint32, checksumOffset uint32, entries [][2]uint32) []byte {
	body := append([]byte{}, u32(offset)...)
	body = append(body, u16(segment)...)
	body = append(body, u16(flags)...)
	body = append(body, u32(codeSize)...)
	body = append(body, u32(checksumOffset)...)
	body = append(body, u32(uint32(len(entries)))...)
	body = append(body, u32(uint32(len(entries)*8+12))...) // block byte size, unused by the reader
	for _, e := range entries {
		body = append(body, u32(e[0])...)
		body = append(body, u32(e[1])...)
	}
	return body
}

func TestWalkChecksumsAndLines(t *testing.T) {
	var data []byte
	checksumBody := buildChecksumBody(0x20, []byte{1, 2, 3, 4}, 2)
	data = appendSubsection(data, SubsectionFileChecksums, checksumBody)

	lineBody := buildLineSectionBody(0x1000, 1, 0, 0x40, 0, [][2]uint32{
		{0x00, 10},
		{0x08, 11},
		{0x10, 0xFF000000 | 12},
	})
	data = appendSubsection(data, SubsectionLines, lineBody)

	checksums, sections, err := Walk(data)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(checksums) != 1 {
		t.Fatalf("want 1 checksum entry, got %d", len(checksums))
	}
	cs, ok := checksums[0]
	if !ok {
		t.Fatal("checksum entry at offset 0 not found")
	}
	if cs.NameIndex != 0x20 || cs.HashType != 2 || len(cs.Hash) != 4 {
		t.Errorf("checksum mismatch: %+v", cs)
	}

	if len(sections) != 1 {
		t.Fatalf("want 1 line section, got %d", len(sections))
	}
	sec := sections[0]
	if sec.Offset != 0x1000 || sec.Segment != 1 || sec.CodeSize != 0x40 {
		t.Errorf("section header mismatch: %+v", sec)
	}
	if len(sec.Blocks) != 1 || len(sec.Blocks[0].Lines) != 3 {
		t.Fatalf("want 1 block with 3 lines, got %+v", sec.Blocks)
	}
	if sec.Blocks[0].ChecksumOffset != 0 {
		t.Errorf("ChecksumOffset = %d, want 0", sec.Blocks[0].ChecksumOffset)
	}
	if sec.Blocks[0].Lines[0].LineNumber() != 10 {
		t.Errorf("line 0 number = %d, want 10", sec.Blocks[0].Lines[0].LineNumber())
	}
	if sec.Blocks[0].Lines[2].Offset != 0x10 {
		t.Errorf("line 2 offset = %#x, want 0x10", sec.Blocks[0].Lines[2].Offset)
	}
}

func TestWalkSkipsIgnoredSubsection(t *testing.T) {
	var data []byte
	data = appendSubsection(data, SubsectionFileChecksums|subsectionIgnoreBit, []byte{1, 2, 3, 4})
	lineBody := buildLineSectionBody(0, 1, 0, 0x10, 0, [][2]uint32{{0, 1}})
	data = appendSubsection(data, SubsectionLines, lineBody)

	checksums, sections, err := Walk(data)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if checksums != nil {
		t.Errorf("ignored-bit subsection should produce no checksums, got %v", checksums)
	}
	if len(sections) != 1 {
		t.Fatalf("want 1 line section despite the ignored subsection preceding it, got %d", len(sections))
	}
}

func TestWalkEmpty(t *testing.T) {
	checksums, sections, err := Walk(nil)
	if err != nil {
		t.Fatalf("Walk(nil): %v", err)
	}
	if checksums != nil || sections != nil {
		t.Errorf("Walk(nil) = %v, %v, want nil, nil", checksums, sections)
	}
}

func TestLineNumberMasksFlags(t *testing.T) {
	l := Line{Flags: 0xFF000123}
	if l.LineNumber() != 0x000123 {
		t.Errorf("LineNumber() = %#x, want 0x123", l.LineNumber())
	}
}
