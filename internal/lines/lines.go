// Package lines parses the new-style (C13) line-number subsections
// found in a module's private symbol stream, after the symbol and
// old-style-lines regions.
package lines

import (
	"fmt"

	"github.com/luser/dump-syms/internal/stream"
)

// Subsection kinds recognized in the new-style lines region. Every
// other kind (and any subsection with the high bit of sig set) is
// skipped.
const (
	SubsectionFileChecksums uint32 = 0xF4
	SubsectionLines         uint32 = 0xF2

	subsectionIgnoreBit uint32 = 0x80000000
)

// Checksum is one entry of the FileChecksums subsection: the module's
// local reference to a source file, recorded by its offset into the
// subsection's byte stream.
type Checksum struct {
	// NameIndex is an offset into the "/NAMES" string pool identifying
	// the source file path.
	NameIndex uint32
	HashType  uint8
	Hash      []byte
}

// Line is one (code offset, source line number) pair within a block.
// Flags' low 24 bits hold the statement line number; the remaining
// bits (delta-to-end, is-statement) are not used by the emitter.
type Line struct {
	Offset uint32
	Flags  uint32
}

// LineNumber extracts the statement line number from Flags.
func (l Line) LineNumber() uint32 {
	return l.Flags & 0x00FFFFFF
}

// Block is one CV_SourceFile run within a Lines subsection: the lines
// contributed by a single source file to the section range the
// enclosing CV_LineSection describes.
type Block struct {
	// ChecksumOffset indexes into the FileChecksums subsection (the
	// "index" field of CV_SourceFile), resolved via a Checksum's
	// position rather than its NameIndex.
	ChecksumOffset uint32
	Lines          []Line
}

// Section is one CV_LineSection: a code range within a segment, plus
// the per-source-file Blocks of line data covering it.
type Section struct {
	Offset   uint32
	Segment  uint16
	Flags    uint16
	CodeSize uint32
	Blocks   []Block
}

// Walk iterates the new-style lines region, collecting the
// FileChecksums subsection (if present) and every Lines subsection.
func Walk(data []byte) (map[uint32]Checksum, []*Section, error) {
	r := stream.NewReader(data)

	var checksums map[uint32]Checksum
	var sections []*Section

	for r.Remaining() >= 8 {
		sig, err := r.ReadU32()
		if err != nil {
			return nil, nil, fmt.Errorf("lines: reading subsection signature: %w", err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, nil, fmt.Errorf("lines: reading subsection size: %w", err)
		}

		if sig&subsectionIgnoreBit != 0 || r.Remaining() < int(size) {
			if sig&subsectionIgnoreBit != 0 {
				if err := r.Skip(int(size)); err != nil {
					return nil, nil, fmt.Errorf("lines: skipping ignored subsection: %w", err)
				}
				r.Align(4)
			}
			continue
		}

		body, err := r.ReadBytesRef(int(size))
		if err != nil {
			return nil, nil, fmt.Errorf("lines: reading subsection body: %w", err)
		}
		r.Align(4)

		switch sig {
		case SubsectionFileChecksums:
			checksums, err = parseFileChecksums(body)
			if err != nil {
				return nil, nil, err
			}
		case SubsectionLines:
			sec, err := parseLineSection(body)
			if err != nil {
				return nil, nil, err
			}
			sections = append(sections, sec)
		}
	}

	return checksums, sections, nil
}

func parseFileChecksums(data []byte) (map[uint32]Checksum, error) {
	r := stream.NewReader(data)
	result := make(map[uint32]Checksum)

	for r.Remaining() > 0 {
		entryOffset := uint32(r.Offset())

		nameIndex, err := r.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("lines: reading checksum name index: %w", err)
		}
		hashLen, err := r.ReadU8()
		if err != nil {
			return nil, fmt.Errorf("lines: reading checksum hash length: %w", err)
		}
		hashType, err := r.ReadU8()
		if err != nil {
			return nil, fmt.Errorf("lines: reading checksum hash type: %w", err)
		}
		hash, err := r.ReadBytes(int(hashLen))
		if err != nil {
			return nil, fmt.Errorf("lines: reading checksum hash: %w", err)
		}

		result[entryOffset] = Checksum{NameIndex: nameIndex, HashType: hashType, Hash: hash}
		r.Align(4)
	}

	return result, nil
}

func parseLineSection(data []byte) (*Section, error) {
	r := stream.NewReader(data)

	off, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("lines: reading section offset: %w", err)
	}
	sec, err := r.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("lines: reading segment: %w", err)
	}
	flags, err := r.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("lines: reading flags: %w", err)
	}
	codeSize, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("lines: reading code size: %w", err)
	}

	section := &Section{Offset: off, Segment: sec, Flags: flags, CodeSize: codeSize}

	for r.Remaining() >= 12 {
		index, err := r.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("lines: reading source-file index: %w", err)
		}
		count, err := r.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("lines: reading source-file line count: %w", err)
		}
		if _, err := r.ReadU32(); err != nil { // linsiz, byte size of the block; unused, we size by count
			return nil, fmt.Errorf("lines: reading source-file block size: %w", err)
		}

		block := Block{ChecksumOffset: index}
		for i := uint32(0); i < count; i++ {
			lineOff, err := r.ReadU32()
			if err != nil {
				return nil, fmt.Errorf("lines: reading line offset: %w", err)
			}
			lineFlags, err := r.ReadU32()
			if err != nil {
				return nil, fmt.Errorf("lines: reading line flags: %w", err)
			}
			block.Lines = append(block.Lines, Line{Offset: lineOff, Flags: lineFlags})
		}
		section.Blocks = append(section.Blocks, block)
	}

	return section, nil
}
