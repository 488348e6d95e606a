package msf

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildFixture assembles a minimal, fully valid 5-block MSF file:
//
//	block 0: superblock
//	block 1: free block map (unread by this package, present only because
//	         FreeBlockMapBlock must be 1 or 2)
//	block 2: block map (array of directory block indices)
//	block 3: stream directory (one stream, pointing at block 4)
//	block 4: stream 0's contents
func buildFixture(t *testing.T, blockSize uint32, streamContents string) []byte {
	t.Helper()

	buf := make([]byte, 5*blockSize)

	copy(buf[0:], Magic)
	binary.LittleEndian.PutUint32(buf[32:], blockSize) // BlockSize
	binary.LittleEndian.PutUint32(buf[36:], 1)         // FreeBlockMapBlock
	binary.LittleEndian.PutUint32(buf[40:], 5)         // NumBlocks
	binary.LittleEndian.PutUint32(buf[48:], 0)         // Unknown
	binary.LittleEndian.PutUint32(buf[52:], 2)         // BlockMapAddr

	// Directory: NumStreams=1, StreamSizes=[len], StreamBlocks[0]=[4]
	dir := make([]byte, 12)
	binary.LittleEndian.PutUint32(dir[0:], 1)
	binary.LittleEndian.PutUint32(dir[4:], uint32(len(streamContents)))
	binary.LittleEndian.PutUint32(dir[8:], 4)
	binary.LittleEndian.PutUint32(buf[44:], uint32(len(dir))) // NumDirectoryBytes

	// Block map (block 2): directory lives in block 3.
	binary.LittleEndian.PutUint32(buf[2*blockSize:], 3)

	// Directory contents (block 3).
	copy(buf[3*blockSize:], dir)

	// Stream contents (block 4).
	copy(buf[4*blockSize:], streamContents)

	return buf
}

func writeFixture(t *testing.T, streamContents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.pdb")
	if err := os.WriteFile(path, buildFixture(t, BlockSize512, streamContents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenMappedServesFileContents(t *testing.T) {
	path := writeFixture(t, "hello world")

	m, err := OpenMapped(path)
	if err != nil {
		t.Fatalf("OpenMapped: %v", err)
	}
	defer m.Close()

	if m.Len() != 5*int(BlockSize512) {
		t.Errorf("Len() = %d, want %d", m.Len(), 5*int(BlockSize512))
	}

	got := make([]byte, MagicSize)
	if _, err := m.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != Magic {
		t.Errorf("ReadAt(0) = %q, want magic signature", got)
	}
}

func TestOpenMappedReadAtOutOfRange(t *testing.T) {
	path := writeFixture(t, "x")
	m, err := OpenMapped(path)
	if err != nil {
		t.Fatalf("OpenMapped: %v", err)
	}
	defer m.Close()

	if _, err := m.ReadAt(make([]byte, 1), int64(m.Len())+1); err == nil {
		t.Error("ReadAt past the end of the mapping should fail")
	}
}

func TestOpenReadsStreamThroughMapping(t *testing.T) {
	path := writeFixture(t, "hello world")

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	data, err := f.ReadStream(0)
	if err != nil {
		t.Fatalf("ReadStream(0): %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("ReadStream(0) = %q, want %q", data, "hello world")
	}
}

func TestStreamReadBytesBorrowsFromMappedFile(t *testing.T) {
	path := writeFixture(t, "hello world")

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	s, err := f.OpenStream(0)
	if err != nil {
		t.Fatalf("OpenStream(0): %v", err)
	}

	b, err := s.ReadBytes(uint32(len("hello world")))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if b.Owned {
		t.Error("ReadBytes over a mapped, contiguous single-block stream should borrow rather than copy")
	}
	if string(b.Data()) != "hello world" {
		t.Errorf("ReadBytes data = %q, want %q", b.Data(), "hello world")
	}
}
