package msf

import (
	"errors"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// ErrIO indicates a failure to open or memory-map the underlying file.
var ErrIO = errors.New("msf: io error")

// MappedFile is a read-only memory mapping of a PDB file on disk. It owns
// the mapping exclusively: every StreamDirectory, Stream, and downstream
// reader built from it holds non-owning references and must not outlive it.
type MappedFile struct {
	data mmap.MMap
}

// OpenMapped memory-maps the file at path for reading.
func OpenMapped(path string) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("msf: %w: %w", ErrIO, err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("msf: %w: failed to map %s: %w", ErrIO, path, err)
	}

	return &MappedFile{data: m}, nil
}

// Bytes returns the whole mapped region. Callers must not retain slices of
// it past Close.
func (m *MappedFile) Bytes() []byte {
	return m.data
}

// Len returns the length of the mapping in bytes.
func (m *MappedFile) Len() int {
	return len(m.data)
}

// ReadAt implements io.ReaderAt over the mapping, so a *MappedFile can be
// handed directly to NewFile.
func (m *MappedFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.data)) {
		return 0, fmt.Errorf("msf: read offset %d out of range", off)
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("msf: short read at offset %d", off)
	}
	return n, nil
}

// Close unmaps the file. The MappedFile and everything built on it must not
// be used afterward.
func (m *MappedFile) Close() error {
	if m.data == nil {
		return nil
	}
	err := m.data.Unmap()
	m.data = nil
	return err
}
