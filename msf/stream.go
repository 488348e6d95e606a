package msf

import (
	"fmt"
	"io"
)

// rawBacked is implemented by data sources that expose their entire
// contents as one contiguous slice, letting Stream serve reads as
// zero-copy borrows instead of always copying through ReadAt.
type rawBacked interface {
	Bytes() []byte
}

// Stream provides sequential reading across non-contiguous blocks.
// It implements io.Reader, io.Seeker, and io.ReaderAt interfaces.
type Stream struct {
	data       io.ReaderAt
	raw        []byte // whole backing file, nil if data isn't raw-backed
	blocks     []uint32
	blockSize  uint32
	streamSize uint32

	// Current position for Read/Seek
	pos uint32
}

// NewStream creates a new Stream reader for the given blocks.
func NewStream(data io.ReaderAt, blocks []uint32, blockSize, streamSize uint32) *Stream {
	s := &Stream{
		data:       data,
		blocks:     blocks,
		blockSize:  blockSize,
		streamSize: streamSize,
		pos:        0,
	}
	if rb, ok := data.(rawBacked); ok {
		s.raw = rb.Bytes()
	}
	return s
}

// Bytes is a handle to a span of stream contents that is either a
// zero-copy borrow into the backing mapping or an owned heap copy made
// because the span crossed non-adjacent physical pages. Callers use the
// same Data() accessor either way; Owned exists only so callers (notably
// tests) can assert which path was taken.
type Bytes struct {
	data  []byte
	Owned bool
}

// Data returns the underlying bytes, valid regardless of Owned.
func (b Bytes) Data() []byte { return b.data }

// contiguousRun returns, for the block containing logical position pos,
// the file offset of that block and the number of stream bytes reachable
// by walking forward through adjacent (blockIndex+1 == nextBlockIndex)
// blocks from there.
func (s *Stream) contiguousRun(pos uint32) (fileOffset int64, runLen uint32) {
	blockIndex := pos / s.blockSize
	blockOffset := pos % s.blockSize
	if int(blockIndex) >= len(s.blocks) {
		return 0, 0
	}

	fileOffset = int64(s.blocks[blockIndex])*int64(s.blockSize) + int64(blockOffset)
	runLen = s.blockSize - blockOffset

	for i := int(blockIndex); i+1 < len(s.blocks); i++ {
		if s.blocks[i+1] != s.blocks[i]+1 {
			break
		}
		runLen += s.blockSize
	}

	if pos+runLen > s.streamSize {
		runLen = s.streamSize - pos
	}
	return fileOffset, runLen
}

// ReadBytes reads n bytes starting at the current position, returning a
// zero-copy borrow when the span lies within a single contiguous run of
// physical pages and the stream is raw-backed, or an owned copy
// otherwise. The cursor advances by n.
func (s *Stream) ReadBytes(n uint32) (Bytes, error) {
	if s.pos+n > s.streamSize {
		return Bytes{}, io.ErrUnexpectedEOF
	}

	if s.raw != nil {
		fileOffset, runLen := s.contiguousRun(s.pos)
		if runLen >= n {
			b := s.raw[fileOffset : fileOffset+int64(n)]
			s.pos += n
			return Bytes{data: b}, nil
		}
	}

	buf := make([]byte, n)
	if _, err := s.ReadAt(buf, int64(s.pos)); err != nil && err != io.EOF {
		return Bytes{}, err
	}
	s.pos += n
	return Bytes{data: buf, Owned: true}, nil
}

// PeekBytes behaves like ReadBytes but does not advance the cursor.
func (s *Stream) PeekBytes(n uint32) (Bytes, error) {
	save := s.pos
	b, err := s.ReadBytes(n)
	s.pos = save
	return b, err
}

// Align advances the cursor to the next multiple of k (a no-op if
// already aligned).
func (s *Stream) Align(k uint32) {
	if rem := s.pos % k; rem != 0 {
		s.pos += k - rem
	}
}

// ReadCString reads a zero-terminated string starting at the current
// position and advances the cursor past the terminator. It re-seeks to
// the starting position after scanning for the terminator so the final
// read can be sized exactly, matching the two-pass approach required
// when the terminator may lie across a page boundary.
func (s *Stream) ReadCString() (string, error) {
	const chunkSize = 256
	start := s.pos
	length := uint32(0)
	for {
		b, err := s.PeekBytes(1)
		if err != nil {
			return "", err
		}
		s.pos++
		if b.Data()[0] == 0 {
			break
		}
		length++
	}
	s.pos = start
	if length == 0 {
		s.pos = start + 1
		return "", nil
	}
	out := make([]byte, 0, length)
	for remaining := length; remaining > 0; {
		chunk := uint32(chunkSize)
		if chunk > remaining {
			chunk = remaining
		}
		b, err := s.ReadBytes(chunk)
		if err != nil {
			return "", err
		}
		out = append(out, b.Data()...)
		remaining -= chunk
	}
	s.pos++ // skip terminator
	return string(out), nil
}

// Read implements io.Reader. It reads across block boundaries transparently.
func (s *Stream) Read(p []byte) (n int, err error) {
	if s.pos >= s.streamSize {
		return 0, io.EOF
	}

	remaining := s.streamSize - s.pos
	if uint32(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err = s.ReadAt(p, int64(s.pos))
	s.pos += uint32(n)
	return n, err
}

// ReadAt implements io.ReaderAt. It reads data at the given offset,
// handling block boundaries transparently.
func (s *Stream) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("msf: negative offset: %d", off)
	}

	if off >= int64(s.streamSize) {
		return 0, io.EOF
	}

	pos := uint32(off)
	totalRead := 0

	for len(p) > 0 && pos < s.streamSize {
		// Calculate which block and offset within block
		blockIndex := pos / s.blockSize
		blockOffset := pos % s.blockSize

		if int(blockIndex) >= len(s.blocks) {
			return totalRead, io.EOF
		}

		// Calculate file offset for this block
		fileOffset := int64(s.blocks[blockIndex])*int64(s.blockSize) + int64(blockOffset)

		// How much can we read from this block?
		blockRemaining := s.blockSize - blockOffset
		streamRemaining := s.streamSize - pos
		toRead := uint32(len(p))

		if toRead > blockRemaining {
			toRead = blockRemaining
		}
		if toRead > streamRemaining {
			toRead = streamRemaining
		}

		// Read from the underlying data
		bytesRead, err := s.data.ReadAt(p[:toRead], fileOffset)
		totalRead += bytesRead
		p = p[bytesRead:]
		pos += uint32(bytesRead)

		if err != nil {
			if err == io.EOF && totalRead > 0 {
				// Partial read at end of file
				break
			}
			return totalRead, err
		}
	}

	if totalRead == 0 && int64(s.pos) >= int64(s.streamSize) {
		return 0, io.EOF
	}

	return totalRead, nil
}

// Seek implements io.Seeker.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	var newPos int64

	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = int64(s.pos) + offset
	case io.SeekEnd:
		newPos = int64(s.streamSize) + offset
	default:
		return 0, fmt.Errorf("msf: invalid seek whence: %d", whence)
	}

	if newPos < 0 {
		return 0, fmt.Errorf("msf: negative seek position: %d", newPos)
	}

	if newPos > int64(s.streamSize) {
		newPos = int64(s.streamSize)
	}

	s.pos = uint32(newPos)
	return newPos, nil
}

// Size returns the total size of the stream in bytes.
func (s *Stream) Size() uint32 {
	return s.streamSize
}

// Position returns the current read position.
func (s *Stream) Position() uint32 {
	return s.pos
}

// Remaining returns the number of bytes remaining to be read.
func (s *Stream) Remaining() uint32 {
	if s.pos >= s.streamSize {
		return 0
	}
	return s.streamSize - s.pos
}

// Bytes reads the entire stream into a byte slice.
// This is useful for smaller streams that fit in memory.
func (s *Stream) Bytes() ([]byte, error) {
	data := make([]byte, s.streamSize)
	n, err := s.ReadAt(data, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return data[:n], nil
}

// Reset resets the stream position to the beginning.
func (s *Stream) Reset() {
	s.pos = 0
}
