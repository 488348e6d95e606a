// Package names parses the PDB's stream name map (stream 1) and the
// "/NAMES" string-pool stream it points to.
package names

import (
	"fmt"
	"strings"

	"github.com/luser/dump-syms/internal/stream"
)

const nameStreamSignature = 0xEFFEEFFE

// RootIndex is the parsed content of stream 1: the PDB's identity (GUID,
// age, timestamp) plus the name -> stream-number map used to locate
// other named streams such as "/NAMES" itself.
type RootIndex struct {
	Version   uint32
	Timestamp uint32
	Age       uint32
	GUID      [16]byte

	streams map[string]uint32
}

// ParseRootIndex parses stream 1's NameIndexHeader and trailing hash map.
func ParseRootIndex(data []byte) (*RootIndex, error) {
	r := stream.NewReader(data)

	version, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("names: reading version: %w", err)
	}
	timestamp, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("names: reading timestamp: %w", err)
	}
	age, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("names: reading age: %w", err)
	}
	guid, err := r.ReadGUID()
	if err != nil {
		return nil, fmt.Errorf("names: reading guid: %w", err)
	}

	namesLen, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("names: reading pool length: %w", err)
	}
	nameStart := r.Offset()
	if err := r.Skip(int(namesLen)); err != nil {
		return nil, fmt.Errorf("names: skipping string pool: %w", err)
	}

	okCount, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("names: reading okCount: %w", err)
	}
	count, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("names: reading count: %w", err)
	}
	if _, err := r.ReadU32(); err != nil { // skipCount, unused
		return nil, fmt.Errorf("names: reading skipCount: %w", err)
	}

	bitsetWords := (count + 31) / 32
	bitset := make([]uint32, bitsetWords)
	for i := range bitset {
		bitset[i], err = r.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("names: reading bitset: %w", err)
		}
	}
	if _, err := r.ReadU32(); err != nil { // sentinel zero word
		return nil, fmt.Errorf("names: reading sentinel: %w", err)
	}

	pool := data[nameStart : nameStart+int(namesLen)]
	streams := make(map[string]uint32)

	remaining := okCount
	for slot := uint32(0); slot < count && remaining > 0; slot++ {
		word := slot / 32
		bit := slot % 32
		if bitset[word]&(1<<bit) == 0 {
			continue
		}

		strOffset, err := r.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("names: reading entry offset: %w", err)
		}
		streamNum, err := r.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("names: reading entry stream number: %w", err)
		}

		pr := stream.NewReader(pool)
		if err := pr.SetOffset(int(strOffset)); err != nil {
			return nil, fmt.Errorf("names: bad string offset %d: %w", strOffset, err)
		}
		name, err := pr.ReadCString()
		if err != nil {
			return nil, fmt.Errorf("names: reading entry name: %w", err)
		}
		streams[strings.ToUpper(name)] = streamNum
		remaining--
	}

	if remaining != 0 {
		return nil, fmt.Errorf("names: %d hash entries unaccounted for", remaining)
	}

	return &RootIndex{
		Version:   version,
		Timestamp: timestamp,
		Age:       age,
		GUID:      guid,
		streams:   streams,
	}, nil
}

// Lookup returns the stream number registered for name (case-insensitive).
func (ri *RootIndex) Lookup(name string) (uint32, bool) {
	n, ok := ri.streams[strings.ToUpper(name)]
	return n, ok
}

// NameStream is the parsed "/NAMES" string pool: a set of byte offsets
// into a pool buffer, each resolving to a zero-terminated string.
type NameStream struct {
	pool    []byte
	entries map[uint32]string
}

// ParseNameStream parses the "/NAMES" stream's contents.
func ParseNameStream(data []byte) (*NameStream, error) {
	r := stream.NewReader(data)

	sig, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("names: reading signature: %w", err)
	}
	if sig != nameStreamSignature {
		return nil, fmt.Errorf("names: bad name-stream signature %#x", sig)
	}

	if _, err := r.ReadU32(); err != nil { // version
		return nil, fmt.Errorf("names: reading version: %w", err)
	}

	poolSize, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("names: reading pool size: %w", err)
	}
	pool, err := r.ReadBytesRef(int(poolSize))
	if err != nil {
		return nil, fmt.Errorf("names: reading pool: %w", err)
	}

	count, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("names: reading offset count: %w", err)
	}

	entries := make(map[uint32]string, count)
	for i := uint32(0); i < count; i++ {
		off, err := r.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("names: reading offset %d: %w", i, err)
		}
		if off == 0 {
			continue
		}
		pr := stream.NewReader(pool)
		if err := pr.SetOffset(int(off)); err != nil {
			continue
		}
		name, err := pr.ReadCString()
		if err != nil {
			continue
		}
		entries[off] = name
	}

	return &NameStream{pool: pool, entries: entries}, nil
}

// Lookup resolves a pool offset to its string, as used for module-local
// file-checksum name references and STACK WIN v2 program strings.
func (ns *NameStream) Lookup(offset uint32) (string, bool) {
	s, ok := ns.entries[offset]
	return s, ok
}
