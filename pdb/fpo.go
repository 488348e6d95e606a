package pdb

import (
	"fmt"

	"github.com/luser/dump-syms/internal/fpo"
)

// FPOTables holds the deduplicated legacy and v2 FPO record sets for a
// PDB, along with the parameter-size resolver each FUNC and PUBLIC line
// needs.
type FPOTables struct {
	Legacy *fpo.LegacyTable
	V2     *fpo.V2Table
}

// FPO returns the PDB's frame-pointer-omission tables. Either table may
// be nil if its stream was absent; both nil means the PDB carries no
// frame data at all.
func (f *File) FPO() (*FPOTables, error) {
	dbiStream, err := f.getDBI()
	if err != nil {
		return nil, err
	}
	if dbiStream.OptionalDbgStreams == nil {
		return &FPOTables{}, nil
	}

	tables := &FPOTables{}

	if idx := dbiStream.OptionalDbgStreams.FPOStreamIndex; idx != 0xFFFF {
		data, err := f.msf.ReadStream(uint32(idx))
		if err != nil {
			return nil, fmt.Errorf("pdb: failed to read FPO stream: %w", err)
		}
		tables.Legacy, err = fpo.ParseLegacyStream(data)
		if err != nil {
			return nil, fmt.Errorf("pdb: failed to parse FPO stream: %w", err)
		}
	}

	if idx := dbiStream.OptionalDbgStreams.NewFPOStreamIndex; idx != 0xFFFF {
		data, err := f.msf.ReadStream(uint32(idx))
		if err != nil {
			return nil, fmt.Errorf("pdb: failed to read new FPO stream: %w", err)
		}
		tables.V2, err = fpo.ParseV2Stream(data)
		if err != nil {
			return nil, fmt.Errorf("pdb: failed to parse new FPO stream: %w", err)
		}
	}

	return tables, nil
}

// ResolveParamSize computes the argument byte size for the function
// starting at startRVA with the given procedure size, preferring FPO
// v2, then legacy FPO, then a decorated-name fallback.
func (t *FPOTables) ResolveParamSize(startRVA, procSize uint32, decoratedName string) (uint32, bool) {
	key := fpo.Key{OffStart: startRVA, ProcSize: procSize}
	return fpo.ResolveParamSize(key, t.V2, t.Legacy, decoratedName)
}
