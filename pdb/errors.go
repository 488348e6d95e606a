// Package pdb provides parsing and querying of Microsoft PDB files, and the
// Breakpad symbol-file emission built on top of them.
package pdb

import (
	"errors"
	"fmt"
)

// Sentinel errors for the four fatal error kinds a run can end in.
var (
	// ErrIO indicates an open or memory-map failure for the PDB or its
	// paired image.
	ErrIO = errors.New("pdb: io error")

	// ErrFormat indicates a bad signature, an out-of-range page or type
	// reference, or any other structurally malformed record.
	ErrFormat = errors.New("pdb: malformed format")

	// ErrUnsupported indicates a recognized-but-unhandled construct: a
	// present tokenRidMap stream, a CLR-managed paired image, or an
	// unrecognized PE optional-header magic.
	ErrUnsupported = errors.New("pdb: unsupported")

	// ErrMissingName indicates the root name index has no "/NAMES" entry.
	ErrMissingName = errors.New("pdb: missing name stream")
)

// Older, more specific sentinels that predate the four fatal kinds
// above. Of these, only ErrTypeNotFound is returned, by the TypeTable
// accessors (TypeTable.ByIndex, TypeTable.GetMembers).
var (
	ErrNotPDB             = errors.New("pdb: not a valid PDB file")
	ErrUnsupportedVersion = errors.New("pdb: unsupported PDB version")
	ErrInvalidStream      = errors.New("pdb: invalid stream")
	ErrTypeNotFound       = errors.New("pdb: type not found")
	ErrSymbolNotFound     = errors.New("pdb: symbol not found")
	ErrModuleNotFound     = errors.New("pdb: module not found")
	ErrFileClosed         = errors.New("pdb: file is closed")
)

// ParseError provides detailed information about parsing failures,
// wrapping one of the sentinels above.
type ParseError struct {
	Stream  string // Stream name where error occurred
	Offset  int64  // Byte offset within stream
	Message string // Description of the error
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pdb: parse error in %s at offset 0x%x: %s: %v",
			e.Stream, e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("pdb: parse error in %s at offset 0x%x: %s",
		e.Stream, e.Offset, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }
