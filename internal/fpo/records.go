// Package fpo parses the legacy and "new" FPO (Frame Pointer Omission)
// data streams referenced from the DBI's optional debug header, and
// resolves parameter sizes for functions that have no FPO record at
// all.
package fpo

// FrameType values, stored in Data's packed bitfield.
const (
	FrameFPO = iota
	FrameTrap
	FrameTSS
	FrameStandard
)

// Data is a legacy FPO_DATA record (the format used before VC++ 2012).
// The wire layout packs cbProlog/cbRegs/fHasSEH/fUseBP/cbFrame into a
// single trailing uint16; ParseLegacyStream unpacks them into named fields.
type Data struct {
	OffStart  uint32
	ProcSize  uint32
	NumLocals uint32
	NumParams uint16

	CbProlog  uint8
	CbRegs    uint8
	HasSEH    bool
	UseBP     bool
	FrameType uint8
}

// DataV2 is the "new" FPO record (32 bytes on the wire), used from
// VC++ 2012 onward. ProgramStringOffset indexes into the PDB's
// "/NAMES" string pool and describes the frame unwind program; it is
// resolved to text only at emission time.
type DataV2 struct {
	OffStart            uint32
	ProcSize            uint32
	NumLocals           uint32
	NumParams           uint32
	MaxStackSize        uint32
	ProgramStringOffset uint32
	CbProlog            uint16
	CbSavedRegs         uint16
	Flags               uint32
}

// DataV2 flag bits.
const (
	FlagHasSEH   uint32 = 1 << 0
	FlagHasCPPEH uint32 = 1 << 1
	FlagIsFuncStart uint32 = 1 << 2
)

// HasSEH reports whether the v2 record's frame uses SEH.
func (d *DataV2) HasSEH() bool { return d.Flags&FlagHasSEH != 0 }

// HasCPPEH reports whether the v2 record's frame uses C++ EH.
func (d *DataV2) HasCPPEH() bool { return d.Flags&FlagHasCPPEH != 0 }

// IsFunctionStart reports whether this record marks a function entry
// point, as opposed to a sub-range within one.
func (d *DataV2) IsFunctionStart() bool { return d.Flags&FlagIsFuncStart != 0 }

// Key identifies an FPO record by the (start RVA, procedure size) pair
// the original dedups and orders emission by.
type Key struct {
	OffStart uint32
	ProcSize uint32
}
