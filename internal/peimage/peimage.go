// Package peimage resolves the executable or DLL paired with a PDB and
// extracts the handful of PE header fields the emitter's INFO CODE_ID
// line needs.
package peimage

import (
	"errors"
	"fmt"
	"os"
	"strings"

	saferwallpe "github.com/saferwall/pe"
)

// ErrIO indicates a found paired image that could not be opened or
// memory-mapped.
var ErrIO = errors.New("peimage: io error")

// ErrUnsupported indicates a found paired image that was parsed but
// found to be a CLR-managed assembly or carry an unrecognized optional
// header magic.
var ErrUnsupported = errors.New("peimage: unsupported image")

// ErrFormat indicates a found paired image that could not be parsed
// as a valid PE/PE+ image at all.
var ErrFormat = errors.New("peimage: malformed image")

// CodeIdentity is the subset of a paired image's headers the emitter
// needs to produce an INFO CODE_ID line.
type CodeIdentity struct {
	Path          string
	FileName      string
	TimeDateStamp uint32
	SizeOfImage   uint32
	Machine       uint16
}

// clrDescriptorIndex is DataDirectory[14], IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR.
const clrDescriptorIndex = int(saferwallpe.ImageDirectoryEntryCLR)

// machinePPC64 is IMAGE_FILE_MACHINE_PPC64. The reference toolchain
// this is grounded on carves this machine type out of the CLR-image
// rejection below for historical Xbox 360-era binaries that set the
// COM descriptor directory without being managed images.
const machinePPC64 = 0x01F2

// FindPaired locates the executable or DLL sitting next to pdbPath
// (same base name, ".exe" then ".dll") and reads its code identity. A
// nil, nil return means no sibling image was found; this is a
// best-effort enrichment, not a hard requirement for emission.
func FindPaired(pdbPath string) (*CodeIdentity, error) {
	base := strings.TrimSuffix(pdbPath, ".pdb")
	if base == pdbPath {
		if idx := strings.LastIndex(pdbPath, "."); idx >= 0 {
			base = pdbPath[:idx]
		}
	}

	for _, ext := range []string{".exe", ".dll"} {
		path := base + ext
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return parseCodeIdentity(path)
	}

	return nil, nil
}

func parseCodeIdentity(path string) (*CodeIdentity, error) {
	f, err := saferwallpe.New(path, &saferwallpe.Options{Fast: true})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIO, path, err)
	}
	defer f.Close()

	if err := f.Parse(); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrFormat, path, err)
	}

	if f.DOSHeader.Magic != saferwallpe.ImageDOSSignature {
		return nil, fmt.Errorf("%w: %s: bad DOS signature", ErrFormat, path)
	}

	var sizeOfImage uint32
	var clrDirRVA uint32
	switch oh := f.NtHeader.OptionalHeader.(type) {
	case saferwallpe.ImageOptionalHeader32:
		sizeOfImage = oh.SizeOfImage
		clrDirRVA = oh.DataDirectory[clrDescriptorIndex].VirtualAddress
	case saferwallpe.ImageOptionalHeader64:
		sizeOfImage = oh.SizeOfImage
		clrDirRVA = oh.DataDirectory[clrDescriptorIndex].VirtualAddress
	default:
		return nil, fmt.Errorf("%w: %s: unrecognized optional header", ErrUnsupported, path)
	}

	machine := uint16(f.NtHeader.FileHeader.Machine)
	if clrDirRVA != 0 && machine != machinePPC64 {
		return nil, fmt.Errorf("%w: %s: is a CLR-managed image", ErrUnsupported, path)
	}

	name := path
	if idx := strings.LastIndexAny(path, "/\\"); idx >= 0 {
		name = path[idx+1:]
	}

	return &CodeIdentity{
		Path:          path,
		FileName:      name,
		TimeDateStamp: f.NtHeader.FileHeader.TimeDateStamp,
		SizeOfImage:   sizeOfImage,
		Machine:       machine,
	}, nil
}
