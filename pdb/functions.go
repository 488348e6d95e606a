package pdb

import (
	"encoding/binary"
	"sort"

	"github.com/luser/dump-syms/internal/lines"
	"github.com/luser/dump-syms/internal/names"
	"github.com/luser/dump-syms/internal/symbols"
	"github.com/luser/dump-syms/msf"
)

// moduleStreamSignature is the uint32 every module's private symbol
// stream begins with.
const moduleStreamSignature = 4

// FunctionLine is one source-line contribution to a Function, carrying
// the code offset it starts at (relative to the function's own base)
// and the 1-based source line number.
type FunctionLine struct {
	Offset     uint32
	LineNumber uint32
}

// Function is one procedure or thunk gathered from a module's private
// symbol stream, enriched with whatever new-style line data the same
// stream's C13 lines region assigned to it.
type Function struct {
	Name      string
	Segment   uint16
	Offset    uint32
	Length    uint32
	TypeIndex TypeIndex

	HasFile bool
	FileID  uint32
	Lines   []FunctionLine
}

// FileTable assigns sequential 0-based ids to source files in
// first-seen order (the emitter prints each id plus one), keyed by
// their name-index into the Name Stream
// (stream 1's "/NAMES" pool). Keying on the raw name-index rather than
// a resolved path lets the module walk run independently of loading
// the Name Stream; ResolvePaths fills in the text afterward.
type FileTable struct {
	ids   map[uint32]uint32
	order []uint32
}

func newFileTable() *FileTable {
	return &FileTable{ids: make(map[uint32]uint32)}
}

func (ft *FileTable) id(nameIndex uint32) uint32 {
	if id, ok := ft.ids[nameIndex]; ok {
		return id
	}
	id := uint32(len(ft.order))
	ft.ids[nameIndex] = id
	ft.order = append(ft.order, nameIndex)
	return id
}

// NameIndices returns each registered file's Name Stream offset, in
// ascending emission-id order.
func (ft *FileTable) NameIndices() []uint32 {
	return ft.order
}

// ResolvePaths resolves every registered name-index to its string via
// ns, in ascending emission-id order. An index ns cannot resolve
// yields an empty string rather than failing the whole table.
func (ft *FileTable) ResolvePaths(ns *names.NameStream) []string {
	paths := make([]string, len(ft.order))
	if ns == nil {
		return paths
	}
	for i, idx := range ft.order {
		if s, ok := ns.Lookup(idx); ok {
			paths[i] = s
		}
	}
	return paths
}

// FunctionTable is the result of walking every module's private symbol
// stream: the gathered functions (in module-encounter order; the
// emitter is responsible for the final RVA sort) and the file table
// their line data was assigned against.
type FunctionTable struct {
	Functions []*Function
	Files     *FileTable
}

// BuildFunctionTable walks every module's private stream, gathering its
// procedures and thunks and assigning each the line data (if any) its
// C13 lines region describes.
func (f *File) BuildFunctionTable() (*FunctionTable, error) {
	dbiStream, err := f.getDBI()
	if err != nil {
		return nil, err
	}

	ft := newFileTable()
	var all []*Function

	for i := range dbiStream.Modules {
		modInfo := &dbiStream.Modules[i]
		if modInfo.ModuleSymStreamIndex == 0xFFFF {
			continue
		}

		data, err := f.msf.ReadStream(uint32(modInfo.ModuleSymStreamIndex))
		if err != nil {
			return nil, err
		}
		if len(data) < 4 || binary.LittleEndian.Uint32(data) != moduleStreamSignature {
			continue
		}

		symEnd := int(modInfo.SymByteSize)
		if symEnd > len(data) {
			symEnd = len(data)
		}
		if symEnd < 4 {
			continue
		}
		symData := data[4:symEnd]

		funcs, err := parseModuleFunctions(symData)
		if err != nil {
			return nil, err
		}
		sort.Slice(funcs, func(i, j int) bool {
			if funcs[i].Segment != funcs[j].Segment {
				return funcs[i].Segment < funcs[j].Segment
			}
			return funcs[i].Offset < funcs[j].Offset
		})

		linesStart := symEnd + int(modInfo.C11ByteSize)
		linesEnd := linesStart + int(modInfo.C13ByteSize)
		if linesEnd > len(data) {
			linesEnd = len(data)
		}
		if linesStart < linesEnd {
			checksums, sections, err := lines.Walk(data[linesStart:linesEnd])
			if err != nil {
				return nil, err
			}
			assignLines(funcs, checksums, sections, ft)
		}

		all = append(all, funcs...)
	}

	return &FunctionTable{Functions: all, Files: ft}, nil
}

func parseModuleFunctions(symData []byte) ([]*Function, error) {
	it := symbols.NewSymbolIterator(symData)
	var funcs []*Function

	for {
		rec, err := it.Next()
		if err != nil || rec == nil {
			break
		}

		switch rec.Kind {
		case symbols.S_GPROC32, symbols.S_LPROC32, symbols.S_GPROC32_ID, symbols.S_LPROC32_ID:
			proc, err := symbols.ParseProcSym(rec.Data)
			if err != nil {
				continue
			}
			funcs = append(funcs, &Function{
				Name:      proc.Name,
				Segment:   proc.Segment,
				Offset:    proc.CodeOffset,
				Length:    proc.CodeSize,
				TypeIndex: TypeIndex(proc.FunctionType),
			})

		case symbols.S_THUNK32:
			thunk, err := symbols.ParseThunkSym(rec.Data)
			if err != nil {
				continue
			}
			funcs = append(funcs, &Function{
				Name:    thunk.Name,
				Segment: thunk.Segment,
				Offset:  thunk.Offset,
				Length:  uint32(thunk.Length),
			})
		}
	}

	return funcs, nil
}

// assignLines attaches each Lines subsection's line data to the
// function located by binary-searching for the first one at or after
// the subsection's (segment, offset), clamping to the last function
// when the subsection's range runs past all of them. A function that
// already carries line data from an earlier subsection keeps it: the
// first subsection to claim a function always wins, regardless of how
// the two subsections' offsets compare.
func assignLines(funcs []*Function, checksums map[uint32]lines.Checksum, sections []*lines.Section, ft *FileTable) {
	if len(funcs) == 0 {
		return
	}

	for _, sec := range sections {
		idx := sort.Search(len(funcs), func(i int) bool {
			fn := funcs[i]
			if fn.Segment != sec.Segment {
				return fn.Segment > sec.Segment
			}
			return fn.Offset >= sec.Offset
		})
		if idx >= len(funcs) {
			idx = len(funcs) - 1
		}
		fn := funcs[idx]

		if fn.HasFile {
			continue
		}

		var fileLines []FunctionLine
		var fileID uint32
		haveFile := false

		for _, block := range sec.Blocks {
			if !haveFile {
				if cs, ok := checksums[block.ChecksumOffset]; ok {
					fileID = ft.id(cs.NameIndex)
					haveFile = true
				}
			}
			for _, l := range block.Lines {
				fileLines = append(fileLines, FunctionLine{Offset: l.Offset, LineNumber: l.LineNumber()})
			}
		}

		fn.FileID = fileID
		fn.HasFile = haveFile
		fn.Lines = fileLines
	}
}

// NameStream resolves and parses the "/NAMES" stream via stream 1's
// root index. Returns ErrMissingName if the root index has no
// "/NAMES" entry.
func (f *File) NameStream() (*names.NameStream, error) {
	rootData, err := f.msf.ReadStream(msf.StreamPDBInfo)
	if err != nil {
		return nil, err
	}
	root, err := names.ParseRootIndex(rootData)
	if err != nil {
		return nil, err
	}

	streamNum, ok := root.Lookup("/NAMES")
	if !ok {
		return nil, ErrMissingName
	}

	data, err := f.msf.ReadStream(streamNum)
	if err != nil {
		return nil, err
	}
	return names.ParseNameStream(data)
}

// Globals walks the deduplicated symbol-record stream for public
// function symbols, keyed by their final RVA.
func (f *File) Globals() (map[uint32]string, error) {
	dbiStream, err := f.getDBI()
	if err != nil {
		return nil, err
	}
	sections, err := f.Sections()
	if err != nil {
		return nil, err
	}

	data, err := f.msf.ReadStream(uint32(dbiStream.Header.SymRecordStreamIndex))
	if err != nil {
		return nil, err
	}

	globals := make(map[uint32]string)
	it := symbols.NewSymbolIterator(data)
	for {
		rec, err := it.Next()
		if err != nil || rec == nil {
			break
		}
		if rec.Kind != symbols.S_PUB32 {
			continue
		}
		pub, err := symbols.ParsePublicSym32(rec.Data)
		if err != nil || uint32(pub.Flags) != 2 {
			continue
		}
		rva := sections.ToRVA(pub.Segment, pub.Offset)
		if rva == 0 {
			continue
		}
		globals[rva] = pub.Name
	}

	return globals, nil
}
