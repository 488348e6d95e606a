// Package breakpad renders a parsed PDB as a Breakpad-format text
// symbol file: a MODULE header, optional CODE_ID, FILE lines, one
// block per function, and STACK WIN frame-unwind records.
package breakpad

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/luser/dump-syms/internal/names"
	"github.com/luser/dump-syms/internal/peimage"
	"github.com/luser/dump-syms/pdb"
	"golang.org/x/sync/errgroup"
)

// Options controls emission. Platform overrides the auto-detected
// machine type; PathFilters rewrite every emitted FILE path's prefix,
// one rule per repeated --path-filter old=new CLI flag. Rules are
// tried in order; the first whose prefix matches wins.
type Options struct {
	Platform    string
	PathFilters []PathFilter
}

// PathFilter rewrites a path's From prefix to To.
type PathFilter struct {
	From string
	To   string
}

// platformNames maps COFF machine types to the breakpad platform token.
var platformNames = map[uint16]string{
	0x014c: "x86",
	0x8664: "x86_64",
	0x01c4: "arm",
	0xAA64: "arm64",
	0x01F2: "ppc64",
}

// Emit reads everything it needs from f concurrently (the Name
// Stream, the type table, and the per-module function walk), then
// writes f's Breakpad text representation to w.
func Emit(ctx context.Context, f *pdb.File, pdbPath string, w io.Writer, opts Options) error {
	var (
		nameStream *names.NameStream
		ft         *pdb.FunctionTable
		types      *pdb.TypeTable
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		ns, err := f.NameStream()
		nameStream = ns
		return err
	})
	g.Go(func() error {
		tt, err := f.Types()
		if err != nil {
			return err
		}
		types = tt
		return nil
	})
	g.Go(func() error {
		table, err := f.BuildFunctionTable()
		if err != nil {
			return err
		}
		ft = table
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	sections, err := f.Sections()
	if err != nil {
		return err
	}
	globals, err := f.Globals()
	if err != nil {
		return err
	}
	fpoTables, err := f.FPO()
	if err != nil {
		return err
	}
	info, err := f.Info()
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)

	image, err := peimage.FindPaired(pdbPath)
	if err != nil {
		return classifyImageError(err)
	}

	platform := opts.Platform
	if platform == "" {
		platform = "unknown"
		if image != nil {
			if p, ok := platformNames[image.Machine]; ok {
				platform = p
			}
		}
	}

	fmt.Fprintf(bw, "MODULE windows %s %s %s\n", platform, formatGUIDAge(info), filepath.Base(pdbPath))

	if image != nil {
		fmt.Fprintf(bw, "INFO CODE_ID %08X%x %s\n", image.TimeDateStamp, image.SizeOfImage, image.FileName)
	}

	for i, p := range ft.Files.ResolvePaths(nameStream) {
		p = rewritePath(p, opts.PathFilters)
		fmt.Fprintf(bw, "FILE %d %s\n", i+1, p)
	}

	funcs := rewriteAndDedup(ft.Functions, sections)
	sort.Slice(funcs, func(i, j int) bool {
		if funcs[i].rva != funcs[j].rva {
			return funcs[i].rva < funcs[j].rva
		}
		return funcs[i].fn.TypeIndex < funcs[j].fn.TypeIndex
	})

	for _, ef := range funcs {
		emitFunction(bw, ef, types, fpoTables, globals)
	}

	emitStackWin(bw, fpoTables, nameStream)

	return bw.Flush()
}

// classifyImageError re-maps a peimage failure onto this package's own
// fatal error kinds: a found-but-unparseable image is a format error,
// a found CLR-managed image is unsupported.
func classifyImageError(err error) error {
	switch {
	case errors.Is(err, peimage.ErrUnsupported):
		return fmt.Errorf("%w: %v", pdb.ErrUnsupported, err)
	case errors.Is(err, peimage.ErrFormat):
		return fmt.Errorf("%w: %v", pdb.ErrFormat, err)
	case errors.Is(err, peimage.ErrIO):
		return fmt.Errorf("%w: %v", pdb.ErrIO, err)
	default:
		return err
	}
}

func rewritePath(p string, filters []PathFilter) string {
	for _, f := range filters {
		if f.From != "" && strings.HasPrefix(p, f.From) {
			return f.To + strings.TrimPrefix(p, f.From)
		}
	}
	return p
}

// formatGUIDAge renders the module's identity as breakpad's
// hyphen-free uppercase GUID (in the mixed-endian order Microsoft's
// tools print a GUID's first three fields in) immediately followed by
// the age, the conventional module-id token.
func formatGUIDAge(info *pdb.PDBInfo) string {
	g := info.GUID
	return strings.ToUpper(fmt.Sprintf("%02x%02x%02x%02x%02x%02x%02x%02x%02x%02x%02x%02x%02x%02x%02x%02x%x",
		g[3], g[2], g[1], g[0], g[5], g[4], g[7], g[6],
		g[8], g[9], g[10], g[11], g[12], g[13], g[14], g[15],
		info.Age))
}

type emittedFunc struct {
	fn  *pdb.Function
	rva uint32
}

// rewriteAndDedup resolves each function's (segment, offset) to an
// RVA and drops duplicates that share an RVA, keeping whichever
// duplicate carries line data (matching COMDAT-folded functions
// appearing once per contributing module).
func rewriteAndDedup(in []*pdb.Function, sections *pdb.SectionHeaders) []emittedFunc {
	best := make(map[uint32]*pdb.Function, len(in))
	for _, fn := range in {
		rva := sections.ToRVA(fn.Segment, fn.Offset)
		if existing, ok := best[rva]; ok {
			if !existing.HasFile && fn.HasFile {
				best[rva] = fn
			}
			continue
		}
		best[rva] = fn
	}

	out := make([]emittedFunc, 0, len(best))
	for rva, fn := range best {
		out = append(out, emittedFunc{fn: fn, rva: rva})
	}
	return out
}

var declSuffixes = []string{" __ptr64", "__cdecl"}

func cleanName(name string) string {
	for _, s := range declSuffixes {
		name = strings.ReplaceAll(name, s, "")
	}
	return name
}

func emitFunction(bw *bufio.Writer, ef emittedFunc, types *pdb.TypeTable, fpoTables *pdb.FPOTables, globals map[uint32]string) {
	fn := ef.fn
	name := cleanName(fn.Name)

	decoratedName := fn.Name
	if g, ok := globals[ef.rva]; ok {
		decoratedName = g
	}
	paramSize, _ := fpoTables.ResolveParamSize(ef.rva, fn.Length, decoratedName)

	if fn.Length == 0 {
		fmt.Fprintf(bw, "PUBLIC %x %x %s\n", ef.rva, paramSize, name)
		return
	}

	sig := ""
	if fn.TypeIndex != 0 && types != nil {
		if s, err := types.Stringize(fn.TypeIndex); err == nil {
			sig = s
		}
	}
	fmt.Fprintf(bw, "FUNC %x %x %x %s%s\n", ef.rva, fn.Length, paramSize, name, sig)

	emitLines(bw, fn, ef.rva)
}

// emitLines prints one "rva size lineNo fileId" line per line-table
// entry, where rva is the function's RVA plus the line's offset and
// fileId is the function's FileTable id plus one, matching the FILE
// lines. When the last line's offset runs past the function's own
// length (seen in practice only with a compiler-inserted
// __security_check_cookie call), every offset in the table is shifted
// back by a rounded-up modifier so the last line's size still comes
// out non-negative.
func emitLines(bw *bufio.Writer, fn *pdb.Function, rva uint32) {
	n := len(fn.Lines)
	if n == 0 {
		return
	}
	last := n - 1

	var modifier uint32
	if fn.Lines[last].Offset > fn.Length {
		modifier = ceilToMultipleOf16(fn.Lines[last].Offset - fn.Length)
	}

	for i, l := range fn.Lines {
		var size uint32
		if i < last {
			size = fn.Lines[i+1].Offset - l.Offset
		} else {
			size = fn.Length + modifier - l.Offset
		}
		fmt.Fprintf(bw, "%x %x %d %d\n", rva+l.Offset-modifier, size, l.LineNumber, fn.FileID+1)
	}
}

// ceilToMultipleOf16 rounds n up to the nearest multiple of 16,
// covering the rare case where a compiler-generated trailer (e.g. a
// stack-cookie check) reports a line past the function's own length.
func ceilToMultipleOf16(n uint32) uint32 {
	return (n + 15) &^ 15
}

func emitStackWin(bw *bufio.Writer, tables *pdb.FPOTables, nameStream *names.NameStream) {
	if tables == nil {
		return
	}
	if tables.V2 != nil {
		for _, key := range tables.V2.Keys() {
			rec, ok := tables.V2.Get(key)
			if !ok {
				continue
			}
			program := ""
			if nameStream != nil {
				if s, ok := nameStream.Lookup(rec.ProgramStringOffset); ok {
					program = s
				}
			}
			fmt.Fprintf(bw, "STACK WIN 4 %x %x %x %x %x %x %x %x 1 %s\n",
				rec.OffStart, rec.ProcSize, rec.CbProlog, 0,
				rec.NumParams, rec.CbSavedRegs, rec.NumLocals, rec.MaxStackSize, program)
		}
	}
	if tables.Legacy != nil {
		for _, key := range tables.Legacy.Keys() {
			rec, ok := tables.Legacy.Get(key)
			if !ok {
				continue
			}
			fmt.Fprintf(bw, "STACK WIN 0 %x %x %x %x %x %x %x %x %x %s\n",
				rec.OffStart, rec.ProcSize, rec.CbProlog, 0,
				rec.NumParams, rec.CbRegs, rec.NumLocals, 0, 0, boolToDigit(rec.UseBP))
		}
	}
}

func boolToDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
