package pdb

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/luser/dump-syms/internal/stream"
	"github.com/luser/dump-syms/internal/tpi"
)

// stringizeFlags tracks context as stringize recurses through a type
// graph, controlling whether qualifiers and pointer decoration at the
// current node should be elided.
type stringizeFlags uint8

const (
	sfTopLevel stringizeFlags = 1 << iota
	sfUnderlying
)

// maxStringizeDepth guards against a malformed type graph with a cycle.
// Real type graphs are acyclic by construction; exceeding this is a
// format error, not a valid program.
const maxStringizeDepth = 256

// Stringize renders the C/C++ source-level spelling of the type at
// index, the way a FUNC line's signature or a UDT's name is printed.
func (tt *TypeTable) Stringize(index TypeIndex) (string, error) {
	var sb strings.Builder
	if _, err := tt.stringize(tpi.TypeIndex(index), &sb, sfTopLevel, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// stringize writes the spelling of ti to out and reports whether ti
// resolved to a function type (LF_PROCEDURE or LF_MFUNCTION). An
// LF_POINTER caller uses that to skip its own trailing "*": the callee
// already wrote the "(*)" function-pointer decoration.
func (tt *TypeTable) stringize(ti tpi.TypeIndex, out *strings.Builder, flags stringizeFlags, depth int) (bool, error) {
	if depth > maxStringizeDepth {
		return false, &ParseError{Stream: "tpi", Message: "type graph exceeds stringize recursion limit", Err: ErrFormat}
	}

	if ti == 0 {
		out.WriteString("...")
		return false, nil
	}

	if ti.IsSimpleType() {
		return false, tt.stringizePrimitive(ti, out)
	}

	record, err := tt.tpiStream.GetTypeRecord(ti)
	if err != nil {
		return false, err
	}
	if record == nil {
		out.WriteString("...")
		return false, nil
	}

	switch record.Kind {
	case tpi.LF_MODIFIER:
		rec, err := tpi.ParseModifierRecord(record.Data)
		if err != nil {
			return false, err
		}
		if _, err := tt.stringize(rec.ModifiedType, out, flags, depth+1); err != nil {
			return false, err
		}
		if flags&sfUnderlying == 0 && flags&sfTopLevel != 0 {
			if rec.Modifiers.IsConst() {
				out.WriteString(" const")
			}
			if rec.Modifiers.IsVolatile() {
				out.WriteString(" volatile")
			}
			if rec.Modifiers.IsUnaligned() {
				out.WriteString(" unaligned")
			}
		}
		return false, nil

	case tpi.LF_ARGLIST:
		rec, err := tpi.ParseArgListRecord(record.Data)
		if err != nil {
			return false, err
		}
		out.WriteByte('(')
		for i, arg := range rec.ArgTypes {
			if i > 0 {
				out.WriteString(", ")
			}
			if _, err := tt.stringize(arg, out, flags, depth+1); err != nil {
				return false, err
			}
		}
		out.WriteByte(')')
		return false, nil

	case tpi.LF_POINTER:
		rec, err := tpi.ParsePointerRecord(record.Data)
		if err != nil {
			return false, err
		}
		wasFunc, err := tt.stringize(rec.ReferentType, out, sfUnderlying|(flags&sfTopLevel), depth+1)
		if err != nil {
			return false, err
		}
		if !wasFunc {
			switch rec.Attributes.Mode() {
			case tpi.PointerModeLValueReference:
				out.WriteString(" &")
			case tpi.PointerModePointerToDataMember:
				out.WriteString("::*")
			case tpi.PointerModePointerToMemberFunction:
				out.WriteString("::")
			case tpi.PointerModeRValueReference:
				out.WriteString("&&")
			default:
				out.WriteString(" *")
			}
		}
		if rec.Attributes.IsConst() {
			out.WriteString(" const")
		}
		if rec.Attributes.IsVolatile() {
			out.WriteString(" volatile")
		}
		return false, nil

	case tpi.LF_ARRAY:
		rec, err := tpi.ParseArrayRecord(record.Data)
		if err != nil {
			return false, err
		}
		if _, err := tt.stringize(rec.ElementType, out, flags, depth+1); err != nil {
			return false, err
		}
		out.WriteByte('[')
		if rec.IndexType < 0x8000 {
			fmt.Fprintf(out, "%d", rec.Size)
		} else {
			if _, err := tt.stringize(rec.IndexType, out, flags, depth+1); err != nil {
				return false, err
			}
		}
		out.WriteByte(']')
		return false, nil

	case tpi.LF_MFUNCTION:
		rec, err := tpi.ParseMFunctionRecord(record.Data)
		if err != nil {
			return false, err
		}
		if flags&sfUnderlying != 0 {
			if _, err := tt.stringize(rec.ReturnType, out, sfTopLevel, depth+1); err != nil {
				return false, err
			}
			out.WriteString(" (")
			if _, err := tt.stringize(rec.ClassType, out, 0, depth+1); err != nil {
				return false, err
			}
			out.WriteString("::*)")
		}
		if _, err := tt.stringize(rec.ArgumentList, out, flags, depth+1); err != nil {
			return false, err
		}
		return true, nil

	case tpi.LF_PROCEDURE:
		rec, err := tpi.ParseProcedureRecord(record.Data)
		if err != nil {
			return false, err
		}
		if flags&sfUnderlying != 0 {
			if _, err := tt.stringize(rec.ReturnType, out, sfTopLevel, depth+1); err != nil {
				return false, err
			}
			out.WriteString(" (*)")
		}
		if _, err := tt.stringize(rec.ArgumentList, out, flags, depth+1); err != nil {
			return false, err
		}
		return true, nil

	case tpi.LF_INDEX:
		r := stream.NewReader(record.Data)
		next, err := r.ReadU32()
		if err != nil {
			return false, err
		}
		return tt.stringize(tpi.TypeIndex(next), out, flags, depth+1)

	case tpi.LF_CLASS, tpi.LF_CLASS_ST, tpi.LF_STRUCTURE, tpi.LF_STRUCTURE_ST:
		rec, err := tpi.ParseClassRecord(record.Data)
		if err != nil {
			return false, err
		}
		out.WriteString(rec.Name)
		return false, nil

	case tpi.LF_UNION, tpi.LF_UNION_ST:
		rec, err := tpi.ParseUnionRecord(record.Data)
		if err != nil {
			return false, err
		}
		out.WriteString(rec.Name)
		return false, nil

	case tpi.LF_ENUM, tpi.LF_ENUM_ST:
		rec, err := tpi.ParseEnumRecord(record.Data)
		if err != nil {
			return false, err
		}
		out.WriteString(rec.Name)
		return false, nil

	case tpi.LF_ALIAS, tpi.LF_ALIAS_ST:
		rec, err := tpi.ParseAliasRecord(record.Data)
		if err != nil {
			return false, err
		}
		out.WriteString(rec.Name)
		return false, nil

	default:
		if record.Kind.IsNumericLeaf() {
			return false, tt.stringizeNumeric(record.Kind, record.Data, out)
		}
		out.WriteString("!Unknown!")
		return false, nil
	}
}

func (tt *TypeTable) stringizePrimitive(ti tpi.TypeIndex, out *strings.Builder) error {
	typ, err := tt.ByIndex(TypeIndex(ti))
	if err != nil {
		return err
	}
	prim, ok := typ.(*PrimitiveType)
	if !ok {
		out.WriteString("!Unknown!")
		return nil
	}
	out.WriteString(prim.Name())
	if prim.IsPointer() {
		out.WriteString(" *")
	}
	return nil
}

// stringizeNumeric formats an inline numeric leaf's value. REAL80 and
// REAL128 have no native Go representation, so those emit a format tag
// rather than a decoded value.
func (tt *TypeTable) stringizeNumeric(kind tpi.TypeRecordKind, data []byte, out *strings.Builder) error {
	switch kind {
	case tpi.LF_CHAR:
		if len(data) < 1 {
			return ErrFormat
		}
		fmt.Fprintf(out, "%d", int8(data[0]))
	case tpi.LF_SHORT:
		if len(data) < 2 {
			return ErrFormat
		}
		fmt.Fprintf(out, "%d", int16(binary.LittleEndian.Uint16(data)))
	case tpi.LF_USHORT:
		if len(data) < 2 {
			return ErrFormat
		}
		fmt.Fprintf(out, "%d", binary.LittleEndian.Uint16(data))
	case tpi.LF_LONG:
		if len(data) < 4 {
			return ErrFormat
		}
		fmt.Fprintf(out, "%d", int32(binary.LittleEndian.Uint32(data)))
	case tpi.LF_ULONG:
		if len(data) < 4 {
			return ErrFormat
		}
		fmt.Fprintf(out, "%d", binary.LittleEndian.Uint32(data))
	case tpi.LF_QUADWORD:
		if len(data) < 8 {
			return ErrFormat
		}
		fmt.Fprintf(out, "%d", int64(binary.LittleEndian.Uint64(data)))
	case tpi.LF_UQUADWORD:
		if len(data) < 8 {
			return ErrFormat
		}
		fmt.Fprintf(out, "%d", binary.LittleEndian.Uint64(data))
	case tpi.LF_REAL32:
		if len(data) < 4 {
			return ErrFormat
		}
		v := math.Float32frombits(binary.LittleEndian.Uint32(data))
		out.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	case tpi.LF_REAL64:
		if len(data) < 8 {
			return ErrFormat
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(data))
		out.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case tpi.LF_REAL80:
		out.WriteString("f80")
	case tpi.LF_REAL128:
		out.WriteString("f128")
	default:
		out.WriteString("!Unknown!")
	}
	return nil
}
