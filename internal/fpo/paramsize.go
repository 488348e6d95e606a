package fpo

import (
	"strconv"
	"strings"
)

// ResolveParamSize computes a function's argument byte size, preferring
// an FPO_DATA_V2 record, then a legacy FPO_DATA record, and finally
// falling back to parsing it out of a decorated (stdcall/fastcall)
// symbol name. It returns 0, false if none of the three sources apply.
func ResolveParamSize(key Key, v2 *V2Table, v1 *LegacyTable, decoratedName string) (uint32, bool) {
	if v2 != nil {
		if rec, ok := v2.Get(key); ok {
			return rec.NumParams, true
		}
	}
	if v1 != nil {
		if rec, ok := v1.Get(key); ok {
			return uint32(rec.NumParams) * 4, true
		}
	}
	return paramSizeFromDecoratedName(decoratedName)
}

// paramSizeFromDecoratedName mirrors the original's fallback: a stdcall
// name ("_foo@12") or fastcall name ("@foo@12") carries its argument
// byte size after the last '@'. Fastcall additionally reserves the
// first two integer registers, so 8 bytes are subtracted (floored at 0).
func paramSizeFromDecoratedName(name string) (uint32, bool) {
	if name == "" {
		return 0, false
	}
	if name[0] != '@' && name[0] != '_' {
		return 0, false
	}

	// The last '@' must exist and not be the leading character itself.
	at := strings.LastIndexByte(name, '@')
	if at <= 0 {
		return 0, false
	}

	var n int64
	if rest := name[at+1:]; rest != "" {
		var err error
		n, err = strconv.ParseInt(rest, 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
	}

	size := uint32(n)
	if name[0] == '@' {
		if size <= 8 {
			return 0, true
		}
		size -= 8
	}
	return size, true
}
