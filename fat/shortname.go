package fat

import (
	"encoding/binary"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Characters allowed in an 8.3 name besides letters and digits.
const shortNameExtra = "$%'-_@~`!(){}^#&"

func shortNameByte(r rune) (byte, bool) {
	switch {
	case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return byte(r), true
	case r >= 'a' && r <= 'z':
		// Case-only differences do not force a numeric tail; the render
		// comparison in makeShortName still requests a long name.
		return byte(r - 'a' + 'A'), true
	case strings.ContainsRune(shortNameExtra, r):
		return byte(r), true
	default:
		return '_', false
	}
}

// makeShortName derives the 11-byte 8.3 field for name, unique within
// used (the caller's per-directory set). needsLFN reports whether the
// original name cannot be represented by the field alone and must be
// carried in long-name fragments.
func makeShortName(name string, used map[[11]byte]bool) (field [11]byte, needsLFN bool) {
	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		base, ext = name[:i], name[i+1:]
	}

	lossy := false
	sanitize := func(s string, max int) string {
		var out []byte
		for _, r := range s {
			if r == '.' || r == ' ' {
				lossy = true
				continue
			}
			b, clean := shortNameByte(r)
			if !clean {
				lossy = true
			}
			out = append(out, b)
		}
		if len(out) > max {
			lossy = true
			out = out[:max]
		}
		return string(out)
	}
	sbase := sanitize(base, 8)
	sext := sanitize(ext, 3)
	if sbase == "" {
		sbase = "_"
		lossy = true
	}

	for i := range field {
		field[i] = ' '
	}
	copy(field[8:], sext)

	if !lossy {
		copy(field[:8], sbase)
		if !used[field] {
			used[field] = true
			// A long name is still needed when the stored field does
			// not render back to the original (e.g. lowercase input).
			return field, shortNameString(field[:]) != name
		}
		lossy = true
	}

	// Numeric-tail disambiguation: BASE~1, BASE~2, ...
	for n := 1; ; n++ {
		tail := "~" + strconv.Itoa(n)
		keep := len(sbase)
		if keep > 8-len(tail) {
			keep = 8 - len(tail)
		}
		copy(field[:8], "        ")
		copy(field[:8], sbase[:keep]+tail)
		if !used[field] {
			used[field] = true
			return field, true
		}
	}
}

// longNameRecords encodes name as long-name directory records in the
// on-disk order: last fragment first (with the 0x40 flag), ordinals
// descending, each carrying the short name's checksum. The name is
// NUL-terminated if space remains and padded with 0xFFFF.
func longNameRecords(name string, chksum uint8) [][]byte {
	units := utf16.Encode([]rune(name))
	numFrags := (len(units) + lfnUnitsPerFrag - 1) / lfnUnitsPerFrag

	padded := make([]uint16, numFrags*lfnUnitsPerFrag)
	copy(padded, units)
	for i := len(units); i < len(padded); i++ {
		if i == len(units) {
			padded[i] = 0x0000
		} else {
			padded[i] = 0xFFFF
		}
	}

	records := make([][]byte, 0, numFrags)
	for ord := numFrags; ord >= 1; ord-- {
		rec := make([]byte, dirEntrySize)
		rec[0] = byte(ord)
		if ord == numFrags {
			rec[0] |= lfnLastFlag
		}
		rec[11] = attrLongName
		rec[13] = chksum
		frag := padded[(ord-1)*lfnUnitsPerFrag:]
		for i := 0; i < 5; i++ {
			binary.LittleEndian.PutUint16(rec[1+2*i:], frag[i])
		}
		for i := 0; i < 6; i++ {
			binary.LittleEndian.PutUint16(rec[14+2*i:], frag[5+i])
		}
		for i := 0; i < 2; i++ {
			binary.LittleEndian.PutUint16(rec[28+2*i:], frag[11+i])
		}
		records = append(records, rec)
	}
	return records
}
