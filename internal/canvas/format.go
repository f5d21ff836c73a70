// SPDX-License-Identifier: MIT

package canvas

import (
	"strconv"
	"strings"

	"github.com/novywave/novywave-core/internal/selectedvars"
)

// formatValue renders a raw bit string ("1010", "x01z", ...) per the
// variable's current formatter. Bit strings containing an unknown digit
// fall back to the raw bits regardless of formatter, since no numeric
// base can represent 'x'/'z'.
func formatValue(bits string, f selectedvars.Formatter) string {
	if bits == "" {
		return ""
	}
	if isUnknown(bits) {
		return bits
	}

	switch f {
	case selectedvars.FormatBinary:
		return bits
	case selectedvars.FormatBinaryGroups:
		return groupBits(bits, 4)
	case selectedvars.FormatHex:
		return formatRadix(bits, 16)
	case selectedvars.FormatOctal:
		return formatRadix(bits, 8)
	case selectedvars.FormatUnsigned:
		return formatRadix(bits, 10)
	case selectedvars.FormatSigned:
		return formatSigned(bits)
	case selectedvars.FormatASCII:
		return formatASCII(bits)
	default:
		return formatRadix(bits, 16)
	}
}

func formatRadix(bits string, base int) string {
	v, err := strconv.ParseUint(bits, 2, 64)
	if err != nil {
		return bits
	}
	return strconv.FormatUint(v, base)
}

func formatSigned(bits string) string {
	width := len(bits)
	if width == 0 || width > 64 {
		return bits
	}
	v, err := strconv.ParseUint(bits, 2, 64)
	if err != nil {
		return bits
	}
	if width < 64 && v&(1<<(width-1)) != 0 {
		v -= 1 << width
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatUint(v, 10)
}

func groupBits(bits string, groupSize int) string {
	var sb strings.Builder
	for i, c := range bits {
		if i > 0 && (len(bits)-i)%groupSize == 0 {
			sb.WriteByte('_')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

func formatASCII(bits string) string {
	if len(bits)%8 != 0 {
		return bits
	}
	var sb strings.Builder
	for i := 0; i < len(bits); i += 8 {
		v, err := strconv.ParseUint(bits[i:i+8], 2, 8)
		if err != nil {
			return bits
		}
		if v < 32 || v > 126 {
			sb.WriteByte('.')
			continue
		}
		sb.WriteByte(byte(v))
	}
	return sb.String()
}
