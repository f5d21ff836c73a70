// SPDX-License-Identifier: MIT

package timeps

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// groupedPrinter renders integers with thousands separators for the
// magnitude-scaled values Format produces when a trace runs long enough
// that the integer part itself is in the thousands (e.g. a multi-hour
// simulation reported in milliseconds).
var groupedPrinter = message.NewPrinter(language.English)

// FormatGrouped is Format, but with the integer portion of the rendered
// magnitude grouped by thousands (e.g. "12,345.6ms" instead of
// "12345.6ms"). Used by the canvas renderer's axis ticks and cursor chip,
// where large traces make the ungrouped form hard to read at a glance.
func FormatGrouped(d DurationPs) string {
	for _, b := range bands {
		if d >= b.floor {
			value := float64(d) / b.unit
			whole := int64(math.Round(value*1000) / 1000)
			frac := trimFraction(value, whole)
			if frac == "" {
				return groupedPrinter.Sprintf("%d%s", whole, b.label)
			}
			return groupedPrinter.Sprintf("%d%s%s", whole, frac, b.label)
		}
	}
	return "0ps"
}

// trimFraction returns the decimal-point suffix (e.g. ".345") for a value
// whose integer part is known, rounded to three significant decimals,
// with trailing zeros removed. Returns "" when there is no fractional
// remainder worth showing.
func trimFraction(value float64, whole int64) string {
	full := trimDecimals(value, 3)
	for i := 0; i < len(full); i++ {
		if full[i] == '.' {
			return full[i:]
		}
	}
	return ""
}
