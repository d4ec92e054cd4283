package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCents converts a decimal amount in major units ("12.50") to minor
// units. Digits past the second decimal round half away from zero.
// Unparseable input yields 0.
func ParseCents(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimLeft(s, "+-")

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0
	}
	if frac != "" {
		if _, err := strconv.ParseUint(frac, 10, 64); err != nil {
			return 0
		}
	}

	digits := frac + "000"
	cents, _ := strconv.ParseInt(digits[:2], 10, 64)
	if digits[2] >= '5' {
		cents++
	}
	total := units*100 + cents
	if neg {
		return -total
	}
	return total
}

// FormatCents renders minor units as a two-decimal string: 5 → "0.05".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
