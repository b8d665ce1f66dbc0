package api

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatPrice renders minor units as a two-decimal string.
func FormatPrice(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParsePrice parses a non-negative decimal with at most two fractional
// digits into minor units.
func ParsePrice(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("price is empty")
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || strings.ContainsAny(whole, "+-") {
		return 0, fmt.Errorf("price %q must be a non-negative decimal", s)
	}
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, fmt.Errorf("price %q must have one or two decimals", s)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > (1<<62)/100 {
		return 0, fmt.Errorf("price %q is not a valid amount", s)
	}
	var cents int64
	if hasFrac {
		if strings.ContainsAny(frac, "+-") {
			return 0, fmt.Errorf("price %q is not a valid amount", s)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("price %q is not a valid amount", s)
		}
	}
	return units*100 + cents, nil
}
