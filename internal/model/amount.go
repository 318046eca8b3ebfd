package model

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

func parseAmount(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case decimal.Decimal:
		return x, true
	case string:
		return parseAmountString(x)
	case map[string]any:
		if a, ok := x["amount"]; ok {
			return parseAmount(a)
		}
		if a, ok := x["total"]; ok {
			return parseAmount(a)
		}
	}
	return decimal.Zero, false
}

// parseAmountString reads US ("1,234.56") and European ("1.234,56") formats.
// Currency symbols, codes and spaces are ignored; "(x)" and a leading or
// trailing minus are negative. The last separator is the decimal point when
// both kinds appear. A lone "." followed by exactly three digits is ambiguous
// and rejected; a lone "," followed by three digits is a thousands separator.
func parseAmountString(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	firstDigit := strings.IndexFunc(s, unicode.IsDigit)
	lastDigit := strings.LastIndexFunc(s, unicode.IsDigit)
	if firstDigit < 0 {
		return decimal.Zero, false
	}

	var b strings.Builder
	signs := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			if i < firstDigit || i > lastDigit {
				if r == '.' || r == ',' {
					// "Rs." or "EUR."
					continue
				}
			}
			b.WriteRune(r)
		case r == '-' || r == '−':
			if i > firstDigit && i < lastDigit {
				return decimal.Zero, false
			}
			signs++
		}
	}
	if signs > 1 || (signs == 1 && neg) {
		return decimal.Zero, false
	}
	neg = neg || signs == 1

	intPart, frac, ok := splitDecimal(b.String())
	if !ok {
		return decimal.Zero, false
	}
	if intPart == "" {
		intPart = "0"
	}
	num := intPart
	if frac != "" {
		num += "." + frac
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, false
	}
	if neg {
		d = d.Neg()
	}
	return d, true
}

// splitDecimal separates num into integer digits and fraction digits,
// removing thousands separators.
func splitDecimal(num string) (string, string, bool) {
	lastDot := strings.LastIndexByte(num, '.')
	lastComma := strings.LastIndexByte(num, ',')

	switch {
	case lastDot < 0 && lastComma < 0:
		return num, "", true

	case lastDot >= 0 && lastComma >= 0:
		dec, thousands := lastDot, ","
		if lastComma > lastDot {
			dec, thousands = lastComma, "."
		}
		intPart, frac := num[:dec], num[dec+1:]
		if !allDigits(frac) || !validGroups(intPart, thousands) {
			return "", "", false
		}
		return strings.ReplaceAll(intPart, thousands, ""), frac, true
	}

	sep, idx := ".", lastDot
	if lastComma >= 0 {
		sep, idx = ",", lastComma
	}
	after := len(num) - idx - 1

	if strings.Count(num, sep) > 1 || after == 3 {
		if sep == "." && strings.Count(num, sep) == 1 {
			return "", "", false
		}
		if !validGroups(num, sep) {
			return "", "", false
		}
		return strings.ReplaceAll(num, sep, ""), "", true
	}
	if sep == "," && after > 3 {
		return "", "", false
	}
	intPart, frac := num[:idx], num[idx+1:]
	if !allDigits(intPart) || !allDigits(frac) {
		return "", "", false
	}
	return intPart, frac, true
}

// validGroups reports whether s is digit groups joined by sep with a
// leading group of 1-3 digits and 3-digit groups after it.
func validGroups(s, sep string) bool {
	parts := strings.Split(s, sep)
	if len(parts[0]) == 0 || len(parts[0]) > 3 || !allDigits(parts[0]) {
		return len(parts) == 1 && allDigits(parts[0])
	}
	for _, p := range parts[1:] {
		if len(p) != 3 || !allDigits(p) {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
