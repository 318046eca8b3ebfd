package mapping

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CompanyMatchThreshold is the minimum similarity for a fuzzy company match.
const CompanyMatchThreshold = 0.7

// LegalSuffixPattern matches the legal entity suffix stripped before
// matching. It runs after punctuation removal, so "L.L.C." arrives as "LLC",
// and it needs whitespace before the suffix so "COSTCO" keeps its "CO".
// NormalizeName and NormalizeNameSQL share it.
const LegalSuffixPattern = `\s+(LLC|LLP|LP|INC|INCORPORATED|CORP|CORPORATION|LTD|LIMITED|CO|PLC|GMBH|AG|SA|BV)\s*$`

var (
	legalSuffixRe = regexp.MustCompile(`(?i)` + LegalSuffixPattern)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// nameReplacer removes punctuation. NormalizeNameSQL mirrors it with REPLACE calls.
var nameReplacer = strings.NewReplacer(
	",", "",
	".", "",
	"'", "",
	"\"", "",
	"&", "AND",
	"-", " ",
)

// NormalizeName standardizes a supplier name for matching: accents folded,
// uppercased, punctuation removed, one legal suffix stripped, spaces collapsed.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	// Transformers carry state, so the chain is built per call.
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(folder, name); err == nil {
		name = folded
	}
	name = strings.ToUpper(name)
	name = strings.TrimSpace(nameReplacer.Replace(name))
	name = legalSuffixRe.ReplaceAllString(name, "")
	name = whitespaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// NormalizeNameSQL returns the Postgres expression equivalent to NormalizeName
// for col, minus accent folding.
func NormalizeNameSQL(col string) string {
	return `UPPER(TRIM(
    REGEXP_REPLACE(
        REGEXP_REPLACE(
            TRIM(REPLACE(REPLACE(REPLACE(REPLACE(REPLACE(REPLACE(UPPER(TRIM(` + col + `)),
                ',', ''), '.', ''), '''', ''), '"', ''), '&', 'AND'), '-', ' ')),
            '` + LegalSuffixPattern + `',
            '', 'i'),
        '\s+', ' ', 'g')
    ))`
}

// Similarity returns the pg_trgm-style trigram similarity of the normalized
// names, in [0,1]. Identical normalized names score 1.
func Similarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	ta, tb := trigrams(na), trigrams(nb)
	shared := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// trigrams splits s into words and pads each the way pg_trgm does: two
// leading spaces and one trailing space.
func trigrams(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		padded := []rune("  " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			out[string(padded[i:i+3])] = struct{}{}
		}
	}
	return out
}
