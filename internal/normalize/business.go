package normalize

import (
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// legal suffixes stripped during business-name normalization so that
// "Acme Freight Inc." and "ACME FREIGHT" compare equal.
var legalSuffixes = map[string]bool{
	"INC":          true,
	"INCORPORATED": true,
	"LLC":          true,
	"LLP":          true,
	"LP":           true,
	"LTD":          true,
	"LIMITED":      true,
	"CORP":         true,
	"CORPORATION":  true,
	"CO":           true,
	"COMPANY":      true,
	"ULC":          true,
	"SA":           true,
	"GMBH":         true,
}

// longNumericID is the digit-run length at which a token is treated as
// an account or registration number rather than part of the name.
const longNumericID = 5

// BusinessName normalizes a company name for comparison: uppercase,
// punctuation removed, legal suffixes dropped, long numeric identifiers
// dropped, whitespace collapsed.
func BusinessName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, strings.ToUpper(name))

	words := strings.Fields(cleaned)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if legalSuffixes[w] {
			continue
		}
		if isNumeric(w) && len(w) >= longNumericID {
			continue
		}
		kept = append(kept, w)
	}

	return strings.Join(kept, " ")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Similarity returns the normalized Levenshtein similarity between two
// strings: (maxLen - editDistance) / maxLen, in [0,1]. Comparison is
// case-insensitive.
func Similarity(a, b string) float64 {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))

	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}

	dist := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	return float64(maxLen-dist) / float64(maxLen)
}
