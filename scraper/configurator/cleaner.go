package configurator

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrNoPrice is returned for strings without any digits, such as "Auf Anfrage".
	ErrNoPrice = errors.New("no price")
	// ErrMalformedPrice is returned when digit groups are split by an unknown separator.
	ErrMalformedPrice = errors.New("malformed price")
)

var (
	// priceRegexp captures the numeric part of a price, grouping marks included
	priceRegexp = regexp.MustCompile(`\d[\d.,' \x{00A0}\x{2009}\x{202F}\x{2019}]*`)
	// centsRegexp matches a trailing decimal part of one or two digits
	centsRegexp = regexp.MustCompile(`[.,]\d{1,2}$`)

	groupingMarks = strings.NewReplacer("'", "", " ", "", "\u00a0", "", "\u2009", "", "\u202f", "", "\u2019", "")
)

// ParsePrice extracts a price from a configurator string. Both grouping
// conventions are understood, and thousands may also be split by U+00A0,
// U+2009, U+202F or U+2019 as French and Swiss pages render them:
//
//	"£49,995.00"   → 49995
//	"49.995,00 €"  → 49995
//	"CHF 52'300.–" → 52300
//	"$38,990"      → 38990
func ParsePrice(raw string) (float64, error) {
	loc := priceRegexp.FindStringIndex(raw)
	if loc == nil {
		return 0, fmt.Errorf("%q: %w", raw, ErrNoPrice)
	}
	// digits right after the match, with nothing but punctuation between,
	// mean a grouping mark we do not know about
	rest := raw[loc[1]:]
	if i := strings.IndexFunc(rest, unicode.IsDigit); i >= 0 && strings.IndexFunc(rest[:i], isWordRune) < 0 {
		return 0, fmt.Errorf("%q: %w", raw, ErrMalformedPrice)
	}

	match := groupingMarks.Replace(raw[loc[0]:loc[1]])
	match = strings.TrimRight(match, ".,")

	var intPart, frac string
	if cents := centsRegexp.FindStringIndex(match); cents != nil {
		intPart, frac = match[:cents[0]], match[cents[0]+1:]
	} else {
		intPart = match
	}
	intPart = strings.NewReplacer(",", "", ".", "").Replace(intPart)
	if frac != "" {
		intPart += "." + frac
	}

	v, err := strconv.ParseFloat(intPart, 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", raw, ErrMalformedPrice)
	}
	if t := strings.TrimSpace(raw); strings.HasPrefix(t, "-") || strings.HasPrefix(t, "−") {
		v = -v
	}
	return v, nil
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.Is(unicode.Sc, r)
}

// NormaliseText strips leading/trailing whitespace and collapses internal whitespace.
func NormaliseText(s string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(s), unicode.IsSpace)
	return strings.Join(fields, " ")
}
