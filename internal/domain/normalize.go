package domain

import (
	"regexp"
	"strings"
)

var (
	// referenceCodeRe matches dispatcher reference codes such as "LPR 12".
	referenceCodeRe = regexp.MustCompile(`(?i)\bLPR\s*\d+\b`)

	// crossStreetRe matches a parenthetical intersection annotation:
	// "(ESQ. CORDOBA)", "(ESQUINA CORDOBA)", "(Y CORDOBA)", "(E/ CORDOBA)".
	crossStreetRe = regexp.MustCompile(`(?i)\(\s*(?:ESQUINA\b|ESQ\b\.?|Y\b|E/)\s*([^()]*?)\s*\)`)

	// Any other parenthetical, e.g. "(FRENTE AL 20)", is dropped.
	parentheticalRe   = regexp.MustCompile(`\([^()]*\)`)
	unclosedParenRe   = regexp.MustCompile(`\([^()]*$`)
	trailingNumberRe  = regexp.MustCompile(`(?:,\s*\d+\s*)+$`)
	crossSeparatorRe  = regexp.MustCompile(`[\s,]*&[\s&,]*`)
	separatorReplacer = strings.NewReplacer("/", " & ", ".", " ", ")", " ")
)

// NormalizeAddress cleans a raw listing address into a geocoder-friendly query.
// The result is a fixed point: NormalizeAddress(NormalizeAddress(x)) == NormalizeAddress(x).
func NormalizeAddress(raw string) string {
	s := strings.TrimSpace(raw)
	for {
		next := normalizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func normalizeOnce(s string) string {
	s = referenceCodeRe.ReplaceAllString(s, " ")
	s = crossStreetRe.ReplaceAllString(s, " & $1 ")
	s = parentheticalRe.ReplaceAllString(s, " ")
	s = unclosedParenRe.ReplaceAllString(s, " ")
	s = trailingNumberRe.ReplaceAllString(strings.TrimSpace(s), "")
	s = separatorReplacer.Replace(s)
	s = crossSeparatorRe.ReplaceAllString(s, " & ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, " &,")
}
