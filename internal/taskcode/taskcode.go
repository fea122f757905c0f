// Package taskcode formats and parses human-readable task codes
// of the form PREFIX-YYYY-NNNNN (e.g. PM-2024-00017).
package taskcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// codePattern matches task codes (e.g., PM-2024-00017, HVAC-2025-00001).
var codePattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]*)-(\d{4})-(\d{5,})\b`)

// prefixPattern restricts configurable prefixes.
var prefixPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*$`)

// Code is a decoded task code.
type Code struct {
	Prefix string
	Year   int
	Seq    int
}

// String renders the code with a zero-padded sequence.
func (c Code) String() string {
	return Format(c.Prefix, c.Year, c.Seq)
}

// Format builds a task code.
func Format(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%04d-%05d", prefix, year, seq)
}

// ValidPrefix reports whether prefix can be used to mint codes.
func ValidPrefix(prefix string) bool {
	return prefixPattern.MatchString(prefix)
}

// Parse decodes a task code. Surrounding whitespace is ignored and the
// prefix is matched case-insensitively.
func Parse(s string) (Code, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	m := codePattern.FindStringSubmatch(s)
	if m == nil || m[0] != s {
		return Code{}, fmt.Errorf("invalid task code %q", s)
	}
	year, _ := strconv.Atoi(m[2])
	seq, err := strconv.Atoi(m[3])
	if err != nil {
		return Code{}, fmt.Errorf("invalid task code sequence %q: %w", m[3], err)
	}
	return Code{Prefix: m[1], Year: year, Seq: seq}, nil
}
