package resolver

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"taskgate/internal/automation/models"
)

var placeholders = map[string]struct{}{
	"student": {}, "학생": {}, "이름": {}, "name": {}, "unknown": {}, "n/a": {},
	"test": {}, "???": {}, "홍길동": {}, "xxx": {}, "-": {},
}

func isPlaceholder(name string) bool {
	if utf8.RuneCountInString(name) < 2 {
		return true
	}
	_, ok := placeholders[strings.ToLower(name)]
	return ok
}

// matcher reports whether a roster name matches the query under one strategy.
type matcher func(query, candidate string) bool

// cascade tries strategies from strictest to loosest and stops at the first
// one with any match. Roster order is preserved within a strategy.
func cascade(query string, roster []models.Student) []models.Student {
	fold := cases.Fold()
	folded := func(s string) string { return fold.String(s) }

	strategies := []matcher{
		func(q, c string) bool { return q == c },
		func(q, c string) bool { return folded(q) == folded(c) },
		func(q, c string) bool { return stripSpace(q) == stripSpace(c) },
		func(q, c string) bool { return strings.Contains(folded(c), folded(q)) },
		func(q, c string) bool { return strings.Contains(stripSpace(folded(c)), stripSpace(folded(q))) },
	}

	for _, match := range strategies {
		var hits []models.Student
		for _, s := range roster {
			if match(query, norm.NFC.String(s.Name)) {
				hits = append(hits, s)
			}
		}
		if len(hits) > 0 {
			return hits
		}
	}
	return nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// displayHint disambiguates same-named students without exposing the full phone.
func displayHint(s models.Student) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s.Phone)
	switch {
	case len(digits) >= 4:
		return s.Name + " (phone ****" + digits[len(digits)-4:] + ")"
	case s.Grade != "":
		return s.Name + " (" + s.Grade + ")"
	default:
		return s.Name
	}
}

// maskName keeps the first rune for log correlation.
func maskName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if size == 0 {
		return ""
	}
	return string(r) + strings.Repeat("*", utf8.RuneCountInString(name)-1)
}
