// Package persona extracts scoring signals from free-text persona specs:
// Target/Avoid/Prefer phrase lists, seniority keywords, lead quality and
// heuristic lead scores. Pure functions, no I/O.
package persona

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// PhraseLists holds the phrase groups extracted from a persona spec.
type PhraseLists struct {
	Target []string
	Avoid  []string
	Prefer []string
}

// Empty reports whether no phrases were extracted at all.
func (p PhraseLists) Empty() bool {
	return len(p.Target) == 0 && len(p.Avoid) == 0 && len(p.Prefer) == 0
}

// labelPattern locates "Target:", "Avoid:" and "Prefer:" section labels.
// Section bodies run from one label to the next (or end of input).
var labelPattern = regexp.MustCompile(`(?i)\b(target|avoid|prefer)\s*:`)

// phraseSplit separates individual phrases within a section.
var phraseSplit = regexp.MustCompile(`[,;\n/]+`)

// foldTransform strips diacritics: decompose, drop combining marks, recompose.
var foldTransform = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, folds diacritics, strips punctuation and collapses
// whitespace so phrase matching is insensitive to case and formatting.
func Normalize(s string) string {
	folded, _, err := transform.String(foldTransform, s)
	if err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// ExtractPhraseLists parses Target/Avoid/Prefer phrase lists out of a
// persona spec. Phrases are comma/semicolon/newline/slash separated and
// normalized; empty fragments are dropped.
func ExtractPhraseLists(spec string) PhraseLists {
	var lists PhraseLists

	locs := labelPattern.FindAllStringSubmatchIndex(spec, -1)
	for i, loc := range locs {
		label := strings.ToLower(spec[loc[2]:loc[3]])
		end := len(spec)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		section := spec[loc[1]:end]

		var phrases []string
		for _, raw := range phraseSplit.Split(section, -1) {
			phrase := Normalize(raw)
			if phrase == "" {
				continue
			}
			phrases = append(phrases, phrase)
		}

		switch label {
		case "target":
			lists.Target = append(lists.Target, phrases...)
		case "avoid":
			lists.Avoid = append(lists.Avoid, phrases...)
		case "prefer":
			lists.Prefer = append(lists.Prefer, phrases...)
		}
	}

	return lists
}
