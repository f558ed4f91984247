// Package crisis scans persisted group messages for indicators of acute
// distress and raises one alert per matching message.
package crisis

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
	"golang.org/x/text/unicode/norm"
)

// Classifier returns the keywords matched in content, or nothing.
type Classifier interface {
	Match(content string) []string
}

// KeywordClassifier matches a fixed keyword list with an Aho-Corasick automaton.
// Both keywords and content are normalized so "3nd  it... all" still matches
// "end it all".
type KeywordClassifier struct {
	matcher  *goahocorasick.Machine
	keywords map[string]string
}

// NewKeywordClassifier builds the automaton over keywords.
func NewKeywordClassifier(keywords []string) (*KeywordClassifier, error) {
	c := &KeywordClassifier{keywords: make(map[string]string, len(keywords))}
	patterns := make([][]rune, 0, len(keywords))
	for _, kw := range keywords {
		pattern := normalize(kw)
		if len(pattern) == 0 {
			continue
		}
		if _, seen := c.keywords[string(pattern)]; seen {
			continue
		}
		c.keywords[string(pattern)] = kw
		patterns = append(patterns, pattern)
	}
	if len(patterns) == 0 {
		return c, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	c.matcher = m
	return c, nil
}

// Match returns the configured keywords found in content, in order of first match.
func (c *KeywordClassifier) Match(content string) []string {
	if c.matcher == nil {
		return nil
	}
	text := normalize(content)
	if len(text) == 0 {
		return nil
	}
	terms := c.matcher.MultiPatternSearch(text, false)
	found := lo.FilterMap(terms, func(t *goahocorasick.Term, _ int) (string, bool) {
		kw, ok := c.keywords[string(t.Word)]
		return kw, ok
	})
	return lo.Uniq(found)
}

// normalize folds compatibility forms (full-width letters, ligatures) with
// NFKC before the leet and noise passes.
func normalize(input string) []rune {
	runes := []rune(norm.NFKC.String(input))
	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune undoes common leet substitutions.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	case '7':
		return 't'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
