package prefs

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Descriptor is one keyword found in text.
type Descriptor struct {
	Category string
	Keyword  string
}

type term struct {
	Descriptor
	re *regexp.Regexp
}

// Vocabulary extracts known keywords from free text.
type Vocabulary struct {
	terms    []term
	patterns map[string]*regexp.Regexp

	mu sync.Mutex
	// extra holds patterns for scored keywords outside the tables, such as
	// vision descriptors, compiled on first use.
	extra map[string]*regexp.Regexp
}

// NewVocabulary compiles a category -> keywords table. Keywords are matched
// case-insensitively on word boundaries; multi-word keywords match as
// phrases.
func NewVocabulary(table map[string][]string) *Vocabulary {
	cats := make([]string, 0, len(table))
	for c := range table {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	v := &Vocabulary{
		patterns: make(map[string]*regexp.Regexp),
		extra:    make(map[string]*regexp.Regexp),
	}
	for _, c := range cats {
		for _, kw := range table[c] {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			re, ok := v.patterns[kw]
			if !ok {
				re = keywordPattern(kw)
				v.patterns[kw] = re
			}
			v.terms = append(v.terms, term{Descriptor: Descriptor{Category: c, Keyword: kw}, re: re})
		}
	}
	return v
}

// Extract returns the distinct descriptors mentioned in text, in vocabulary
// order.
func (v *Vocabulary) Extract(text string) []Descriptor {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []Descriptor
	seen := make(map[Descriptor]bool)
	for _, t := range v.terms {
		if seen[t.Descriptor] || !t.re.MatchString(text) {
			continue
		}
		seen[t.Descriptor] = true
		out = append(out, t.Descriptor)
	}
	return out
}

// Len returns the number of known keywords.
func (v *Vocabulary) Len() int {
	return len(v.terms)
}

// Mentions reports whether text mentions keyword as a whole word or
// phrase, ignoring case.
func (v *Vocabulary) Mentions(text, keyword string) bool {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" || text == "" {
		return false
	}
	return v.pattern(keyword).MatchString(text)
}

func (v *Vocabulary) pattern(kw string) *regexp.Regexp {
	if re, ok := v.patterns[kw]; ok {
		return re
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	re, ok := v.extra[kw]
	if !ok {
		re = keywordPattern(kw)
		v.extra[kw] = re
	}
	return re
}

func keywordPattern(kw string) *regexp.Regexp {
	parts := strings.Fields(kw)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])` + strings.Join(parts, `\s+`) + `(?:$|[^\p{L}\p{N}])`)
}
