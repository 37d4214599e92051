// Package skills normalizes free-form skill lists into comparable token sets.
package skills

import (
	"maps"
	"slices"
	"strings"
	"unicode"
)

// builtinSynonyms maps common variants to a canonical token. Keys are
// already normalized (lower-case, single spaces).
var builtinSynonyms = map[string]string{ //nolint:gochecknoglobals // read-only lookup table
	"golang":                      "go",
	"js":                          "javascript",
	"ecmascript":                  "javascript",
	"ts":                          "typescript",
	"py":                          "python",
	"python3":                     "python",
	"c plus plus":                 "c++",
	"cpp":                         "c++",
	"csharp":                      "c#",
	"c sharp":                     "c#",
	"machine learning":            "ml",
	"artificial intelligence":     "ai",
	"deep learning":               "dl",
	"natural language processing": "nlp",
	"k8s":                         "kubernetes",
	"postgres":                    "postgresql",
	"infosec":                     "security",
	"cyber security":              "cybersecurity",
	"node":                        "node.js",
	"nodejs":                      "node.js",
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithSynonyms adds or overrides synonym mappings. Both sides are normalized
// before use, so callers may pass raw spellings.
func WithSynonyms(synonyms map[string]string) Option {
	return func(e *Extractor) {
		for from, to := range synonyms {
			f, t := normalize(from), normalize(to)
			if f != "" && t != "" {
				e.synonyms[f] = t
			}
		}
	}
}

// Extractor turns raw skill strings into a canonical Set. It is safe for
// concurrent use once built.
type Extractor struct {
	synonyms map[string]string
	// collapsed indexes multi-word synonym keys by their space-free form.
	collapsed map[string]string
}

// NewExtractor creates an Extractor seeded with the built-in synonym table.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{synonyms: make(map[string]string, len(builtinSynonyms))}
	for k, v := range builtinSynonyms {
		e.synonyms[k] = v
	}
	for _, opt := range opts {
		opt(e)
	}
	e.collapsed = make(map[string]string)
	keys := slices.Sorted(maps.Keys(e.synonyms))
	for _, k := range keys {
		if !strings.Contains(k, " ") {
			continue
		}
		c := strings.ReplaceAll(k, " ", "")
		if _, taken := e.collapsed[c]; !taken {
			e.collapsed[c] = e.synonyms[k]
		}
	}
	return e
}

// Extract normalizes raw skills. Blank or malformed entries are dropped, so
// nil input yields the empty set.
func (e *Extractor) Extract(raw []string) Set {
	if len(raw) == 0 {
		return Set{}
	}
	tokens := make([]string, 0, len(raw))
	for _, r := range raw {
		t := e.Canonical(r)
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return NewSet(tokens...)
}

// Canonical returns the canonical token for one raw skill, or "" if the
// input carries no usable characters.
func (e *Extractor) Canonical(raw string) string {
	t := normalize(raw)
	if t == "" {
		return ""
	}
	if c, ok := e.synonyms[t]; ok {
		return c
	}
	// "machine-learning" and "machine_learning" normalize to "machine learning";
	// the collapsed form "machinelearning" is matched too.
	if c, ok := e.collapsed[strings.ReplaceAll(t, " ", "")]; ok {
		return c
	}
	return t
}

// normalize lower-cases, maps '-', '_' and '/' to spaces, collapses runs of
// whitespace, and trims punctuation that does not belong to a token.
func normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	space := false
	for _, r := range strings.ToLower(raw) {
		switch {
		case r == '-' || r == '_' || r == '/' || unicode.IsSpace(r):
			space = b.Len() > 0
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '#' || r == '.':
			if space {
				b.WriteByte(' ')
				space = false
			}
			b.WriteRune(r)
		default:
			// other punctuation is dropped
		}
	}
	return strings.Trim(b.String(), ".")
}
