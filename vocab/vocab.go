// Package vocab canonicalizes word labels before they are used as
// aggregation and storage keys, so spelling variants of one concept
// land under a single key.
package vocab

import (
	"strings"
	"unicode"

	"github.com/reiver/go-porterstemmer"
)

// Options configures label normalization.
type Options struct {
	// Stemming reduces each token to its Porter stem, so "colors",
	// "coloring" and "colored" share a key.
	Stemming bool
}

// Normalizer rewrites raw word labels into canonical keys. It is
// stateless and safe for concurrent use.
type Normalizer struct {
	stemming bool
}

// NewNormalizer creates a normalizer. Stemming is off by default; the
// caller opts in when label variants should collapse.
func NewNormalizer(optFns ...func(o *Options)) *Normalizer {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Normalizer{stemming: opts.Stemming}
}

// Normalize lowercases the label, strips surrounding punctuation from
// each token, collapses interior whitespace to single spaces and
// optionally stems the tokens. An all-punctuation label normalizes to
// the empty string, which callers should reject.
func (n *Normalizer) Normalize(label string) string {
	fields := strings.Fields(strings.ToLower(label))
	out := make([]string, 0, len(fields))
	for _, tok := range fields {
		tok = strings.TrimFunc(tok, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if tok == "" {
			continue
		}
		if n.stemming {
			tok = porterstemmer.StemString(tok)
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}
