// Package transcript corrects speech-to-text output against a known domain
// vocabulary before the text reaches response generation.
//
// STT engines routinely mangle domain terms ("eldrinax" → "elder nacks").
// The corrector aligns transcript words to vocabulary entries in two
// stages: Double Metaphone codes gate phonetically-plausible candidates,
// then Jaro-Winkler similarity ranks them. Multi-word vocabulary entries
// are matched with n-gram windows, longest window first, so a phrase beats
// a partial single-word match.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Correction records one replaced span.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-gated candidate to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate exists and the corrector falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// Corrector aligns transcript text to a fixed vocabulary. It is read-only
// after construction and safe for concurrent use.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	entries           []entry
	maxWords          int
}

type entry struct {
	canonical string
	lower     string
	tokens    []string
	codes     map[string]struct{}
}

// NewCorrector builds a Corrector for the given vocabulary. Blank entries
// are dropped. An empty vocabulary yields a Corrector whose Correct is the
// identity.
func NewCorrector(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	for _, v := range vocabulary {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		c.entries = append(c.entries, entry{
			canonical: strings.TrimSpace(v),
			lower:     lower,
			tokens:    tokens,
			codes:     codesForTokens(tokens),
		})
		if len(tokens) > c.maxWords {
			c.maxWords = len(tokens)
		}
	}
	return c
}

// Correct replaces vocabulary-adjacent spans in text and reports what was
// replaced. At each token position it tries n-gram windows from the longest
// vocabulary entry down to a single word, consuming the longest window that
// matches.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if len(c.entries) == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := c.maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			canonical, conf, ok := c.match(window)
			if !ok || strings.EqualFold(window, canonical) {
				continue
			}
			output = append(output, strings.Fields(canonical)...)
			corrections = append(corrections, Correction{
				Original:   window,
				Corrected:  canonical,
				Confidence: conf,
			})
			i += n
			matched = true
			break
		}
		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}
	return strings.Join(output, " "), corrections
}

// match finds the vocabulary entry most similar to window. Entries sharing
// a Double Metaphone code with the window are ranked first; when none
// qualifies, a pure Jaro-Winkler pass with the stricter fuzzy threshold is
// tried.
func (c *Corrector) match(window string) (corrected string, confidence float64, matched bool) {
	lower := strings.ToLower(window)
	tokens := strings.Fields(lower)
	inputCodes := codesForTokens(tokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, e := range c.entries {
		score := bestSimilarity(tokens, e.tokens, lower, e.lower)
		if codesOverlap(inputCodes, e.codes) {
			if score >= c.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = e.canonical, score, true
			}
		} else if !bestPhonetic && score >= c.fuzzyThreshold && score > bestScore {
			best, bestScore = e.canonical, score
		}
	}
	if best == "" {
		return window, 0, false
	}
	return best, bestScore, true
}

// codesForTokens returns the union of Double Metaphone codes over tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity is the higher of the full-string and the space-stripped
// Jaro-Winkler scores. The space-stripped pass handles one spoken word
// split into several transcript tokens ("elder nacks" vs "eldrinax").
// Scoring is deliberately whole-window: ranking on the best token pair
// would let any window sharing one token with a multi-word entry score a
// perfect match.
func bestSimilarity(inputTokens, entryTokens []string, inputFull, entryFull string) float64 {
	score := matchr.JaroWinkler(inputFull, entryFull, false)
	if len(inputTokens) > 1 || len(entryTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(entryTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}
