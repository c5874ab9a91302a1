// Package phrase spots short spoken phrases (wake, end and cancel phrases) in
// noisy speech-to-text output.
//
// Matching proceeds in two tiers:
//
//  1. Variant pass: every phrase is expanded once, at construction, into a
//     list of literal variants (lowercase form, trailing punctuation, a comma
//     after the first word, and single-word phonetic substitutions such as
//     "hey" → "hay"). The lowercased transcript is scanned for each variant
//     in list order and the first acceptable occurrence wins.
//
//  2. Fuzzy pass: when no variant occurs, a window of the canonical phrase's
//     length in runes slides across the transcript and the first window whose
//     Levenshtein distance to the phrase is at most the configured maximum is
//     accepted.
//
// Both tiers reject candidates that sit inside a longer word: the characters
// immediately before and after the span must be absent, whitespace, or
// punctuation.
//
// Matchers and Detectors are read-only after construction and safe for
// concurrent use.
package phrase

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// DefaultMaxDistance is the largest edit distance accepted by the fuzzy pass
// unless overridden with [WithMaxDistance].
const DefaultMaxDistance = 3

// Match describes one accepted occurrence of a phrase in a transcript.
type Match struct {
	// Start and End are byte offsets of the matched span in the transcript
	// passed to [Matcher.Find].
	Start, End int

	// TextBefore is the trimmed transcript text preceding the span.
	TextBefore string

	// TextAfter is the trimmed transcript text following the span.
	TextAfter string

	// Variant is the literal variant that matched, or the matched window
	// text for fuzzy matches.
	Variant string

	// Fuzzy reports whether the match came from the edit-distance pass.
	Fuzzy bool

	// Distance is the Levenshtein distance of a fuzzy match; 0 otherwise.
	Distance int
}

// Option configures a [Matcher] or [Detector].
type Option func(*options)

type options struct {
	maxDistance int
	shortGuard  bool
	subs        map[string][]string
}

// WithMaxDistance sets the largest edit distance accepted by the fuzzy pass.
// Negative values disable the fuzzy pass. Default: 3.
func WithMaxDistance(d int) Option {
	return func(o *options) {
		o.maxDistance = d
	}
}

// WithShortPhraseGuard caps the fuzzy limit at a third of the phrase length
// in runes, so that a two-letter phrase does not match every two-letter
// word. Off by default.
func WithShortPhraseGuard() Option {
	return func(o *options) {
		o.shortGuard = true
	}
}

// WithSubstitutions replaces [DefaultSubstitutions] with subs. Keys are
// lowercased words; a nil map disables phonetic substitution.
func WithSubstitutions(subs map[string][]string) Option {
	return func(o *options) {
		o.subs = subs
	}
}

func buildOptions(opts []Option) options {
	o := options{
		maxDistance: DefaultMaxDistance,
		subs:        DefaultSubstitutions,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Matcher finds a single phrase in transcripts.
type Matcher struct {
	canonical   string
	runes       int
	variants    []string
	maxDistance int
}

// New returns a Matcher for p. An empty or whitespace-only phrase produces a
// Matcher that never matches.
func New(p string, opts ...Option) *Matcher {
	o := buildOptions(opts)
	canonical := normalize(p)
	runes := utf8.RuneCountInString(canonical)
	maxDistance := o.maxDistance
	if o.shortGuard && maxDistance >= 0 {
		maxDistance = min(maxDistance, runes/3)
	}
	return &Matcher{
		canonical:   canonical,
		runes:       runes,
		variants:    variants(canonical, o.subs),
		maxDistance: maxDistance,
	}
}

// Phrase returns the canonical (lowercased) phrase.
func (m *Matcher) Phrase() string { return m.canonical }

// Variants returns a copy of the literal variants tried by the exact pass, in
// the order they are tried.
func (m *Matcher) Variants() []string {
	out := make([]string, len(m.variants))
	copy(out, m.variants)
	return out
}

// Find returns the first acceptable occurrence of the phrase in text, or nil.
func (m *Matcher) Find(text string) *Match {
	if m.canonical == "" || strings.TrimSpace(text) == "" {
		return nil
	}

	lower := strings.ToLower(text)
	// Offsets are only transferable to the original text when lowercasing
	// preserved byte lengths; otherwise slice the lowercased text.
	src := text
	if len(lower) != len(text) {
		src = lower
	}

	if start, end, v, ok := m.findVariant(lower); ok {
		return newMatch(src, start, end, v, false, 0)
	}
	if m.maxDistance < 0 {
		return nil
	}
	if start, end, d, ok := m.findFuzzy(lower); ok {
		return newMatch(src, start, end, lower[start:end], true, d)
	}
	return nil
}

func (m *Matcher) findVariant(lower string) (start, end int, variant string, ok bool) {
	for _, v := range m.variants {
		offset := 0
		for offset <= len(lower) {
			i := strings.Index(lower[offset:], v)
			if i < 0 {
				break
			}
			s := offset + i
			e := s + len(v)
			if atBoundary(lower, s, e) {
				return s, e, v, true
			}
			_, size := utf8.DecodeRuneInString(lower[s:])
			offset = s + size
		}
	}
	return 0, 0, "", false
}

// findFuzzy slides a window of the phrase's rune length over lower and
// returns the first window at word boundaries within maxDistance.
func (m *Matcher) findFuzzy(lower string) (start, end, distance int, ok bool) {
	// Byte offset of every rune plus a terminal offset.
	offsets := make([]int, 0, len(lower)+1)
	for i := range lower {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(lower))

	for i := 0; i+m.runes < len(offsets); i++ {
		s, e := offsets[i], offsets[i+m.runes]
		if !atBoundary(lower, s, e) {
			continue
		}
		if d := Distance(lower[s:e], m.canonical); d <= m.maxDistance {
			return s, e, d, true
		}
	}
	return 0, 0, 0, false
}

// Distance returns the Levenshtein edit distance between a and b, counted in
// runes.
func Distance(a, b string) int {
	return matchr.Levenshtein(a, b)
}

// atBoundary reports whether the span [start, end) of s is delimited by the
// string edges, whitespace, or punctuation on both sides.
func atBoundary(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if !isDelimiter(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if !isDelimiter(r) {
			return false
		}
	}
	return true
}

func isDelimiter(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}

func newMatch(src string, start, end int, variant string, fuzzy bool, distance int) *Match {
	return &Match{
		Start:      start,
		End:        end,
		TextBefore: strings.TrimSpace(src[:start]),
		TextAfter:  strings.TrimSpace(src[end:]),
		Variant:    variant,
		Fuzzy:      fuzzy,
		Distance:   distance,
	}
}
