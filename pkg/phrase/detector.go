package phrase

import "strings"

// Phrases holds the three control phrases of an ambient session.
type Phrases struct {
	Wake   string
	End    string
	Cancel string
}

// Detector bundles matchers for the wake, end and cancel phrases. Matching is
// pure: a Detector holds no per-transcript state.
type Detector struct {
	wake   *Matcher
	end    *Matcher
	cancel *Matcher
}

// NewDetector builds matchers for every phrase in p. All matchers share opts.
func NewDetector(p Phrases, opts ...Option) *Detector {
	return &Detector{
		wake:   New(p.Wake, opts...),
		end:    New(p.End, opts...),
		cancel: New(p.Cancel, opts...),
	}
}

// Wake returns the first wake phrase occurrence in text, or nil.
func (d *Detector) Wake(text string) *Match { return d.wake.Find(text) }

// End returns the first end phrase occurrence in text, or nil.
func (d *Detector) End(text string) *Match { return d.end.Find(text) }

// Cancel returns the first cancel phrase occurrence in text, or nil.
func (d *Detector) Cancel(text string) *Match { return d.cancel.Find(text) }

// Keywords returns the distinct words of all configured phrases. Streaming
// engines use them as recognition hints.
func (d *Detector) Keywords() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range []*Matcher{d.wake, d.end, d.cancel} {
		for _, w := range strings.Fields(m.canonical) {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}
