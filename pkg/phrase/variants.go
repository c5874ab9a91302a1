package phrase

import "strings"

// DefaultSubstitutions maps words that speech engines commonly mishear to the
// spellings they tend to produce instead. Keys and values are lowercase.
//
// The table is consulted per word: a phrase containing two confusable words
// yields one variant per single-word substitution, never the cross product.
var DefaultSubstitutions = map[string][]string{
	"hey":    {"hay", "hi", "eh", "a", "hej", "hei"},
	"talkie": {"talky", "taki", "talkey", "tokie", "talkee", "tacky"},
	"that's": {"thats", "that is", "that"},
	"never":  {"nevar", "neva"},
	"mind":   {"mine", "mined"},
	"okay":   {"ok", "o.k."},
}

// variants returns the ordered, de-duplicated list of literal strings that are
// accepted as an exact occurrence of canonical. The canonical form always comes
// first so that a clean transcript matches without consulting substitutions.
func variants(canonical string, subs map[string][]string) []string {
	if canonical == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	add(canonical)
	add(canonical + ".")
	add(canonical + ",")

	words := strings.Fields(canonical)
	if len(words) > 1 {
		add(words[0] + ", " + strings.Join(words[1:], " "))
	}

	for i, w := range words {
		alts, ok := subs[w]
		if !ok {
			continue
		}
		for _, alt := range alts {
			replaced := make([]string, len(words))
			copy(replaced, words)
			replaced[i] = strings.ToLower(alt)
			add(strings.Join(replaced, " "))
		}
	}
	return out
}

// normalize lowercases and collapses internal whitespace of a phrase.
func normalize(p string) string {
	return strings.Join(strings.Fields(strings.ToLower(p)), " ")
}
