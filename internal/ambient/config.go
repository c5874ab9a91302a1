package ambient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/ambient/pkg/phrase"
)

// Config holds the phrases and recognition settings for one listening
// period. It is passed to Start and cannot change until the provider is
// stopped and started again.
type Config struct {
	// WakePhrase opens a command, e.g. "hey talkie".
	WakePhrase string

	// EndPhrase closes a command and submits the text before it.
	EndPhrase string

	// CancelPhrase discards the command in progress.
	CancelPhrase string

	// Locale is a BCP-47 tag handed to the speech engine. Empty lets the
	// engine decide.
	Locale string

	// MaxDistance is the largest edit distance the fuzzy phrase pass accepts.
	// Zero selects [phrase.DefaultMaxDistance]; a negative value restricts
	// matching to the literal variants.
	MaxDistance int
}

// DefaultConfig returns the phrases the assistant ships with.
func DefaultConfig() Config {
	return Config{
		WakePhrase:   "hey talkie",
		EndPhrase:    "that's it",
		CancelPhrase: "never mind",
		Locale:       "en-US",
		MaxDistance:  phrase.DefaultMaxDistance,
	}
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error
	phrases := []struct{ name, value string }{
		{"wake phrase", c.WakePhrase},
		{"end phrase", c.EndPhrase},
		{"cancel phrase", c.CancelPhrase},
	}
	seen := make(map[string]string, len(phrases))
	for _, p := range phrases {
		key := strings.ToLower(strings.Join(strings.Fields(p.value), " "))
		if key == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", p.name))
			continue
		}
		if other, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("%s %q duplicates the %s", p.name, p.value, other))
			continue
		}
		seen[key] = p.name
	}
	return errors.Join(errs...)
}

// maxDistance resolves MaxDistance for the phrase matcher.
func (c Config) maxDistance() int {
	if c.MaxDistance == 0 {
		return phrase.DefaultMaxDistance
	}
	return c.MaxDistance
}

func (c Config) detector() *phrase.Detector {
	return phrase.NewDetector(phrase.Phrases{
		Wake:   c.WakePhrase,
		End:    c.EndPhrase,
		Cancel: c.CancelPhrase,
	}, phrase.WithMaxDistance(c.maxDistance()))
}
