package moderation

import (
	"fmt"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// DefaultWords is the built-in profanity/spam keyword list. Deployments
// override it via the moderation secret.
var DefaultWords = []string{"spam", "scam", "fake", "bot", "hack", "cheat"}

// Blocklist is a lexical pre-filter applied before the remote moderation
// call. Matching is done over a normalized form of the text so that common
// leet-speak substitutions and spacing tricks don't slip through.
type Blocklist struct {
	machine *goahocorasick.Machine
}

// NewBlocklist builds the Aho-Corasick automaton over the normalized word
// list. An empty word list yields a blocklist that matches nothing.
func NewBlocklist(words []string) (*Blocklist, error) {
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		norm := normalizeRunes([]rune(word))
		if len(norm) == 0 {
			continue
		}
		patterns = append(patterns, norm)
	}
	if len(patterns) == 0 {
		return &Blocklist{}, nil
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, fmt.Errorf("building blocklist automaton: %w", err)
	}
	return &Blocklist{machine: machine}, nil
}

// Match reports the first blocked term found in text, if any.
func (b *Blocklist) Match(text string) (string, bool) {
	if b.machine == nil {
		return "", false
	}

	norm := normalizeRunes([]rune(text))
	if len(norm) == 0 {
		return "", false
	}

	terms := b.machine.MultiPatternSearch(norm, true)
	if len(terms) == 0 {
		return "", false
	}
	return string(terms[0].Word), true
}

// leetRunes maps common leet-speak substitutions back to their alphabet
// counterparts before matching.
var leetRunes = map[rune]rune{
	'4': 'a', '@': 'a',
	'3': 'e', '€': 'e',
	'1': 'i', '!': 'i', '|': 'i',
	'0': 'o',
	'5': 's', '$': 's',
}

func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if mapped, ok := leetRunes[r]; ok {
			r = mapped
		}
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		out = append(out, unicode.ToLower(r))
	}
	return out
}
