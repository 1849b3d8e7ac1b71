// Package topic validates topics and compiles glob subscription patterns.
//
// Patterns use a single wildcard: '*' matches any run of characters, including
// none and including dots. Every other character, '?' and '[' among them, is
// literal. Matching is anchored to the whole topic, so "orders.*" matches
// "orders.created" and "orders." but not "order.created".
package topic

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gobwas/glob"
)

// MaxLength bounds both topics and patterns, in bytes.
const MaxLength = 1024

// ReservedPrefix marks topics generated by the broker itself.
const ReservedPrefix = "$sys."

// Wildcard is the only special character in a pattern.
const Wildcard = '*'

// Matcher reports whether a topic matches a compiled pattern. Safe for concurrent use.
type Matcher interface {
	Match(topic string) bool
}

type exact string

func (e exact) Match(topic string) bool { return string(e) == topic }

type matchAll struct{}

func (matchAll) Match(string) bool { return true }

type globMatcher struct{ g glob.Glob }

func (m globMatcher) Match(topic string) bool { return m.g.Match(topic) }

// Compile validates pattern and builds its Matcher.
func Compile(pattern string) (Matcher, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}

	if !strings.ContainsRune(pattern, Wildcard) {
		return exact(pattern), nil
	}

	parts := strings.Split(pattern, string(Wildcard))
	literals := make([]string, 0, len(parts))
	for _, p := range parts {
		literals = append(literals, glob.QuoteMeta(p))
	}
	expr := collapseWildcards(strings.Join(literals, string(Wildcard)))
	if expr == string(Wildcard) {
		return matchAll{}, nil
	}

	// No separators: '*' must cross dots.
	g, err := glob.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}
	return globMatcher{g: g}, nil
}

// MustCompile is like Compile but panics on an invalid pattern.
func MustCompile(pattern string) Matcher {
	m, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// Match compiles pattern and tests topic against it.
func Match(pattern, topic string) (bool, error) {
	m, err := Compile(pattern)
	if err != nil {
		return false, err
	}
	return m.Match(topic), nil
}

// ValidatePattern reports ErrInvalidPattern for patterns that cannot be matched
// against any valid topic representation. The empty pattern is valid.
func ValidatePattern(pattern string) error {
	if err := validate(pattern); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPattern, err)
	}
	return nil
}

// ValidateTopic reports ErrInvalidTopic for empty, blank or malformed topics.
func ValidateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidTopic)
	}
	if err := validate(topic); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, err)
	}
	return nil
}

// IsReserved reports whether topic belongs to the broker's own namespace.
func IsReserved(topic string) bool {
	return strings.HasPrefix(topic, ReservedPrefix)
}

func validate(s string) error {
	if len(s) > MaxLength {
		return fmt.Errorf("longer than %d bytes", MaxLength)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("not valid UTF-8")
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return fmt.Errorf("contains control character %U", r)
		}
	}
	return nil
}

func collapseWildcards(s string) string {
	for strings.Contains(s, "**") {
		s = strings.ReplaceAll(s, "**", "*")
	}
	return s
}
