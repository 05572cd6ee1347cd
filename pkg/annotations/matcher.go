package annotations

import (
	"regexp"
	"strings"

	"github.com/go-logr/logr"
)

// literalPattern matches tokens that contain no regular-expression
// metacharacters. Such tokens are compared by string equality, which keeps
// plain namespace names like "team-red" from being interpreted as patterns.
var literalPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Matcher is a single namespace predicate: either a literal namespace name or
// a full-anchored regular expression.
type Matcher struct {
	literal string
	pattern *regexp.Regexp
}

// LiteralMatcher returns a Matcher comparing by string equality.
func LiteralMatcher(name string) Matcher {
	return Matcher{literal: name}
}

// RegexMatcher compiles token into a full-anchored Matcher.
func RegexMatcher(token string) (Matcher, error) {
	pattern, err := regexp.Compile("^(?:" + token + ")$")
	if err != nil {
		return Matcher{}, err
	}
	return Matcher{pattern: pattern}, nil
}

// MatchString reports whether the namespace name satisfies the matcher.
func (m Matcher) MatchString(namespace string) bool {
	if m.pattern != nil {
		return m.pattern.MatchString(namespace)
	}
	return m.literal == namespace
}

// IsRegex reports whether the matcher is a compiled pattern rather than a
// literal name.
func (m Matcher) IsRegex() bool { return m.pattern != nil }

// String returns the original token form of the matcher.
func (m Matcher) String() string {
	if m.pattern != nil {
		token := strings.TrimPrefix(m.pattern.String(), "^(?:")
		return strings.TrimSuffix(token, ")$")
	}
	return m.literal
}

// ParseMatchers splits a comma-separated namespace list into matchers.
// Tokens are trimmed and empties dropped. A token containing only
// [A-Za-z0-9_-] is a literal; anything else is compiled as a regular
// expression, and tokens that fail to compile are logged and skipped.
func ParseMatchers(log logr.Logger, value string) []Matcher {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	var matchers []Matcher
	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if literalPattern.MatchString(token) {
			matchers = append(matchers, LiteralMatcher(token))
			continue
		}
		matcher, err := RegexMatcher(token)
		if err != nil {
			log.Info("skipping invalid namespace pattern", "token", token, "error", err.Error())
			continue
		}
		matchers = append(matchers, matcher)
	}
	return matchers
}

// Matches reports whether any matcher accepts the namespace. An empty matcher
// list accepts nothing; the source's own namespace is always permitted and is
// handled by callers before consulting the matchers.
func Matches(namespace string, matchers []Matcher) bool {
	for _, m := range matchers {
		if m.MatchString(namespace) {
			return true
		}
	}
	return false
}
