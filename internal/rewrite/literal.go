// Package rewrite replaces literal host references inside header values.
//
// Hidden-service names are data, not patterns: every match expression built
// from one goes through EscapeLiteral, and replacement text is inserted
// verbatim so a '$' in a host name is never read as a group reference.
package rewrite

import "regexp"

// EscapeLiteral returns s with every regular expression metacharacter escaped,
// so that the result matches exactly the text s.
func EscapeLiteral(s string) string {
	return regexp.QuoteMeta(s)
}

// Replacer replaces every occurrence of a literal URL prefix such as
// "https://example.onion". Matching is exact and case-sensitive.
type Replacer struct {
	pattern *regexp.Regexp
	repl    string
}

// NewReplacer builds a Replacer for old → repl. Both are treated as plain text.
func NewReplacer(old, repl string) *Replacer {
	return &Replacer{
		pattern: regexp.MustCompile(EscapeLiteral(old)),
		repl:    repl,
	}
}

// Replace returns s with every occurrence replaced.
func (r *Replacer) Replace(s string) string {
	return r.pattern.ReplaceAllLiteralString(s, r.repl)
}

// ReplaceAll applies Replace to every value in vals and reports whether any changed.
func (r *Replacer) ReplaceAll(vals []string) ([]string, bool) {
	changed := false
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = r.Replace(v)
		if out[i] != v {
			changed = true
		}
	}
	return out, changed
}
