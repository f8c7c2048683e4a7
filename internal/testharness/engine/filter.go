package engine

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/irctest/irctest-go/internal/testharness/loader"
)

// Selector picks the cases to run.
type Selector struct {
	// Kind keeps only cases of this kind when set.
	Kind loader.Kind

	// Specs keeps cases required by at least one of them. Empty keeps all.
	Specs []Spec

	// Pattern keeps cases whose ID or Name matches. Nil keeps all.
	Pattern *regexp.Regexp
}

// Match reports whether c is selected.
func (s Selector) Match(c *Case) bool {
	if s.Kind != "" && c.Kind != s.Kind {
		return false
	}
	if len(s.Specs) > 0 && !slices.ContainsFunc(c.Specs, func(sp Spec) bool { return slices.Contains(s.Specs, sp) }) {
		return false
	}
	if s.Pattern != nil && !s.Pattern.MatchString(c.ID) && !s.Pattern.MatchString(c.Name) {
		return false
	}
	return true
}

// Select returns the selected cases, keeping their order.
func (s Selector) Select(cases []*Case) []*Case {
	var out []*Case
	for _, c := range cases {
		if s.Match(c) {
			out = append(out, c)
		}
	}
	return out
}

// ParseSpecs parses a comma-separated list of specification names,
// matched case-insensitively.
func ParseSpecs(list string) ([]Spec, error) {
	var specs []Spec
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		i := slices.IndexFunc(KnownSpecs, func(s Spec) bool { return strings.EqualFold(string(s), name) })
		if i < 0 {
			return nil, fmt.Errorf("unknown specification %q (known: %s)", name, joinSpecs(KnownSpecs))
		}
		specs = append(specs, KnownSpecs[i])
	}
	return specs, nil
}

func joinSpecs(specs []Spec) string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
