package auth

import (
	"regexp"
	"sort"
	"sync"
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expander replaces ${NAME} placeholders with variable values. Unset
// variables leave the placeholder text in place.
type Expander struct {
	lookup Lookup

	mu      sync.Mutex
	missing map[string]struct{}
}

// NewExpander creates an expander. A nil lookup reads the environment.
func NewExpander(lookup Lookup) *Expander {
	if lookup == nil {
		lookup = EnvLookup
	}
	return &Expander{lookup: lookup, missing: make(map[string]struct{})}
}

// Expand expands every placeholder in s.
func (e *Expander) Expand(s string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := e.lookup(name); ok {
			return value
		}
		e.mu.Lock()
		e.missing[name] = struct{}{}
		e.mu.Unlock()
		return match
	})
}

// Unresolved returns the sorted names of placeholders that had no value.
func (e *Expander) Unresolved() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.missing))
	for name := range e.missing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// PlaceholderAuth expands placeholders in header values. Names are not
// expanded.
type PlaceholderAuth struct {
	expander *Expander
}

// NewPlaceholderAuth creates a placeholder provider.
func NewPlaceholderAuth(expander *Expander) *PlaceholderAuth {
	return &PlaceholderAuth{expander: expander}
}

func (p *PlaceholderAuth) Apply(headers map[string]string) map[string]string {
	out := cloneHeaders(headers)
	for k, v := range out {
		out[k] = p.expander.Expand(v)
	}
	return out
}

func (p *PlaceholderAuth) Type() AuthType {
	return AuthTypePlaceholder
}
