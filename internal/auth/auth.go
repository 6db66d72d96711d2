// Package auth applies static credentials to MCP server request headers.
//
// Server definitions carry their own headers. Providers rewrite those header
// sets before probing: placeholders are expanded from the environment and
// the pass-key header is forced to a secret when one is configured.
package auth

import (
	"os"
	"sort"
	"strings"
)

// AuthType represents the type of authentication.
type AuthType string

const (
	AuthTypeNone        AuthType = "none"
	AuthTypePlaceholder AuthType = "placeholder"
	AuthTypePassKey     AuthType = "passkey"
	AuthTypeChain       AuthType = "chain"
)

// Defaults for the pass-key header.
const (
	DefaultPassKeyHeader   = "KAMUI-CODE-PASS"
	DefaultPassKeyVariable = "KAMUI_CODE_PASS_KEY"
)

// Lookup resolves a variable by name. os.LookupEnv satisfies it.
type Lookup func(name string) (string, bool)

// EnvLookup reads the process environment.
func EnvLookup(name string) (string, bool) {
	return os.LookupEnv(name)
}

// Provider rewrites a header set. Apply never mutates its input.
type Provider interface {
	// Apply returns the headers to send.
	Apply(headers map[string]string) map[string]string

	// Type returns the authentication type.
	Type() AuthType
}

// NoAuth leaves headers untouched.
type NoAuth struct{}

func (n *NoAuth) Apply(headers map[string]string) map[string]string {
	return cloneHeaders(headers)
}

func (n *NoAuth) Type() AuthType {
	return AuthTypeNone
}

// Chain applies providers in order.
type Chain []Provider

// NewChain builds a chain, skipping nil providers.
func NewChain(providers ...Provider) Chain {
	c := make(Chain, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			c = append(c, p)
		}
	}
	return c
}

func (c Chain) Apply(headers map[string]string) map[string]string {
	out := cloneHeaders(headers)
	for _, p := range c {
		out = p.Apply(out)
	}
	return out
}

func (c Chain) Type() AuthType {
	return AuthTypeChain
}

func cloneHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}

// Mask hides all but the first two characters of a secret.
func Mask(value string) string {
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return value[:2] + strings.Repeat("*", 6)
}

// MaskHeaders renders headers for logs as "Name=ma******" pairs sorted by name.
func MaskHeaders(headers map[string]string) []string {
	out := make([]string, 0, len(headers))
	for k, v := range headers {
		out = append(out, k+"="+Mask(v))
	}
	sort.Strings(out)
	return out
}
