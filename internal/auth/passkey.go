package auth

import "strings"

// PassKeyAuth forces one header to a secret value. Header names match
// case-insensitively; when the secret variable is unset nothing changes.
type PassKeyAuth struct {
	header string
	secret string
	set    bool
}

// NewPassKeyAuth resolves the secret variable once. Empty header or variable
// names fall back to the defaults.
func NewPassKeyAuth(header, variable string, lookup Lookup) *PassKeyAuth {
	if header == "" {
		header = DefaultPassKeyHeader
	}
	if variable == "" {
		variable = DefaultPassKeyVariable
	}
	if lookup == nil {
		lookup = EnvLookup
	}
	secret, ok := lookup(variable)
	return &PassKeyAuth{header: header, secret: secret, set: ok && secret != ""}
}

// Enabled reports whether a secret is available.
func (p *PassKeyAuth) Enabled() bool {
	return p.set
}

// Header returns the configured header name.
func (p *PassKeyAuth) Header() string {
	return p.header
}

func (p *PassKeyAuth) Apply(headers map[string]string) map[string]string {
	if !p.set {
		return cloneHeaders(headers)
	}

	out := make(map[string]string, len(headers)+1)
	name := ""
	for k, v := range headers {
		if strings.EqualFold(k, p.header) {
			// Keep the spelling the document used; collapse variants.
			if name == "" || k < name {
				name = k
			}
			continue
		}
		out[k] = v
	}
	if name == "" {
		name = p.header
	}
	out[name] = p.secret
	return out
}

func (p *PassKeyAuth) Type() AuthType {
	return AuthTypePassKey
}
