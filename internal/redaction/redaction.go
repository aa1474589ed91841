// Package redaction scrubs secrets out of command envelopes before
// they are written to the evidence ledger as ActorAction records
// (spec §4.8: "payload = sanitized command envelope, with secrets
// redacted"). It operates on structured parameter values, not on
// captured page content — it has no opinion about what a page says,
// only about what the operator's own command parameters might leak
// (an auth token passed as a navigation param, a proxy password in a
// set_proxy call, and so on). That distinction keeps it out of the
// content-intelligence Non-goal.
package redaction

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
)

// Pattern is a single redaction rule.
type Pattern struct {
	Name        string `json:"name"`
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement,omitempty"`
}

// FileConfig is the on-disk shape of a custom pattern file.
type FileConfig struct {
	Patterns []Pattern `json:"patterns"`
}

type compiled struct {
	name        string
	re          *regexp.Regexp
	replacement string
	validate    func(string) bool
}

// Engine applies a set of compiled patterns to text or structured
// values. Safe for concurrent use after construction — it never
// mutates its pattern list post-construction.
type Engine struct {
	patterns []compiled
}

var builtins = []struct {
	name     string
	pattern  string
	validate func(string) bool
}{
	{name: "aws-key", pattern: `AKIA[0-9A-Z]{16}`},
	{name: "bearer-token", pattern: `Bearer [A-Za-z0-9\-._~+/]+=*`},
	{name: "basic-auth", pattern: `Basic [A-Za-z0-9+/]+=*`},
	{name: "jwt", pattern: `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+`},
	{name: "github-pat", pattern: `(ghp_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9_]{36,})`},
	{name: "private-key", pattern: `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`},
	{name: "credit-card", pattern: `\b([0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4})\b`, validate: luhnValid},
	{name: "ssn", pattern: `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`},
	{name: "api-key", pattern: `(?i)(api[_-]?key|apikey|secret[_-]?key)\s*[:=]\s*\S+`},
	{name: "proxy-credential", pattern: `(?i)(proxy[_-]?(user|pass|password|cred))\s*[:=]\s*\S+`},
	{name: "cookie-value", pattern: `(?i)(session|sid|token)\s*=\s*[A-Za-z0-9+/=_-]{16,}`},
}

// New builds an Engine with built-in patterns plus any custom patterns
// loaded from configPath (ignored if empty or unreadable — redaction
// degrades to built-ins only, never to "no redaction").
func New(configPath string) *Engine {
	e := &Engine{}
	for _, b := range builtins {
		re := regexp.MustCompile(b.pattern)
		e.patterns = append(e.patterns, compiled{
			name:        b.name,
			re:          re,
			replacement: "[REDACTED:" + b.name + "]",
			validate:    b.validate,
		})
	}
	if configPath != "" {
		e.loadFile(configPath)
	}
	return e
}

func (e *Engine) loadFile(path string) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is from trusted config location
	if err != nil {
		return
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return
	}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		repl := p.Replacement
		if repl == "" {
			repl = "[REDACTED:" + p.Name + "]"
		}
		e.patterns = append(e.patterns, compiled{name: p.Name, re: re, replacement: repl})
	}
}

// Redact applies every pattern to a single string.
func (e *Engine) Redact(input string) string {
	if input == "" {
		return ""
	}
	result := input
	for _, p := range e.patterns {
		if p.validate != nil {
			result = p.re.ReplaceAllStringFunc(result, func(m string) string {
				if p.validate(m) {
					return p.replacement
				}
				return m
			})
		} else {
			result = p.re.ReplaceAllString(result, p.replacement)
		}
	}
	return result
}

// SanitizeParams walks an arbitrary command-parameter value tree
// (decoded JSON: map[string]any / []any / scalars) and returns a deep
// copy with every string leaf redacted. This is what the ledger calls
// before writing an ActorAction payload.
func (e *Engine) SanitizeParams(v any) any {
	switch t := v.(type) {
	case string:
		return e.Redact(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = e.SanitizeParams(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = e.SanitizeParams(val)
		}
		return out
	default:
		return v
	}
}

// SanitizeJSON redacts a raw JSON params blob, round-tripping it
// through the generic any representation. Malformed input is redacted
// as a flat string rather than rejected, so a ledger write never fails
// because of a caller's malformed params.
func (e *Engine) SanitizeJSON(raw json.RawMessage) json.RawMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return json.RawMessage(`"` + e.Redact(strings.TrimSpace(string(raw))) + `"`)
	}
	sanitized := e.SanitizeParams(v)
	out, err := json.Marshal(sanitized)
	if err != nil {
		return json.RawMessage(`"` + e.Redact(string(raw)) + `"`)
	}
	return out
}

func luhnValid(number string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}
