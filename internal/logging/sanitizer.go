package logging

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// credentialPatterns covers the secrets that actually flow through a takt
// run: provider API keys for the configured agent CLIs, GitHub tokens used
// by auto-PR setups, and generic key/token assignments quoted back from
// config files or shell output inside agent responses.
var credentialPatterns = []*regexp.Regexp{
	// Anthropic (checked before the generic sk- form so the longer match wins)
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{40,}`),
	// OpenAI
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	// Google AI
	regexp.MustCompile(`AIza[a-zA-Z0-9_-]{35}`),
	// GitHub tokens (classic, OAuth, app)
	regexp.MustCompile(`gh[opus]_[A-Za-z0-9]{36}`),
	// Bearer headers quoted from transcripts
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`),
	// key/token/secret/password assignments in quoted config or env dumps
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)["'\s:=]+[^\s"']{8,}`),
}

// sensitiveOptionKeys are provider-option fields whose values never belong
// in a log line, whatever their shape.
var sensitiveOptionKeys = map[string]bool{
	"api_key": true, "apikey": true, "token": true, "secret": true, "password": true,
}

// Sanitizer redacts credentials before log lines leave the process.
// Prompts, provider options, and agent responses routinely quote config
// and shell output, so everything routed through the logger is scrubbed.
type Sanitizer struct {
	patterns []*regexp.Regexp
}

// NewSanitizer creates a sanitizer with the default credential patterns.
// Extra patterns extend the set; an invalid extra pattern is skipped.
func NewSanitizer(extra ...string) *Sanitizer {
	s := &Sanitizer{patterns: credentialPatterns}
	for _, p := range extra {
		if re, err := regexp.Compile(p); err == nil {
			s.patterns = append(s.patterns, re)
		}
	}
	return s
}

// Sanitize redacts credential material from a string.
func (s *Sanitizer) Sanitize(input string) string {
	out := input
	for _, re := range s.patterns {
		out = re.ReplaceAllString(out, redactedPlaceholder)
	}
	return out
}

// SanitizeOptions returns a copy of a provider-option map safe to log:
// values under sensitive keys are replaced wholesale, string values are
// pattern-scrubbed, nested maps recurse.
func (s *Sanitizer) SanitizeOptions(options map[string]interface{}) map[string]interface{} {
	if options == nil {
		return nil
	}
	out := make(map[string]interface{}, len(options))
	for key, value := range options {
		if sensitiveOptionKeys[strings.ToLower(key)] {
			out[key] = redactedPlaceholder
			continue
		}
		switch v := value.(type) {
		case string:
			out[key] = s.Sanitize(v)
		case map[string]interface{}:
			out[key] = s.SanitizeOptions(v)
		default:
			out[key] = v
		}
	}
	return out
}
