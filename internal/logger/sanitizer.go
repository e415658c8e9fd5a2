package logger

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
)

// sensitiveKeys are substrings of attribute keys whose values are always masked
var sensitiveKeys = []string{
	"password", "passwd", "pwd",
	"token", "secret", "api_key", "apikey",
	"credential", "auth", "access_key",
}

// Sanitizer masks credentials and personal paths in log output.
//
// Values under sensitive keys are masked outright. Every other string value
// is rewritten by the pattern rules, so a presigned URL logged under "url"
// loses its signature too.
type Sanitizer struct {
	mu    sync.RWMutex
	rules []SanitizeRule
}

// SanitizeRule is one regexp replacement
type SanitizeRule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// NewSanitizer returns a sanitizer with the default rules
func NewSanitizer() *Sanitizer {
	rules := defaultSanitizeRules()
	if r, ok := homeRule(os.UserHomeDir()); ok {
		// Runs first so the generic home patterns below see "~" instead
		rules = append([]SanitizeRule{r}, rules...)
	}
	return &Sanitizer{rules: rules}
}

func defaultSanitizeRules() []SanitizeRule {
	return []SanitizeRule{
		{regexp.MustCompile(`(?i)\b(password|passwd|pwd)=\S+`), "$1=***"},
		{regexp.MustCompile(`(?i)\b(token|client_secret|secret_access_key|session_token|api[_-]?key)=[^&\s]+`), "$1=***"},
		{regexp.MustCompile(`(?i)bearer\s+\S+`), "bearer ***"},

		// Google OAuth access tokens
		{regexp.MustCompile(`\bya29\.[0-9A-Za-z_\-]+`), "ya29.***"},

		// Presigned S3 URLs and OAuth payloads
		{regexp.MustCompile(`(?i)x-amz-signature=[0-9a-f]+`), "X-Amz-Signature=***"},
		{regexp.MustCompile(`(?i)x-amz-credential=[^&\s]+`), "X-Amz-Credential=***"},
		{regexp.MustCompile(`(?i)"(access_token|refresh_token|client_secret)"\s*:\s*"[^"]*"`), `"$1":"***"`},
		{regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`), "$1****************"},

		{regexp.MustCompile(`(?i)[A-Z]:\\Users\\[^\\]+`), "***:\\Users\\***"},
		{regexp.MustCompile(`(?i)\\\\[^\\]+\\[^\\]+\\Users\\[^\\]+`), "\\\\***\\***\\Users\\***"},
		{regexp.MustCompile(`/home/[^/\s]+`), "/home/***"},
		{regexp.MustCompile(`/Users/[^/\s]+`), "/Users/***"},

		// Keep up to three characters of the local part
		{regexp.MustCompile(`([a-zA-Z0-9._%+-]{1,3})[a-zA-Z0-9._%+-]*@`), "$1***@"},
	}
}

// homeRule rewrites the current user's home directory to "~"
func homeRule(home string, err error) (SanitizeRule, bool) {
	home = strings.TrimRight(home, `/\`)
	if err != nil || len(home) < 2 {
		return SanitizeRule{}, false
	}
	return SanitizeRule{
		Pattern:     regexp.MustCompile(regexp.QuoteMeta(home) + `([/\\]|$|\s)`),
		Replacement: "~$1",
	}, true
}

// Sanitize applies every rule to input
func (s *Sanitizer) Sanitize(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apply(input)
}

func (s *Sanitizer) apply(input string) string {
	for _, rule := range s.rules {
		input = rule.Pattern.ReplaceAllString(input, rule.Replacement)
	}
	return input
}

// SanitizeArgs returns a copy of slog-style key/value args with secrets masked
func (s *Sanitizer) SanitizeArgs(args []any) []any {
	if len(args) == 0 {
		return args
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]any, len(args))
	copy(result, args)

	for i := 0; i < len(result)-1; i += 2 {
		key, ok := result[i].(string)
		if !ok {
			continue
		}
		sensitive := isSensitiveKey(key)

		var text string
		switch v := result[i+1].(type) {
		case string:
			text = v
		case error:
			text = v.Error()
		case []byte:
			text = string(v)
		default:
			continue
		}
		if sensitive {
			result[i+1] = maskValue(text)
		} else if clean := s.apply(text); clean != text {
			result[i+1] = clean
		}
	}
	return result
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sk := range sensitiveKeys {
		if strings.Contains(lower, sk) {
			return true
		}
	}
	return false
}

// maskValue keeps at most the first and last character
func maskValue(value string) string {
	switch {
	case len(value) <= 2:
		return "***"
	case len(value) <= 8:
		return value[:1] + "***"
	default:
		return value[:1] + "***" + value[len(value)-1:]
	}
}

// AddRule appends a custom rule
func (s *Sanitizer) AddRule(pattern, replacement string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, SanitizeRule{Pattern: re, Replacement: replacement})
	return nil
}
