// Package privacy scrubs upstream credentials out of text before it is
// logged or returned to a client.
package privacy

import (
	"regexp"
	"unicode/utf8"
)

var (
	// Groq keys
	groqKeyRegex = regexp.MustCompile(`\bgsk_[A-Za-z0-9]{16,}\b`)

	// Google API keys
	googleKeyRegex = regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{30,}`)

	// Generic OpenAI-style secret keys
	secretKeyRegex = regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}`)

	// Authorization header values
	bearerRegex = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]+`)

	// key=... query parameters, as echoed in URL errors
	keyParamRegex = regexp.MustCompile(`(?i)((?:^|[?&])(?:key|api_key)=)[^&\s"]+`)
)

const maxLogLength = 300

// RedactSecrets replaces anything that looks like an API credential
func RedactSecrets(text string) string {
	text = keyParamRegex.ReplaceAllString(text, "${1}[REDACTED]")
	text = bearerRegex.ReplaceAllString(text, "Bearer [REDACTED]")
	text = groqKeyRegex.ReplaceAllString(text, "[API_KEY]")
	text = googleKeyRegex.ReplaceAllString(text, "[API_KEY]")
	text = secretKeyRegex.ReplaceAllString(text, "[API_KEY]")
	return text
}

// SanitizeForLogging prepares text for safe logging
func SanitizeForLogging(text string) string {
	redacted := RedactSecrets(text)

	// Truncate if too long, without splitting a rune
	if len(redacted) > maxLogLength {
		cut := maxLogLength - 3
		for cut > 0 && !utf8.RuneStart(redacted[cut]) {
			cut--
		}
		return redacted[:cut] + "..."
	}

	return redacted
}
