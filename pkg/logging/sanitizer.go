package logging

import (
	"regexp"
)

// RedactedText is the replacement text for sensitive data.
const RedactedText = "[REDACTED]"

var (
	// Pattern to match potential passwords in connection strings
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Pattern to match connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)

	// Pattern to match email addresses
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// Pattern to match phone-like digit runs (10+ digits, optional separators)
	phonePattern = regexp.MustCompile(`\+?\d[\d\-\s().]{8,}\d`)
)

// SanitizeConnectionString removes credentials from connection strings.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeIdentifier masks a raw identifier value for logging. Emails and
// phone numbers are personal data and must not land in logs verbatim; only a
// short prefix survives for correlation during debugging.
func SanitizeIdentifier(value string) string {
	if value == "" {
		return ""
	}
	const keep = 3
	if len(value) <= keep {
		return RedactedText
	}
	return value[:keep] + "…" + RedactedText
}

// SanitizeError sanitizes error messages that might contain sensitive data.
// Database errors can echo identifier values back from failed statements.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	sanitized = emailPattern.ReplaceAllString(sanitized, RedactedText)
	sanitized = phonePattern.ReplaceAllString(sanitized, RedactedText)

	return sanitized
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
