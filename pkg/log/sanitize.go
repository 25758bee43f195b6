package log

import (
	"strings"
)

// maxPayloadPreview bounds how much of a work-item payload is logged.
const maxPayloadPreview = 200

// SanitizeField masks secret-bearing fields and truncates payload previews
// before they reach the log sink. Dead-letter payloads may carry arbitrary
// agent output, so they are never logged in full.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	sensitiveKeywords := []string{
		"password", "passwd", "pwd",
		"api_key", "apikey", "api-key",
		"token_value", "access_token", "refresh_token",
		"secret", "authorization",
		"credential", "private_key", "privatekey",
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return maskValue(value)
		}
	}

	if strings.Contains(lowerKey, "payload") && len(value) > maxPayloadPreview {
		return value[:maxPayloadPreview] + "...(truncated)"
	}

	return value
}

// maskValue shows only the first 4 and last 4 characters of a secret.
func maskValue(value string) string {
	if len(value) <= 8 {
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}
