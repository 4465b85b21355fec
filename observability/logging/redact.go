package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces masked values in log output.
const RedactedValue = "[REDACTED]"

// allowlist holds the lower-cased keys MaskField emits verbatim.
var allowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"component": {},
	"operation": {},
	"error":     {},
	"reason":    {},
	"height":    {},
	"requestid": {},
	"token":     {},
	"version":   {},
	"pool":      {},
	"tick":      {},
	"route":     {},
	"status":    {},
}

// sensitiveKeys are masked by the handler no matter how the attribute was
// built.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"jwt":           {},
	"secret":        {},
	"jwt_secret":    {},
	"dsn":           {},
	"password":      {},
}

// IsAllowlisted reports whether key is exempt from MaskField redaction.
func IsAllowlisted(key string) bool {
	_, ok := allowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

func isSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns an attribute whose value is redacted unless key is
// allowlisted. Empty values pass through unchanged.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
