package audit

import (
	"encoding/json"
	"strings"
)

const redactedMarker = "[REDACTED]"

// Redact replaces the values of password/secret/token-like keys in a JSON
// request body before the body is persisted. Malformed or non-object bodies
// are dropped entirely rather than stored unsanitized.
func Redact(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	for key := range payload {
		if isSensitiveKey(key) {
			payload[key] = redactedMarker
		}
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return out
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range []string{"password", "secret", "token", "mfacode", "code"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}
