package audit

import "strings"

// RedactedValue replaces sensitive field values in sanitized request bodies.
const RedactedValue = "[REDACTED]"

// sensitiveTokens flag a key as sensitive when its lowercased name contains
// any of them. Kept short on purpose: over-matching hides audit detail.
var sensitiveTokens = []string{"password", "token", "secret", "apikey", "api_key"}

// Redact recursively masks values whose keys look sensitive, preserving the
// structure of the input. It operates on JSON-decoded values (maps, slices,
// primitives) and never fails: anything it does not recognize passes through
// unchanged. Idempotent, since the marker itself carries no sensitive key.
func Redact(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			if sensitiveKey(k) {
				out[k] = RedactedValue
				continue
			}
			out[k] = Redact(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Redact(elem)
		}
		return out
	default:
		return v
	}
}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, token := range sensitiveTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
