package config

import "strings"

// sensitiveKeys lists config/log field names whose values must never
// reach structured log output in cleartext (§4.8).
var sensitiveKeys = []string{
	"api_key",
	"apikey",
	"password",
	"secret",
	"token",
	"dsn",
	"authorization",
}

const redactedPlaceholder = "[REDACTED]"

// IsSensitiveKey reports whether key names a value that Redact should
// mask, matching case-insensitively against suffixes so that nested
// keys like "llm.api_key" or "database.postgres_dsn" are caught.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// Redact walks a flat or nested map (as produced by decoding config or
// request payloads into map[string]any) and replaces every value whose
// key matches IsSensitiveKey with a fixed placeholder. It returns a new
// map; the input is not mutated.
func Redact(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch value := v.(type) {
		case map[string]any:
			out[k] = Redact(value)
		default:
			if IsSensitiveKey(k) {
				out[k] = redactedPlaceholder
			} else {
				out[k] = v
			}
		}
	}
	return out
}

// RedactKeyvals redacts an alternating key/value slice in the shape
// telemetry.Logger methods accept, masking values whose preceding key
// matches IsSensitiveKey.
func RedactKeyvals(keyvals []any) []any {
	out := make([]any, len(keyvals))
	copy(out, keyvals)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok {
			continue
		}
		if IsSensitiveKey(key) {
			out[i+1] = redactedPlaceholder
		}
	}
	return out
}
