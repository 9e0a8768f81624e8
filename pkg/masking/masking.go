package masking

import (
	"encoding/json"
	"strings"
)

const maskToken = "****"

// sensitiveKeys are payload fields never written to logs in clear text.
var sensitiveKeys = map[string]struct{}{
	"access_token":          {},
	"client_secret":         {},
	"clientsecret":          {},
	"password":              {},
	"authorization":         {},
	"taxregistrationnumber": {},
}

// MaskSecret redacts a secret while keeping a minimal suffix for auditing.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}

	return prefix + maskToken + remainder[len(remainder)-4:]
}

// IsSensitive reports whether a payload key holds a secret.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskJSON returns a copy of the input with sensitive string values masked.
func MaskJSON(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if s, ok := value.(string); ok && IsSensitive(trimmedKey) {
			masked[trimmedKey] = MaskSecret(s)
			continue
		}
		masked[trimmedKey] = maskValue(value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

// MaskPayload masks a raw JSON object for logging. Anything that is not a
// JSON object is returned unchanged.
func MaskPayload(raw string) string {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil || decoded == nil {
		return raw
	}
	out, err := json.Marshal(MaskJSON(decoded))
	if err != nil {
		return raw
	}
	return string(out)
}

func maskValue(value any) any {
	switch cast := value.(type) {
	case map[string]any:
		return MaskJSON(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(item))
		}
		return out
	default:
		return value
	}
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
