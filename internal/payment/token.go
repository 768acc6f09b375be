package payment

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

const (
	tokenField    = "Token"
	passwordField = "Password"
)

// Sign computes the gateway token for a request or notification. The terminal
// password joins params under "Password", any "Token" is dropped, and the
// values of the remaining root-level scalars are concatenated in key order
// and hashed with SHA-256. Nested objects and arrays do not take part.
func Sign(params map[string]any, password string) string {
	values := make(map[string]string, len(params)+1)
	for k, v := range params {
		if k == tokenField {
			continue
		}
		if s, ok := canonical(v); ok {
			values[k] = s
		}
	}
	values[passwordField] = password

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(values[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether token matches the digest of params.
func Verify(params map[string]any, password, token string) bool {
	if token == "" {
		return false
	}
	expected := Sign(params, password)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(token))) == 1
}

// canonical renders a scalar the way the gateway does. The second result is
// false for values excluded from the digest.
func canonical(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}
