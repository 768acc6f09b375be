package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestSign_Canonicalization(t *testing.T) {
	params := map[string]any{
		"TerminalKey": "TK",
		"OrderId":     "42_S_1",
		"Amount":      int64(119000),
		"Token":       "ignored",
		"DATA":        map[string]string{"userId": "42"},
	}

	// Amount, OrderId, Password, TerminalKey in key order.
	want := sha256Hex("119000" + "42_S_1" + "secret" + "TK")

	assert.Equal(t, want, Sign(params, "secret"))
}

func TestSign_ScalarForms(t *testing.T) {
	tests := []struct {
		name string
		a, b any
	}{
		{name: "json number vs int64", a: json.Number("100"), b: int64(100)},
		{name: "bool vs string", a: true, b: "true"},
		{name: "float without fraction", a: float64(300), b: "300"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Sign(map[string]any{"X": tt.a}, "pw")
			b := Sign(map[string]any{"X": tt.b}, "pw")
			assert.Equal(t, a, b)
		})
	}
}

func TestSign_ExcludesNested(t *testing.T) {
	base := map[string]any{"A": "1"}
	withNested := map[string]any{"A": "1", "DATA": map[string]any{"k": "v"}, "Receipt": []any{"x"}}

	assert.Equal(t, Sign(base, "pw"), Sign(withNested, "pw"))
}

func TestVerify(t *testing.T) {
	params := map[string]any{
		"TerminalKey": "TK",
		"PaymentId":   json.Number("13660"),
		"Status":      "CONFIRMED",
		"Success":     true,
	}
	token := Sign(params, "pw")
	params["Token"] = token

	tests := []struct {
		name     string
		mutate   func(p map[string]any)
		password string
		token    string
		want     bool
	}{
		{name: "valid", mutate: func(map[string]any) {}, password: "pw", token: token, want: true},
		{name: "uppercase token", mutate: func(map[string]any) {}, password: "pw", token: strings.ToUpper(token), want: true},
		{name: "wrong password", mutate: func(map[string]any) {}, password: "other", token: token, want: false},
		{name: "tampered status", mutate: func(p map[string]any) { p["Status"] = "REJECTED" }, password: "pw", token: token, want: false},
		{name: "added field", mutate: func(p map[string]any) { p["Amount"] = json.Number("1") }, password: "pw", token: token, want: false},
		{name: "empty token", mutate: func(map[string]any) {}, password: "pw", token: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := make(map[string]any, len(params))
			for k, v := range params {
				p[k] = v
			}
			tt.mutate(p)
			assert.Equal(t, tt.want, Verify(p, tt.password, tt.token))
		})
	}
}
