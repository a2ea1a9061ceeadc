package history

import (
	"strings"
	"testing"
)

func TestValidateBody(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"plain text", "need a cook for weekday evenings", false},
		{"unicode", "नमस्ते, क्या आप उपलब्ध हैं?", false},
		{"empty", "", true},
		{"max chars exactly", strings.Repeat("a", MaxBodyChars), false},
		{"too many chars", strings.Repeat("a", MaxBodyChars+1), true},
		{"too many bytes", strings.Repeat("💬", MaxBodyBytes/4+1), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateBody(tc.body)
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
