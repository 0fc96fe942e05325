package security

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidateEntityID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", uuid.NewString(), false},
		{"valid simple", "my-context", false},
		{"valid with numbers", "context123", false},
		{"valid with underscore", "my_page_1", false},
		{"max length", strings.Repeat("a", 64), false},

		{"empty", "", true},
		{"too short", "abc", true},
		{"too long", strings.Repeat("a", 65), true},
		{"contains space", "my session", true},
		{"contains slash", "my/session", true},
		{"contains dot", "my.session", true},
		{"path traversal", "../etc/passwd", true},
		{"script injection", "<script>alert(1)</script>", true},
		{"proto pollution", "__proto__", true},
		{"constructor attack", "constructor", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntityID(tt.id)
			if (err != "") != tt.wantErr {
				t.Errorf("ValidateEntityID(%q) = %q, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestMintAPIKeyRoundTrip(t *testing.T) {
	apiKey, hash, err := MintAPIKey("ops")
	if err != nil {
		t.Fatal(err)
	}

	keyID, secret, ok := SplitAPIKey(apiKey)
	if !ok || keyID != "ops" {
		t.Fatalf("split: %q %q %v", keyID, secret, ok)
	}
	if !VerifyAPIKeySecret(secret, hash) {
		t.Fatal("minted secret must verify against its own hash")
	}
	if VerifyAPIKeySecret(secret+"x", hash) {
		t.Fatal("tampered secret must not verify")
	}
}

func TestSplitAPIKeyMalformed(t *testing.T) {
	for _, key := range []string{"", "nodot", ".secret", "keyid.", "."} {
		if _, _, ok := SplitAPIKey(key); ok {
			t.Errorf("SplitAPIKey(%q) accepted malformed key", key)
		}
	}
}

func TestMintAPIKeysUnique(t *testing.T) {
	a, _, err := MintAPIKey("ops")
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := MintAPIKey("ops")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("minted keys must be unique")
	}
}
