package runner

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/clawlets/controlplane/internal/clock"
)

func strPtr(s string) *string { return &s }

func TestHasSealedInputCapability(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{
			name: "complete triple with matching alg",
			caps: Capabilities{
				SupportsSealedInput: true,
				SealedInputAlg:      strPtr(SealedInputAlg),
				SealedInputKeyID:    strPtr("kid"),
				SPKIPublicKeyB64:    strPtr("spki"),
			},
			want: true,
		},
		{name: "not declared", caps: Capabilities{SupportsSealedInput: false}, want: false},
		{
			name: "wrong algorithm",
			caps: Capabilities{
				SupportsSealedInput: true,
				SealedInputAlg:      strPtr("rsa-oaep-2048/aes-128-gcm"),
				SealedInputKeyID:    strPtr("kid"),
				SPKIPublicKeyB64:    strPtr("spki"),
			},
			want: false,
		},
		{
			name: "missing key id",
			caps: Capabilities{
				SupportsSealedInput: true,
				SealedInputAlg:      strPtr(SealedInputAlg),
				SPKIPublicKeyB64:    strPtr("spki"),
			},
			want: false,
		},
		{
			name: "missing spki",
			caps: Capabilities{
				SupportsSealedInput: true,
				SealedInputAlg:      strPtr(SealedInputAlg),
				SealedInputKeyID:    strPtr("kid"),
			},
			want: false,
		},
		{
			name: "empty key id rejected",
			caps: Capabilities{
				SupportsSealedInput: true,
				SealedInputAlg:      strPtr(SealedInputAlg),
				SealedInputKeyID:    strPtr(""),
				SPKIPublicKeyB64:    strPtr("spki"),
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.caps.HasSealedInputCapability(); got != tt.want {
				t.Errorf("HasSealedInputCapability() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCapabilitiesValidate(t *testing.T) {
	spki := []byte("not-a-real-spki-but-bytes-suffice")
	spkiB64 := base64.StdEncoding.EncodeToString(spki)
	keyID := clock.SHA256Base64URL(spki)

	tests := []struct {
		name    string
		caps    Capabilities
		wantErr bool
	}{
		{name: "no sealed-input support always valid", caps: Capabilities{}, wantErr: false},
		{
			name: "matching derived key id",
			caps: Capabilities{
				SupportsSealedInput: true,
				SealedInputAlg:      strPtr(SealedInputAlg),
				SealedInputKeyID:    strPtr(keyID),
				SPKIPublicKeyB64:    strPtr(spkiB64),
			},
			wantErr: false,
		},
		{
			name: "key id does not derive from spki",
			caps: Capabilities{
				SupportsSealedInput: true,
				SealedInputAlg:      strPtr(SealedInputAlg),
				SealedInputKeyID:    strPtr("some-other-kid"),
				SPKIPublicKeyB64:    strPtr(spkiB64),
			},
			wantErr: true,
		},
		{
			name: "incomplete triple rejected",
			caps: Capabilities{
				SupportsSealedInput: true,
				SealedInputAlg:      strPtr(SealedInputAlg),
			},
			wantErr: true,
		},
		{
			name: "wrong algorithm rejected",
			caps: Capabilities{
				SupportsSealedInput: true,
				SealedInputAlg:      strPtr("rsa-oaep-2048/aes-128-gcm"),
				SealedInputKeyID:    strPtr(keyID),
				SPKIPublicKeyB64:    strPtr(spkiB64),
			},
			wantErr: true,
		},
		{
			name: "undecodable spki rejected",
			caps: Capabilities{
				SupportsSealedInput: true,
				SealedInputAlg:      strPtr(SealedInputAlg),
				SealedInputKeyID:    strPtr(keyID),
				SPKIPublicKeyB64:    strPtr("!!! not base64 !!!"),
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.caps.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateTokenShapeAndUniqueness(t *testing.T) {
	raw1, hash1, prefix1 := GenerateToken()
	raw2, hash2, _ := GenerateToken()

	if !strings.HasPrefix(raw1, "rnr_") {
		t.Errorf("raw token %q missing rnr_ prefix", raw1)
	}
	if prefix1 != raw1[:tokenPrefixLen] {
		t.Errorf("prefix %q does not match raw[:%d] = %q", prefix1, tokenPrefixLen, raw1[:tokenPrefixLen])
	}
	if raw1 == raw2 {
		t.Error("two calls to GenerateToken produced the same raw token")
	}
	if hash1 == hash2 {
		t.Error("two calls to GenerateToken produced the same hash")
	}
	if len(hash1) != 64 {
		t.Errorf("len(hash1) = %d, want 64 (SHA-256 hex)", len(hash1))
	}
}
