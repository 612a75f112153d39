//go:build !integration

package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"premium-access/internal/domain"
)

func TestEncryptionService_RoundTrip(t *testing.T) {
	svc, err := NewEncryptionService("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	ct, err := svc.Encrypt(`{"ua":"firefox"}`)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(ct, "firefox") {
		t.Error("expected ciphertext not to leak plaintext")
	}
	pt, err := svc.Decrypt(ct)
	if err != nil || pt != `{"ua":"firefox"}` {
		t.Errorf("unexpected round trip %q (%v)", pt, err)
	}
	if _, err := svc.Decrypt("bm90LWNpcGhlcnRleHQ="); err == nil {
		t.Error("expected tampered ciphertext to fail")
	}
}

func TestNewCipher(t *testing.T) {
	c, err := NewCipher("")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(NopCipher); !ok {
		t.Errorf("expected NopCipher for empty key, got %T", c)
	}
	if _, err := NewCipher("short"); err == nil {
		t.Error("expected bad key length to fail")
	}
}

func TestDeviceTokens(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tokens, err := NewDeviceTokens("s3cret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("should round trip user and device", func(t *testing.T) {
		raw, exp, err := tokens.Issue("u1", "d1", now)
		if err != nil {
			t.Fatal(err)
		}
		if !exp.Equal(now.Add(time.Hour)) {
			t.Errorf("unexpected expiry %v", exp)
		}
		claims, err := tokens.Verify(raw, now.Add(time.Minute))
		if err != nil {
			t.Fatalf("expected valid token, got %v", err)
		}
		if claims.UserID() != "u1" || claims.DeviceID != "d1" {
			t.Errorf("unexpected claims %+v", claims)
		}
	})

	t.Run("should reject expired, foreign and garbage tokens", func(t *testing.T) {
		raw, _, _ := tokens.Issue("u1", "d1", now)
		other, _ := NewDeviceTokens("other", time.Hour)
		foreign, _, _ := other.Issue("u1", "d1", now)

		cases := map[string]struct {
			raw string
			at  time.Time
		}{
			"expired": {raw, now.Add(2 * time.Hour)},
			"foreign": {foreign, now},
			"garbage": {"not.a.token", now},
		}
		for name, tc := range cases {
			if _, err := tokens.Verify(tc.raw, tc.at); !errors.Is(err, domain.ErrInvalidDeviceToken) {
				t.Errorf("%s: expected ErrInvalidDeviceToken, got %v", name, err)
			}
		}
	})

	t.Run("should require a secret", func(t *testing.T) {
		if _, err := NewDeviceTokens("", time.Hour); err == nil {
			t.Error("expected missing secret to fail")
		}
	})
}
