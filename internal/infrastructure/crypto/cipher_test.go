package crypto

import (
	"context"
	"errors"
	"strings"
	"testing"

	"xhub/internal/domain/apperr"
)

func TestCipherRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewCipher(nil)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"simple", "my-secret-api-key"},
		{"empty", ""},
		{"block aligned", "0123456789abcdef"},
		{"unicode", "密钥🔑"},
		{"long", strings.Repeat("x", 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := c.Encrypt(ctx, tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if !strings.Contains(enc, ":") {
				t.Fatalf("expected iv:encrypted form, got %q", enc)
			}
			dec, err := c.Decrypt(ctx, enc)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if dec != tt.plaintext {
				t.Errorf("expected %q, got %q", tt.plaintext, dec)
			}
		})
	}
}

func TestCipherRandomIV(t *testing.T) {
	ctx := context.Background()
	c := NewCipher(nil)

	a, _ := c.Encrypt(ctx, "same")
	b, _ := c.Encrypt(ctx, "same")
	if a == b {
		t.Error("two encryptions of the same plaintext should differ")
	}
	ivA, _, _ := strings.Cut(a, ":")
	if len(ivA) != 32 {
		t.Errorf("expected 16-byte hex iv, got %d chars", len(ivA))
	}
}

func TestCipherKeyCachedInSlot(t *testing.T) {
	ctx := context.Background()
	slot := NewMemoryKeySlot()

	if _, ok, _ := slot.Get(ctx); ok {
		t.Fatal("slot should start empty")
	}

	first := NewCipher(slot)
	enc, err := first.Encrypt(ctx, "shared")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, ok, _ := slot.Get(ctx); !ok {
		t.Fatal("key should be generated lazily on first use")
	}

	// 共享同一个槽的实例可以互相解密
	second := NewCipher(slot)
	dec, err := second.Decrypt(ctx, enc)
	if err != nil || dec != "shared" {
		t.Errorf("expected shared, got %q (%v)", dec, err)
	}
}

// 已知缺陷: 密钥槽被清空（或进程重启）后，旧密文无法再解密
func TestCipherKeyLossMakesSecretsUnreadable(t *testing.T) {
	ctx := context.Background()
	slot := NewMemoryKeySlot()
	c := NewCipher(slot)

	enc, err := c.Encrypt(ctx, "api-secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	_ = slot.Clear(ctx)

	dec, err := c.Decrypt(ctx, enc)
	if err == nil && dec == "api-secret" {
		t.Fatal("expected old ciphertext to be unreadable after key loss")
	}

	restarted := NewCipher(nil)
	dec, err = restarted.Decrypt(ctx, enc)
	if err == nil && dec == "api-secret" {
		t.Fatal("expected old ciphertext to be unreadable in a fresh process")
	}
}

func TestCipherMalformedInput(t *testing.T) {
	ctx := context.Background()
	c := NewCipher(nil)

	bad := []string{
		"",
		"no-separator",
		"zz:00112233445566778899aabbccddeeff",
		"00112233:00112233445566778899aabbccddeeff",
		"00112233445566778899aabbccddeeff:abc",
		"00112233445566778899aabbccddeeff:",
		"00112233445566778899aabbccddeeff:0011",
	}
	for _, in := range bad {
		if _, err := c.Decrypt(ctx, in); !errors.Is(err, apperr.ErrCipherFormat) {
			t.Errorf("Decrypt(%q): expected ErrCipherFormat, got %v", in, err)
		}
	}
}
