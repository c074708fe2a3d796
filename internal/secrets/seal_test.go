package secrets

import (
	"errors"
	"testing"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := NewBox(testKey)
	if err != nil {
		t.Fatalf("NewBox failed: %v", err)
	}

	sealed, err := box.Seal("device-password")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if sealed == "device-password" {
		t.Fatal("sealed value must not equal the plaintext")
	}

	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if opened != "device-password" {
		t.Errorf("round trip mismatch: %q", opened)
	}
}

func TestSealIsNonDeterministic(t *testing.T) {
	box, _ := NewBox(testKey)
	a, _ := box.Seal("same")
	b, _ := box.Seal("same")
	if a == b {
		t.Error("two seals of the same plaintext must differ (random nonce)")
	}
}

func TestNewBoxRejectsBadKeys(t *testing.T) {
	tests := []string{"", "abc", "zz", testKey[:32]}
	for _, key := range tests {
		if _, err := NewBox(key); !errors.Is(err, ErrBadKey) {
			t.Errorf("key %q: expected ErrBadKey, got %v", key, err)
		}
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	box, _ := NewBox(testKey)
	otherBox, _ := NewBox("00000000000000000000000000000000000000000000000000000000000000ff")

	sealed, _ := box.Seal("secret")

	if _, err := otherBox.Open(sealed); !errors.Is(err, ErrBadCiphertext) {
		t.Errorf("wrong key: expected ErrBadCiphertext, got %v", err)
	}
	if _, err := box.Open("not base64!!"); !errors.Is(err, ErrBadCiphertext) {
		t.Errorf("garbage input: expected ErrBadCiphertext, got %v", err)
	}
	if _, err := box.Open("c2hvcnQ="); !errors.Is(err, ErrBadCiphertext) {
		t.Errorf("short input: expected ErrBadCiphertext, got %v", err)
	}
}
