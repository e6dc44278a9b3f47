package core

import (
	"errors"
	"testing"
)

func TestValidateKey(t *testing.T) {
	for _, key := range []string{"scans/box1/20240506T070809.000000000Z.json", "a", "a/b.c/d"} {
		if err := ValidateKey(key); err != nil {
			t.Fatalf("ValidateKey(%q): %v", key, err)
		}
	}
	for _, key := range []string{"", " ", "/abs", "a//b", "a/", "../x", "a/./b", `a\b`} {
		err := ValidateKey(key)
		var keyErr KeyError
		if !errors.Is(err, ErrInvalidKey) || !errors.As(err, &keyErr) || keyErr.Key != key {
			t.Fatalf("ValidateKey(%q) = %v, want KeyError wrapping ErrInvalidKey", key, err)
		}
	}
}

func TestValidateSegment(t *testing.T) {
	if err := ValidateSegment("box 1"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	for _, seg := range []string{"", ".", "..", "a/b", `a\b`} {
		if err := ValidateSegment(seg); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("ValidateSegment(%q) = %v", seg, err)
		}
	}
}
