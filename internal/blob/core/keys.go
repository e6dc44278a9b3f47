package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey is returned for keys that cannot name a blob.
var ErrInvalidKey = errors.New("blobstore: invalid key")

// ValidateKey accepts slash separated keys made of valid segments. Leading or
// doubled slashes produce empty segments and are rejected.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return KeyError{Key: key, Err: fmt.Errorf("%w: empty", ErrInvalidKey)}
	}
	for _, seg := range strings.Split(key, "/") {
		if err := ValidateSegment(seg); err != nil {
			return KeyError{Key: key, Err: err}
		}
	}
	return nil
}

// ValidateSegment checks a single key element such as a box name.
func ValidateSegment(seg string) error {
	switch {
	case seg == "":
		return fmt.Errorf("%w: empty segment", ErrInvalidKey)
	case seg == "." || seg == "..":
		return fmt.Errorf("%w: relative segment %q", ErrInvalidKey, seg)
	case strings.ContainsAny(seg, `/\`):
		return fmt.Errorf("%w: separator in segment %q", ErrInvalidKey, seg)
	}
	return nil
}
