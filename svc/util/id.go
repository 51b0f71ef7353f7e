package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
)

const (
	base62Chars      = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	DefaultSlugLen   = 8
	MinTokenBytes    = 32
	maxSlugLen       = 64
	base62RejectFrom = 256 - 256%len(base62Chars)
)

// GenSlug returns n base62 characters. Bytes >= 248 are discarded so every
// symbol is equally likely.
func GenSlug(n int) (string, error) {
	if n <= 0 || n > maxSlugLen {
		return "", errors.Errorf("slug length %d out of range", n)
	}
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		for _, b := range buf {
			if int(b) >= base62RejectFrom {
				continue
			}
			out = append(out, base62Chars[int(b)%len(base62Chars)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// GenSecretToken returns nBytes of crypto/rand output, hex encoded.
func GenSecretToken(nBytes int) (string, error) {
	if nBytes < MinTokenBytes {
		return "", errors.Errorf("secret token must be at least %d bytes", MinTokenBytes)
	}
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "rand fail")
	}
	return hex.EncodeToString(buf), nil
}

func ValidSlug(s string) bool {
	if len(s) == 0 || len(s) > maxSlugLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}
