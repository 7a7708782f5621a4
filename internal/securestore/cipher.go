package securestore

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// cipher obfuscates values with a repeating XOR pad derived from the
// deployment secret and client fingerprint.
//
// XOR with a static pad is reversible by anyone who holds the configuration.
// That is the intended contract: the pad keeps values from being readable in
// a casual dump of the database, nothing more.
type cipher struct {
	pad []byte
}

// newCipher derives the XOR pad from the secret and fingerprint.
// The pad is the SHA-256 digest of "secret:fingerprint", giving a stable
// 32-byte pad for any input lengths.
func newCipher(secret, fingerprint string) *cipher {
	sum := sha256.Sum256([]byte(secret + ":" + fingerprint))
	return &cipher{pad: sum[:]}
}

// encode obfuscates plaintext and wraps it in base64 for TEXT column storage.
func (c *cipher) encode(plain string) string {
	buf := []byte(plain)
	for i := range buf {
		buf[i] ^= c.pad[i%len(c.pad)]
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// decode reverses encode. It fails on malformed base64; XOR itself cannot
// fail, so any valid base64 decodes to something (possibly garbage if the
// pad changed between writes).
func (c *cipher) decode(encoded string) (string, error) {
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding stored value: %w", err)
	}
	for i := range buf {
		buf[i] ^= c.pad[i%len(c.pad)]
	}
	return string(buf), nil
}
