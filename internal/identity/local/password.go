package local

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters, per current OWASP guidance. Stored hashes
// carry their own parameters, so these only govern new hashes and can
// be raised without invalidating existing credentials.
const (
	hashIterations = 3
	hashMemoryKiB  = 64 * 1024
	hashThreads    = 1
	hashLen        = 32
	saltLen        = 16
)

// HashPassword derives an Argon2id hash of password over a fresh random
// salt and encodes it in PHC form:
//
//	$argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, hashIterations, hashMemoryKiB, hashThreads, hashLen)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, hashMemoryKiB, hashIterations, hashThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
	return encoded, nil
}

// VerifyPassword re-derives the hash under the parameters embedded in
// the PHC string and compares in constant time.
func VerifyPassword(password, encoded string) (bool, error) {
	salt, want, iterations, memoryKiB, threads, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	got := argon2.IDKey([]byte(password), salt, iterations, memoryKiB, threads, uint32(len(want))) //nolint:gosec // hash length fits uint32
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// decodePHC unpacks a $argon2id$ PHC string.
func decodePHC(encoded string) (salt, hash []byte, iterations, memoryKiB uint32, threads uint8, err error) {
	fail := func(e error) ([]byte, []byte, uint32, uint32, uint8, error) {
		return nil, nil, 0, 0, 0, e
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return fail(fmt.Errorf("malformed password hash"))
	}
	if parts[1] != "argon2id" {
		return fail(fmt.Errorf("unsupported hash algorithm %q", parts[1]))
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return fail(fmt.Errorf("parsing hash version: %w", err))
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memoryKiB, &iterations, &threads); err != nil {
		return fail(fmt.Errorf("parsing hash parameters: %w", err))
	}

	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return fail(fmt.Errorf("decoding salt: %w", err))
	}
	if hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return fail(fmt.Errorf("decoding hash: %w", err))
	}

	return salt, hash, iterations, memoryKiB, threads, nil
}
