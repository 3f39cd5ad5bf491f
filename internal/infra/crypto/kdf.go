package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 1         // sequential: deterministic performance across machines
)

// DeriveKey stretches the master secret into a 256-bit key with Argon2id.
// The salt is SHA-256 of the key id, so distinct ids never collide on derived
// material and any key is reproducible from its id plus the master secret of
// its generation.
func DeriveKey(masterSecret []byte, keyID string) []byte {
	salt := sha256.Sum256([]byte(keyID))
	return argon2.IDKey(masterSecret, salt[:], argonTime, argonMemory, argonThreads, KeyLen)
}

// HashSecret returns SHA-256 of the secret for verification storage. Never
// used to derive encryption keys.
func HashSecret(secret []byte) []byte {
	h := sha256.Sum256(secret)
	return h[:]
}
