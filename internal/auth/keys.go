package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// GenerateImpersonationKey returns a new key and the sha256 hash stored in
// the grants table. The raw key is shown once to the grantee.
func GenerateImpersonationKey() (string, string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("generate impersonation key: %w", err)
	}
	key := fmt.Sprintf("ik_%s", hex.EncodeToString(bytes))
	return key, HashKey(key), nil
}

// GenerateCredentials returns a fresh account key/secret pair. The secret is
// shown once and stored only as a bcrypt hash.
func GenerateCredentials() (string, string, error) {
	kb := make([]byte, 16)
	if _, err := rand.Read(kb); err != nil {
		return "", "", fmt.Errorf("generate account key: %w", err)
	}
	sb := make([]byte, 32)
	if _, err := rand.Read(sb); err != nil {
		return "", "", fmt.Errorf("generate account secret: %w", err)
	}
	return fmt.Sprintf("pk_%s", hex.EncodeToString(kb)), fmt.Sprintf("sk_%s", hex.EncodeToString(sb)), nil
}

// HashKey hashes an impersonation key for lookup; raw keys are never stored.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
