// Package password provides the shareit.PasswordHasher implementations.
//
// New digests are bcrypt by default. The legacy format is the base64
// encoded SHA-256 of the password, as written by older ShareIT servers; the
// bcrypt hasher still accepts it so imported account tables keep working.
package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"shareit/internal/config"
	"shareit/internal/shareit"
)

// BcryptHasher hashes with bcrypt and verifies both bcrypt and legacy digests.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using cost; 0 selects bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("generating bcrypt digest: %w", err)
	}
	return string(digest), nil
}

func (h *BcryptHasher) Verify(digest, password string) bool {
	if !isBcrypt(digest) {
		return verifySHA256(digest, password)
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// SHA256Hasher writes legacy digests. Only use it when the account table
// must stay readable by older servers.
type SHA256Hasher struct{}

func (SHA256Hasher) Hash(password string) (string, error) {
	return sha256Digest(password), nil
}

func (SHA256Hasher) Verify(digest, password string) bool {
	return verifySHA256(digest, password)
}

func sha256Digest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func verifySHA256(digest, password string) bool {
	return subtle.ConstantTimeCompare([]byte(digest), []byte(sha256Digest(password))) == 1
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") || strings.HasPrefix(digest, "$2b$") || strings.HasPrefix(digest, "$2y$")
}

// NewHasherFromConfig creates a PasswordHasher based on the password config type.
func NewHasherFromConfig(cfg config.PasswordConfig) (shareit.PasswordHasher, error) {
	switch cfg.Type {
	case "bcrypt", "":
		return NewBcryptHasher(cfg.BcryptCost), nil
	case "sha256":
		return SHA256Hasher{}, nil
	default:
		return nil, fmt.Errorf("unknown password hasher type: %s", cfg.Type)
	}
}

var (
	_ shareit.PasswordHasher = (*BcryptHasher)(nil)
	_ shareit.PasswordHasher = SHA256Hasher{}
)
