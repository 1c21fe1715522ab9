package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost  = 10
	bcryptLimit = 72
)

var (
	// ErrEmptyAPIKey is returned when hashing an empty key.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
	// ErrInvalidKeyHash is returned for a configured hash that is not a bcrypt hash.
	ErrInvalidKeyHash = errors.New("invalid bcrypt API key hash")
)

// HashAPIKey returns the bcrypt hash stored in place of an API key.
// Keys longer than bcrypt's 72 byte limit are pre-hashed with SHA-256.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrEmptyAPIKey
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(apiKey), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return string(hash), nil
}

// CompareAPIKeyHash reports whether apiKey matches the bcrypt hash.
// Empty inputs and malformed hashes never match.
func CompareAPIKeyHash(hash, apiKey string) bool {
	if hash == "" || apiKey == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(apiKey)) == nil
}

func bcryptInput(apiKey string) []byte {
	if len(apiKey) > bcryptLimit {
		sum := sha256.Sum256([]byte(apiKey))
		return sum[:]
	}

	return []byte(apiKey)
}

// HashedKeys verifies API keys against a set of bcrypt hashes.
//
// A bcrypt comparison costs tens of milliseconds, and a dispatcher sends every
// shard of a run with the same key, so accepted keys are remembered by their
// SHA-256 digest. Rejected keys are never remembered.
type HashedKeys struct {
	hashes []string

	mu       sync.RWMutex
	accepted map[string]string
}

// NewHashedKeys creates a verifier for the given bcrypt hashes.
func NewHashedKeys(hashes ...string) (*HashedKeys, error) {
	clean := make([]string, 0, len(hashes))

	for i, h := range hashes {
		h = strings.TrimSpace(h)
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("%w: hash %d: %w", ErrInvalidKeyHash, i, err)
		}

		clean = append(clean, h)
	}

	return &HashedKeys{hashes: clean, accepted: make(map[string]string)}, nil
}

// NewPlainKeys hashes the given plaintext keys and returns a verifier for them.
func NewPlainKeys(keys ...string) (*HashedKeys, error) {
	hashes := make([]string, 0, len(keys))

	for _, k := range keys {
		h, err := HashAPIKey(k)
		if err != nil {
			return nil, err
		}

		hashes = append(hashes, h)
	}

	return NewHashedKeys(hashes...)
}

// Len returns the number of configured keys.
func (k *HashedKeys) Len() int {
	return len(k.hashes)
}

// Verify implements KeyVerifier. The caller ID is "key-<n>", n being the
// position of the matching hash, so logs never carry key material.
func (k *HashedKeys) Verify(apiKey string) (string, bool) {
	digest := sha256.Sum256([]byte(apiKey))
	id := hex.EncodeToString(digest[:])

	k.mu.RLock()
	caller, ok := k.accepted[id]
	k.mu.RUnlock()

	if ok {
		return caller, true
	}

	for i, h := range k.hashes {
		if CompareAPIKeyHash(h, apiKey) {
			caller = "key-" + strconv.Itoa(i)

			k.mu.Lock()
			k.accepted[id] = caller
			k.mu.Unlock()

			return caller, true
		}
	}

	return "", false
}
