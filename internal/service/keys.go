package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// keyAlphabet excludes 0/O/1/I so keys survive being read aloud or retyped.
// 32 characters, so a random byte mod 32 is unbiased.
const keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	keyGroups    = 5
	keyGroupLen  = 5
	keyMaxRetry  = 5
	keySuffixLen = 2
)

// randomKey returns one candidate key: five hyphen-joined groups of five
// characters from the key alphabet.
func randomKey() (string, error) {
	raw := make([]byte, keyGroups*keyGroupLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate license key: %w", err)
	}
	var b strings.Builder
	b.Grow(keyGroups*keyGroupLen + keyGroups - 1)
	for i, c := range raw {
		if i > 0 && i%keyGroupLen == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(keyAlphabet[c%32])
	}
	return b.String(), nil
}

// keyExistsFunc reports whether a candidate key is already issued.
type keyExistsFunc func(ctx context.Context, key string) (bool, error)

// generateKey produces a key unused within its app. After keyMaxRetry
// collisions it disambiguates the last candidate with a random hex suffix
// instead of looping forever.
func generateKey(ctx context.Context, exists keyExistsFunc) (string, error) {
	var key string
	for i := 0; i < keyMaxRetry; i++ {
		k, err := randomKey()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, k)
		if err != nil {
			return "", err
		}
		if !taken {
			return k, nil
		}
		key = k
	}

	suffix := make([]byte, keySuffixLen)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generate key suffix: %w", err)
	}
	return key + "-" + strings.ToUpper(hex.EncodeToString(suffix)), nil
}
