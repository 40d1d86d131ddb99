package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/finbridge/marketgate/internal/domain/apikey"
)

func generateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func generateRandomString(length int) (string, error) {
	byteLength := (length*3 + 3) / 4
	b, err := generateRandomBytes(byteLength)
	if err != nil {
		return "", err
	}

	str := base64.URLEncoding.EncodeToString(b)
	str = strings.ReplaceAll(str, "-", "")
	str = strings.ReplaceAll(str, "_", "")
	if len(str) > length {
		return str[:length], nil
	}

	return str, nil
}

// GenerateAPIKey mints a raw bearer secret and its storable hash. The raw
// value is returned exactly once; only the hash ever reaches the database.
func GenerateAPIKey() (rawKey string, keyHash string, err error) {
	secret, err := generateRandomString(apikey.KeySecretLength)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key secret: %w", err)
	}

	rawKey = apikey.KeyPrefix + secret
	return rawKey, HashAPIKey(rawKey), nil
}

func HashAPIKey(rawKey string) string {
	hashBytes := sha256.Sum256([]byte(rawKey))
	return fmt.Sprintf("%x", hashBytes)
}
