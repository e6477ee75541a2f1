package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// SignHex returns the hex encoded HMAC-SHA256 of payload under secret.
func SignHex(payload []byte, secret string) string {
	return hex.EncodeToString(sum(payload, secret))
}

// SignBase64 returns the standard base64 encoded HMAC-SHA256 of payload under secret.
func SignBase64(payload []byte, secret string) string {
	return base64.StdEncoding.EncodeToString(sum(payload, secret))
}

// VerifyHex compares signature against the expected hex HMAC in constant time.
func VerifyHex(payload []byte, signature, secret string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	expected := SignHex(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// VerifyBase64 compares signature against the expected base64 HMAC in constant time.
func VerifyBase64(payload []byte, signature, secret string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	expected := SignBase64(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// IdempotencyKey derives a deterministic one-way key from the defining fields
// of an operation. Values are joined with "-" before hashing.
func IdempotencyKey(values ...string) string {
	digest := sha256.Sum256([]byte(strings.Join(values, "-")))
	return hex.EncodeToString(digest[:])
}

// RandomHex returns n random bytes hex encoded.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// MaskSensitive keeps the first and last three characters of value.
func MaskSensitive(value string) string {
	if len(value) < 8 {
		return "***"
	}
	return value[:3] + "***" + value[len(value)-3:]
}

func sum(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}
