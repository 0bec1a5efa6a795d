package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// GenerateCode returns n random bytes as upper-case hex.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// GenerateSecret returns n random bytes as lower-case hex, the form
// CREDENTIAL_SECRET is read in.
func GenerateSecret(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return hex.EncodeToString(byt), nil
}

// NewTicketID returns a fresh random ticket id.
func NewTicketID() string {
	return uuid.NewString()
}

// NewSessionID identifies one scan session in logs.
func NewSessionID() string {
	code, err := GenerateCode(4)
	if err != nil {
		return "scan-" + uuid.NewString()[:8]
	}
	return "scan-" + code
}
