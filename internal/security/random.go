package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

const (
	lowercase = "abcdefghijkmnopqrstuvwxyz"
	uppercase = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digits    = "23456789"
	symbols   = "!@#$%^&*-_=+?"

	MinTempPasswordLength = 12
)

// GenerateTempPassword returns a password of at least MinTempPasswordLength
// characters containing lowercase, uppercase, digit and symbol characters.
// Visually ambiguous characters (l, I, O, 0, 1) are excluded.
func GenerateTempPassword(length int) (string, error) {
	if length < MinTempPasswordLength {
		length = MinTempPasswordLength
	}

	classes := []string{lowercase, uppercase, digits, symbols}
	buf := make([]byte, 0, length)
	for _, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}

	all := strings.Join(classes, "")
	for len(buf) < length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}

	// Fisher-Yates so the guaranteed classes are not always at the front.
	for i := len(buf) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("failed to shuffle password: %w", err)
		}
		j := n.Int64()
		buf[i], buf[j] = buf[j], buf[i]
	}

	return string(buf), nil
}

// GenerateToken returns a URL-safe random token encoding n random bytes.
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func randomChar(charset string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random index: %w", err)
	}
	return charset[n.Int64()], nil
}
