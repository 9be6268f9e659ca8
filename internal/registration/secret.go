package registration

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"vouch/internal/enc"
	"vouch/pkg/domerr"
)

// GenerateSecret creates the confirmation secret mailed to a registrant:
// 32 random bytes, base64url encoded.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate secret: %w", err)
	}
	return enc.Show(buf), nil
}

// HashSecret creates a bcrypt hash of the secret for storage inside the
// confirmation credential. bcrypt rather than a bare digest so a leaked
// credential does not hand out an offline-crackable target.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", domerr.New(domerr.CodeInvalidInput, "secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", domerr.New(domerr.CodeInvalidInput, "secret is too long")
		}
		return "", fmt.Errorf("could not hash secret: %w", err)
	}
	return string(hashed), nil
}

// VerifySecret checks a presented secret against its bcrypt hash.
func VerifySecret(secret, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return domerr.New(domerr.CodeInvalidInput, "invalid secret")
		}
		return fmt.Errorf("could not verify secret: %w", err)
	}
	return nil
}
