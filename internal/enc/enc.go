// Package enc provides the byte-level encoding and hashing primitives the
// rest of the credential engine is built on: URL-safe base64 and fixed-size
// blake2b digests, keyed and unkeyed.
package enc

import (
	"fmt"

	"encoding/base64"

	"golang.org/x/crypto/blake2b"

	"vouch/pkg/domerr"
)

// HashSize is the digest size of both hash variants.
const HashSize = 32

// Show encodes bytes as unpadded URL-safe base64, the canonical string form
// for keys, signatures, and digests on the wire.
func Show(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Read decodes a string produced by Show.
func Read(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeDecode, "not url-safe base64", err)
	}
	return b, nil
}

// MustRead decodes pre-validated input. It panics on malformed input and
// must only be used on strings this process produced itself.
func MustRead(s string) []byte {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("enc: MustRead on invalid input: %v", err))
	}
	return b
}

// Hasher computes keyed digests under a long-lived secret salt. The salt is
// sourced from process-wide configuration, loaded once at startup.
type Hasher struct {
	salt []byte
}

// NewHasher validates the salt and returns a keyed hasher. blake2b accepts
// keys up to 64 bytes.
func NewHasher(salt []byte) (*Hasher, error) {
	if len(salt) == 0 {
		return nil, domerr.New(domerr.CodeInvalidInput, "hash salt must not be empty")
	}
	if _, err := blake2b.New256(salt); err != nil {
		return nil, domerr.Wrap(domerr.CodeInvalidInput, "unusable hash salt", err)
	}
	return &Hasher{salt: salt}, nil
}

// SaltedHash returns the keyed 32-byte digest of b, base64url encoded.
func (h *Hasher) SaltedHash(b []byte) string {
	mac, err := blake2b.New256(h.salt)
	if err != nil {
		// Salt was validated in NewHasher.
		panic(fmt.Sprintf("enc: keyed hash init: %v", err))
	}
	mac.Write(b)
	return Show(mac.Sum(nil))
}

// BlandHash returns the unkeyed 32-byte digest of b, base64url encoded.
func BlandHash(b []byte) string {
	sum := blake2b.Sum256(b)
	return Show(sum[:])
}
