// Package keys implements the deterministic key-derivation hierarchy:
// passphrase -> main key (with a reproducibility slip), main key ->
// per-purpose Ed25519 signing keypairs.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"

	"vouch/pkg/domerr"
)

const (
	// MainKeySize is the fixed output size of the password hash.
	MainKeySize = 32
	// SaltSize is the fixed salt length fed to argon2id.
	SaltSize = 16

	// argon2id lane count is pinned so derivation stays reproducible across
	// machines regardless of core count.
	derivationThreads = 1

	// signingContext namespaces signing sub-keys away from any future
	// derivation purpose sharing the same main key.
	signingContext = "vouch/signing/v1"
)

// Params are argon2id cost parameters. Memory is in KiB.
type Params struct {
	Ops      uint32
	Memory   uint32
	SaltSize int
}

// Cost tiers. ParamsModerate is the production default; ParamsSensitive is
// for keys guarding long-lived material.
//
// Weaker parameters exist only inside test harnesses. Wiring them into a
// production path silently destroys the brute-force resistance of every
// derived key; treat any non-tier Params literal in non-test code as a bug.
var (
	ParamsModerate  = Params{Ops: 3, Memory: 64 * 1024, SaltSize: SaltSize}
	ParamsSensitive = Params{Ops: 4, Memory: 256 * 1024, SaltSize: SaltSize}
)

// MainKey is the fixed-size secret derived from a passphrase. It is never
// persisted; it exists only long enough to derive keypairs.
type MainKey []byte

// Zero overwrites the key material. Callers should defer this as soon as the
// derived keypairs are in hand.
func (k MainKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// Slip carries everything except the passphrase needed to reproduce a main
// key: the cost parameters and the random salt. It is safe to persist.
type Slip struct {
	Ops    uint32 `json:"ops"`
	Memory uint32 `json:"mem"`
	Salt   []byte `json:"salt"`
}

// KeyPair is an Ed25519 signing keypair. Secret is excluded from JSON so the
// public-only variant is the serialized default.
type KeyPair struct {
	Public []byte `json:"public"`
	Secret []byte `json:"-"`
}

// PublicOnly returns a transport-safe copy with the secret withheld.
func (kp KeyPair) PublicOnly() KeyPair {
	return KeyPair{Public: kp.Public}
}

// InitMainKey draws a fresh random salt and derives a main key from the
// passphrase under the given cost parameters. The returned slip, together
// with the same passphrase, reproduces the exact key.
func InitMainKey(passphrase []byte, p Params) (MainKey, Slip, error) {
	if err := validateParams(p); err != nil {
		return nil, Slip{}, err
	}
	if len(passphrase) == 0 {
		return nil, Slip{}, domerr.New(domerr.CodeInvalidInput, "passphrase must not be empty")
	}
	salt := make([]byte, p.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, Slip{}, fmt.Errorf("generate salt: %w", err)
	}
	slip := Slip{Ops: p.Ops, Memory: p.Memory, Salt: salt}
	key, err := ReproduceMainKey(passphrase, slip)
	if err != nil {
		return nil, Slip{}, err
	}
	return key, slip, nil
}

// ReproduceMainKey deterministically recomputes the main key from a
// passphrase and a previously issued slip. Identical inputs always produce
// identical output.
func ReproduceMainKey(passphrase []byte, slip Slip) (MainKey, error) {
	if len(passphrase) == 0 {
		return nil, domerr.New(domerr.CodeInvalidInput, "passphrase must not be empty")
	}
	if slip.Ops < 1 {
		return nil, domerr.New(domerr.CodeInvalidInput, "slip ops must be at least 1")
	}
	if slip.Memory < 8*derivationThreads {
		return nil, domerr.New(domerr.CodeInvalidInput, "slip memory below argon2id minimum")
	}
	if len(slip.Salt) == 0 {
		return nil, domerr.New(domerr.CodeInvalidInput, "slip salt must not be empty")
	}
	key := argon2.IDKey(passphrase, slip.Salt, slip.Ops, slip.Memory, derivationThreads, MainKeySize)
	return MainKey(key), nil
}

// DeriveSigningKeyPair expands the main key into the Ed25519 keypair for one
// purpose index. The sub-key is a keyed blake2b digest over a fixed context
// label and the index, so distinct indices are independent namespaces.
func DeriveSigningKeyPair(mainKey MainKey, index uint64) (KeyPair, error) {
	if len(mainKey) != MainKeySize {
		return KeyPair{}, domerr.Newf(domerr.CodeInvalidInput, "main key must be %d bytes", MainKeySize)
	}
	kdf, err := blake2b.New256(mainKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("init sub-key derivation: %w", err)
	}
	kdf.Write([]byte(signingContext))
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], index)
	kdf.Write(idx[:])
	seed := kdf.Sum(nil)

	secret := ed25519.NewKeyFromSeed(seed)
	public := secret.Public().(ed25519.PublicKey)
	return KeyPair{Public: public, Secret: secret}, nil
}

// KeyPairFromSeed expands a stored 32-byte seed into a keypair. Used for the
// server's own long-lived issuer key, whose seed lives in configuration.
func KeyPairFromSeed(seed []byte) (KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return KeyPair{}, domerr.Newf(domerr.CodeInvalidInput, "seed must be %d bytes", ed25519.SeedSize)
	}
	secret := ed25519.NewKeyFromSeed(seed)
	return KeyPair{Public: secret.Public().(ed25519.PublicKey), Secret: secret}, nil
}

func validateParams(p Params) error {
	if p.Ops < 1 {
		return domerr.New(domerr.CodeInvalidInput, "ops must be at least 1")
	}
	if p.Memory < 8*derivationThreads {
		return domerr.New(domerr.CodeInvalidInput, "memory below argon2id minimum")
	}
	if p.SaltSize != SaltSize {
		return domerr.Newf(domerr.CodeInvalidInput, "salt size must be %d bytes", SaltSize)
	}
	return nil
}
