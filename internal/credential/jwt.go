package credential

import (
	"crypto/ed25519"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"vouch/internal/keys"
	"vouch/pkg/domerr"
)

// EncodeJWT renders a signed credential as an EdDSA JWT for transports that
// prefer compact tokens over the JSON document. The full signed document
// rides in the "vc" claim; the embedded proof stays intact, so the JWT is an
// envelope, not a substitute signature scheme.
func EncodeJWT(rec Record, signer keys.KeyPair) (string, error) {
	if len(signer.Secret) != ed25519.PrivateKeySize {
		return "", domerr.New(domerr.CodeInvalidInput, "signer secret key has wrong size")
	}
	claims := jwt.MapClaims{
		"iss": rec.Issuer,
		"sub": rec.Subject,
		"jti": rec.URN(),
		"iat": jwt.NewNumericDate(rec.IssuedAt),
		"vc":  rec.Claims,
	}
	if rec.ValidUntil != nil {
		claims["exp"] = jwt.NewNumericDate(*rec.ValidUntil)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(ed25519.PrivateKey(signer.Secret))
	if err != nil {
		return "", domerr.Wrap(domerr.CodeSignatureInvalid, "sign credential JWT", err)
	}
	return signed, nil
}

// DecodeJWT validates an EdDSA credential JWT against the issuer's public
// key and returns the embedded signed document.
func DecodeJWT(tokenString string, issuerKey []byte) (map[string]any, error) {
	if len(issuerKey) != ed25519.PublicKeySize {
		return nil, domerr.New(domerr.CodeInvalidInput, "issuer public key has wrong size")
	}
	parsed, err := jwt.Parse(tokenString,
		func(*jwt.Token) (any, error) { return ed25519.PublicKey(issuerKey), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domerr.Wrap(domerr.CodeExpired, "credential JWT expired", err)
		}
		return nil, domerr.Wrap(domerr.CodeSignatureInvalid, "invalid credential JWT", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domerr.New(domerr.CodeDecode, "unexpected JWT claims shape")
	}
	doc, ok := claims["vc"].(map[string]any)
	if !ok {
		return nil, domerr.New(domerr.CodeDecode, "JWT carries no vc claim")
	}
	return doc, nil
}
