package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const Issuer = "pricewatch"

// Claims identify the operator calling the control API.
type Claims struct {
	jwt.RegisteredClaims
}

// ParseRSAPublicKey reads a PEM public key. It accepts a normal multi-line
// PEM or a single-line PEM with \n escapes, as stored in env files.
func ParseRSAPublicKey(raw string) (*rsa.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("public key is empty")
	}
	raw = strings.ReplaceAll(raw, `\n`, "\n")

	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("parse public key pem failed: %w", err)
	}
	return pub, nil
}

// ParseRSAPrivateKey is the signing-side counterpart, PKCS#1 or PKCS#8.
func ParseRSAPrivateKey(raw string) (*rsa.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("private key is empty")
	}
	raw = strings.ReplaceAll(raw, `\n`, "\n")

	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("parse private key pem failed: %w", err)
	}
	return priv, nil
}

func ParseAndValidateRS256(tokenString string, pub *rsa.PublicKey) (*Claims, error) {
	if pub == nil {
		return nil, errors.New("public key is nil")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)

	tok, err := parser.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return pub, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("sub missing")
	}
	return claims, nil
}

// SignRS256 mints an operator token.
func SignRS256(priv *rsa.PrivateKey, subject string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()

	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	return tok.SignedString(priv)
}

type subjectKey struct{}

func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// Subject is the authenticated caller, "" when auth was skipped in dev.
func Subject(ctx context.Context) string {
	v, _ := ctx.Value(subjectKey{}).(string)
	return v
}
