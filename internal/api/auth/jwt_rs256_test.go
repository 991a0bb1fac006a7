package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return priv
}

func TestSignAndValidate(t *testing.T) {
	priv := newKey(t)

	tok, err := SignRS256(priv, "ops", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := ParseAndValidateRS256(tok, &priv.PublicKey)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "ops" {
		t.Fatalf("subject = %q", claims.Subject)
	}
}

func TestValidate_Rejections(t *testing.T) {
	priv := newKey(t)
	other := newKey(t)

	tok, _ := SignRS256(priv, "ops", time.Minute)
	if _, err := ParseAndValidateRS256(tok, &other.PublicKey); err == nil {
		t.Fatalf("expected signature error")
	}

	expired, _ := SignRS256(priv, "ops", -time.Hour)
	if _, err := ParseAndValidateRS256(expired, &priv.PublicKey); err == nil {
		t.Fatalf("expected expiry error")
	}

	noSub, _ := SignRS256(priv, "", time.Minute)
	if _, err := ParseAndValidateRS256(noSub, &priv.PublicKey); err == nil {
		t.Fatalf("expected missing subject error")
	}

	if _, err := ParseAndValidateRS256(tok, nil); err == nil {
		t.Fatalf("expected error for nil key")
	}
}

func TestParseRSAKeys_EscapedNewlines(t *testing.T) {
	priv := newKey(t)

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	pub, err := ParseRSAPublicKey(strings.ReplaceAll(pubPEM, "\n", `\n`))
	if err != nil {
		t.Fatalf("parse public: %v", err)
	}
	if pub.N.Cmp(priv.PublicKey.N) != 0 {
		t.Fatalf("parsed public key does not match")
	}

	privPEM := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}))
	got, err := ParseRSAPrivateKey(privPEM)
	if err != nil {
		t.Fatalf("parse private: %v", err)
	}
	if got.N.Cmp(priv.N) != 0 {
		t.Fatalf("parsed private key does not match")
	}

	if _, err := ParseRSAPublicKey("  "); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestSubjectContext(t *testing.T) {
	if got := Subject(context.Background()); got != "" {
		t.Fatalf("expected empty subject, got %q", got)
	}
	ctx := WithSubject(context.Background(), "ops")
	if got := Subject(ctx); got != "ops" {
		t.Fatalf("subject = %q", got)
	}
}
