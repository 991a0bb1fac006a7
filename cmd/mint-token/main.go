// Command mint-token issues operator tokens for the control API, and can
// generate the RSA key pair that signs them.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ETAnderson/pricewatch/internal/api/auth"
)

func main() {
	var (
		subject = flag.String("sub", "operator", "subject (sub) recorded in request logs")
		ttl     = flag.Duration("ttl", 30*time.Minute, "token TTL (e.g. 30m, 2h)")
		envKey  = flag.String("env", "JWT_PRIVATE_KEY_PEM", "env var containing RSA private key PEM")
		genDir  = flag.String("gen-keys", "", "write a new key pair into this directory and exit")
	)
	flag.Parse()

	if *genDir != "" {
		if err := generateKeys(*genDir); err != nil {
			fmt.Fprintf(os.Stderr, "keygen failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	priv, err := auth.ParseRSAPrivateKey(os.Getenv(*envKey))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load private key from %s failed: %v\n", *envKey, err)
		os.Exit(1)
	}

	s, err := auth.SignRS256(priv, *subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(s)
}

func generateKeys(outDir string) error {
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return err
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	privPath := filepath.Join(outDir, "jwt_private.pem")
	pubPath := filepath.Join(outDir, "jwt_public.pem")

	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\nWrote %s\n", privPath, pubPath)
	return nil
}
