package sigs

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/deemkeen/stegodon/domain"
)

// GenerateKeyPair creates a fresh key pair for the given algorithm and
// returns it PEM-encoded (PKCS#8 private key, PKIX public key).
func GenerateKeyPair(alg domain.Algorithm) (privPem, pubPem string, err error) {
	var priv, pub any

	switch alg {
	case domain.RsaSha256, domain.RsaPssSha512:
		k, genErr := rsa.GenerateKey(rand.Reader, 2048)
		if genErr != nil {
			return "", "", fmt.Errorf("generate rsa key: %w", genErr)
		}
		priv, pub = k, &k.PublicKey
	case domain.EcdsaP256Sha256:
		k, genErr := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if genErr != nil {
			return "", "", fmt.Errorf("generate ecdsa key: %w", genErr)
		}
		priv, pub = k, &k.PublicKey
	case domain.Ed25519:
		pubKey, privKey, genErr := ed25519.GenerateKey(rand.Reader)
		if genErr != nil {
			return "", "", fmt.Errorf("generate ed25519 key: %w", genErr)
		}
		priv, pub = privKey, pubKey
	default:
		return "", "", fmt.Errorf("unsupported algorithm: %s", alg)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", fmt.Errorf("marshal private key: %w", err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", fmt.Errorf("marshal public key: %w", err)
	}

	privPem = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}))
	pubPem = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}))
	return privPem, pubPem, nil
}

// ParsePrivateKey decodes a PEM-encoded PKCS#8 private key into the
// concrete key type Sign expects: *rsa.PrivateKey, *ecdsa.PrivateKey, or
// ed25519.PrivateKey.
func ParsePrivateKey(pemStr string) (any, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		if rsaKey, rsaErr := x509.ParsePKCS1PrivateKey(block.Bytes); rsaErr == nil {
			return rsaKey, nil
		}
		return nil, fmt.Errorf("parse PKCS#8 private key: %w", err)
	}
	return key, nil
}

// ParsePublicKey decodes a PEM-encoded PKIX public key into the concrete
// key type Verify expects: *rsa.PublicKey, *ecdsa.PublicKey, or
// ed25519.PublicKey.
func ParsePublicKey(pemStr string) (any, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKIX public key: %w", err)
	}
	return key, nil
}
