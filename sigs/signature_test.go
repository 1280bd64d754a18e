package sigs

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/deemkeen/stegodon/apperror"
	"github.com/deemkeen/stegodon/domain"
)

func newSignedRequest(t *testing.T, alg domain.Algorithm, privPem string, body []byte) *http.Request {
	t.Helper()
	priv, err := ParsePrivateKey(privPem)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}

	req, err := http.NewRequest("POST", "https://example.social/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Host = "example.social"

	cfg := SignConfig{
		KeyID:      "https://origin.example/actors/alice#main-key",
		Algorithm:  alg,
		PrivateKey: priv,
		Components: []Component{CompMethod, CompTargetURI, CompAuthority},
		Body:       body,
	}
	if err := Sign(req, cfg); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return req
}

func TestSignAndVerifyRoundtrip(t *testing.T) {
	tests := []struct {
		name string
		alg  domain.Algorithm
	}{
		{"rsa-sha256", domain.RsaSha256},
		{"rsa-pss-sha512", domain.RsaPssSha512},
		{"ecdsa-p256", domain.EcdsaP256Sha256},
		{"ed25519", domain.Ed25519},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			privPem, pubPem, err := GenerateKeyPair(tt.alg)
			if err != nil {
				t.Fatalf("GenerateKeyPair: %v", err)
			}

			body := []byte(`{"type":"Follow"}`)
			req := newSignedRequest(t, tt.alg, privPem, body)

			keyID, err := Verify(req, body, VerifyConfig{
				PublicKeyPem: pubPem,
				Algorithm:    tt.alg,
			}, NewNonceCache())
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if keyID != "https://origin.example/actors/alice#main-key" {
				t.Errorf("keyID = %q, want origin key id", keyID)
			}
		})
	}
}

func TestVerifyRejectsTamperedTarget(t *testing.T) {
	privPem, pubPem, err := GenerateKeyPair(domain.Ed25519)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	body := []byte(`{"type":"Like"}`)
	req := newSignedRequest(t, domain.Ed25519, privPem, body)
	req.URL.Path = "/tampered"

	if _, err := Verify(req, body, VerifyConfig{PublicKeyPem: pubPem, Algorithm: domain.Ed25519}, NewNonceCache()); err == nil {
		t.Fatal("expected verification failure after tampering with request target")
	}
}

func TestVerifyRejectsTamperedBodyWithDigestCovered(t *testing.T) {
	privPem, pubPem, err := GenerateKeyPair(domain.Ed25519)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	body := []byte(`{"type":"Like"}`)
	req := newSignedRequest(t, domain.Ed25519, privPem, body)

	tampered := []byte(`{"type":"Delete"}`)
	_, err = Verify(req, tampered, VerifyConfig{
		PublicKeyPem:   pubPem,
		Algorithm:      domain.Ed25519,
		VerifyBodyHash: true,
	}, NewNonceCache())
	if apperror.KindOf(err) != apperror.SignatureInvalid {
		t.Fatalf("KindOf(err) = %v, want SignatureInvalid for altered body", apperror.KindOf(err))
	}
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	req, _ := http.NewRequest("POST", "https://example.social/inbox", nil)
	_, err := Verify(req, nil, VerifyConfig{}, NewNonceCache())
	if apperror.KindOf(err) != apperror.SignatureMissing {
		t.Fatalf("KindOf(err) = %v, want SignatureMissing", apperror.KindOf(err))
	}
}

func TestVerifyRejectsExpiredSignature(t *testing.T) {
	privPem, pubPem, err := GenerateKeyPair(domain.Ed25519)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	priv, err := ParsePrivateKey(privPem)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}

	req, _ := http.NewRequest("POST", "https://example.social/inbox", nil)
	req.Host = "example.social"
	cfg := SignConfig{
		KeyID:      "https://origin.example/actors/alice#main-key",
		Algorithm:  domain.Ed25519,
		PrivateKey: priv,
		Components: []Component{CompMethod, CompTargetURI, CompAuthority},
		Created:    time.Now().Add(-2 * time.Hour),
	}
	if err := Sign(req, cfg); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	_, err = Verify(req, nil, VerifyConfig{PublicKeyPem: pubPem, Algorithm: domain.Ed25519}, NewNonceCache())
	if apperror.KindOf(err) != apperror.SignatureExpired {
		t.Fatalf("KindOf(err) = %v, want SignatureExpired", apperror.KindOf(err))
	}
}

func TestVerifyRejectsReplay(t *testing.T) {
	privPem, pubPem, err := GenerateKeyPair(domain.Ed25519)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	req := newSignedRequest(t, domain.Ed25519, privPem, nil)
	cache := NewNonceCache()

	if _, err := Verify(req, nil, VerifyConfig{PublicKeyPem: pubPem, Algorithm: domain.Ed25519}, cache); err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	_, err = Verify(req, nil, VerifyConfig{PublicKeyPem: pubPem, Algorithm: domain.Ed25519}, cache)
	if apperror.KindOf(err) != apperror.SignatureReplay {
		t.Fatalf("KindOf(err) = %v, want SignatureReplay", apperror.KindOf(err))
	}
}

func TestVerifyRequiredComponentsMissing(t *testing.T) {
	privPem, pubPem, err := GenerateKeyPair(domain.Ed25519)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	req := newSignedRequest(t, domain.Ed25519, privPem, nil)
	_, err = Verify(req, nil, VerifyConfig{
		PublicKeyPem:  pubPem,
		Algorithm:     domain.Ed25519,
		RequiredComps: []Component{"content-digest"},
	}, NewNonceCache())
	if apperror.KindOf(err) != apperror.SignatureInvalid {
		t.Fatalf("KindOf(err) = %v, want SignatureInvalid", apperror.KindOf(err))
	}
}
