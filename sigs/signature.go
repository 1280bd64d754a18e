package sigs

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/stegodon/apperror"
	"github.com/deemkeen/stegodon/domain"
)

const defaultMaxAge = time.Hour
const defaultSkew = 5 * time.Minute

// buildSignatureBase constructs the RFC 9421 signature base: one line per
// covered component in order, "<identifier>": <value>, followed by the
// final "@signature-params" line, whose value is the covered-components
// list plus the formatted parameters (the same text Signature-Input carries).
func buildSignatureBase(req *http.Request, components []Component, params Params) (string, error) {
	var b strings.Builder
	for _, c := range components {
		value, err := componentValue(req, c)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%q: %s\n", string(c), value)
	}
	sigParams := componentList(components)
	if p := params.format(); p != "" {
		sigParams += ";" + p
	}
	fmt.Fprintf(&b, "%q: %s", "@signature-params", sigParams)
	return b.String(), nil
}

func componentList(components []Component) string {
	quoted := make([]string, len(components))
	for i, c := range components {
		quoted[i] = fmt.Sprintf("%q", string(c))
	}
	return "(" + strings.Join(quoted, " ") + ")"
}

// SignConfig carries everything needed to sign one outgoing request.
type SignConfig struct {
	KeyID      string
	Algorithm  domain.Algorithm
	PrivateKey any // *rsa.PrivateKey, *ecdsa.PrivateKey, or ed25519.PrivateKey
	Components []Component
	Created    time.Time
	Expires    time.Time
	Body       []byte // optional; when set, Content-Digest and Digest headers are attached
}

// Sign computes Content-Digest/Digest (when a body is present) and attaches
// Signature-Input and Signature headers to req.
func Sign(req *http.Request, cfg SignConfig) error {
	components := cfg.Components
	if len(components) == 0 {
		components = []Component{CompMethod, CompTargetURI, CompAuthority}
	}
	if cfg.Body != nil {
		sum := sha256.Sum256(cfg.Body)
		digestB64 := base64.StdEncoding.EncodeToString(sum[:])
		req.Header.Set("Content-Digest", fmt.Sprintf("sha-256=:%s:", digestB64))
		req.Header.Set("Digest", fmt.Sprintf("SHA-256=%s", digestB64))
		hasDigest := false
		for _, c := range components {
			if strings.EqualFold(string(c), "content-digest") {
				hasDigest = true
			}
		}
		if !hasDigest {
			components = append(components, Component("content-digest"))
		}
	}

	created := cfg.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}
	params := Params{
		Created:   created,
		Expires:   cfg.Expires,
		KeyID:     cfg.KeyID,
		Algorithm: cfg.Algorithm,
	}

	base, err := buildSignatureBase(req, components, params)
	if err != nil {
		return fmt.Errorf("build signature base: %w", err)
	}

	sig, err := signBytes(cfg.Algorithm, cfg.PrivateKey, []byte(base))
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	req.Header.Set("Signature-Input", fmt.Sprintf("sig1=%s;%s", componentList(components), params.format()))
	req.Header.Set("Signature", fmt.Sprintf("sig1=:%s:", base64.StdEncoding.EncodeToString(sig)))
	return nil
}

// VerifyConfig carries the server-side verification policy.
type VerifyConfig struct {
	PublicKeyPem    string
	Algorithm       domain.Algorithm
	RequiredComps   []Component
	MaxAge          time.Duration // defaults to 1h
	Skew            time.Duration // defaults to 5m
	ExpectedKeyID   string
	VerifyBodyHash  bool
}

// ExtractKeyID parses the key id a request's Signature-Input header claims,
// without verifying the signature itself. A caller resolves this id to a
// public key first and only then calls Verify with it, matching RFC 9421's
// verifier-resolves-keyid model rather than trusting a body field for which
// key to check against.
func ExtractKeyID(req *http.Request) (string, error) {
	sigInput := req.Header.Get("Signature-Input")
	if sigInput == "" {
		return "", apperror.New(apperror.SignatureMissing, "Signature-Input header absent")
	}
	_, inputValue, err := splitLabelled(sigInput, "sig1")
	if err != nil {
		return "", apperror.Wrap(apperror.SignatureInvalid, "parse Signature-Input", err)
	}
	_, params, err := parseSignatureInput(inputValue)
	if err != nil {
		return "", apperror.Wrap(apperror.SignatureInvalid, "parse covered components", err)
	}
	if params.KeyID == "" {
		return "", apperror.New(apperror.SignatureInvalid, "Signature-Input missing keyid parameter")
	}
	return params.KeyID, nil
}

// Verify validates the Signature-Input/Signature headers on req against
// the configured policy and key, checks replay via nonces, and returns the
// key_id the signature claims. body is the already-drained request body
// (the caller typically reads it once for JSON parsing too); pass nil for
// requests with no body. Failures are returned as *apperror.Error with a
// Kind describing why the signature was rejected.
func Verify(req *http.Request, body []byte, cfg VerifyConfig, nonces *NonceCache) (string, error) {
	sigInput := req.Header.Get("Signature-Input")
	sigHeader := req.Header.Get("Signature")
	if sigInput == "" || sigHeader == "" {
		return "", apperror.New(apperror.SignatureMissing, "Signature-Input or Signature header absent")
	}

	label, inputValue, err := splitLabelled(sigInput, "sig1")
	if err != nil {
		return "", apperror.Wrap(apperror.SignatureInvalid, "parse Signature-Input", err)
	}
	_ = label

	components, params, err := parseSignatureInput(inputValue)
	if err != nil {
		return "", apperror.Wrap(apperror.SignatureInvalid, "parse covered components", err)
	}

	_, sigValue, err := splitLabelled(sigHeader, "sig1")
	if err != nil {
		return "", apperror.Wrap(apperror.SignatureInvalid, "parse Signature header", err)
	}
	sigB64 := strings.Trim(sigValue, ":")
	sigBytes, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return "", apperror.Wrap(apperror.SignatureInvalid, "decode signature", err)
	}

	if cfg.ExpectedKeyID != "" && params.KeyID != cfg.ExpectedKeyID {
		return "", apperror.New(apperror.SignatureInvalid, "key_id does not match claimed actor")
	}
	if cfg.Algorithm != "" && params.Algorithm != "" && params.Algorithm != cfg.Algorithm {
		return "", apperror.New(apperror.SignatureInvalid, "signature algorithm mismatch")
	}

	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = defaultMaxAge
	}
	skew := cfg.Skew
	if skew == 0 {
		skew = defaultSkew
	}
	now := time.Now().UTC()
	if params.hasCreated() {
		if params.Created.After(now.Add(skew)) {
			return "", apperror.New(apperror.SignatureExpired, "signature created in the future")
		}
		if now.Sub(params.Created) > maxAge {
			return "", apperror.New(apperror.SignatureExpired, "signature exceeds max age")
		}
	}
	if params.hasExpires() && now.After(params.Expires) {
		return "", apperror.New(apperror.SignatureExpired, "signature expired")
	}

	for _, required := range cfg.RequiredComps {
		found := false
		for _, c := range components {
			if c == required {
				found = true
				break
			}
		}
		if !found {
			return "", apperror.New(apperror.SignatureInvalid, fmt.Sprintf("required component not covered: %s", required))
		}
	}

	base, err := buildSignatureBase(req, components, params)
	if err != nil {
		return "", apperror.Wrap(apperror.SignatureInvalid, "reconstruct signature base", err)
	}

	pub, err := ParsePublicKey(cfg.PublicKeyPem)
	if err != nil {
		return "", apperror.Wrap(apperror.SignatureInvalid, "parse public key", err)
	}

	alg := params.Algorithm
	if alg == "" {
		alg = cfg.Algorithm
	}
	if err := verifyBytes(alg, pub, []byte(base), sigBytes); err != nil {
		return "", apperror.Wrap(apperror.SignatureInvalid, "signature verification failed", err)
	}

	if cfg.VerifyBodyHash {
		if err := verifyContentDigest(req, body); err != nil {
			return "", apperror.Wrap(apperror.SignatureInvalid, "content digest mismatch", err)
		}
	}

	if nonces != nil {
		if !nonces.CheckAndRecord(params.KeyID, sigB64, maxAge+skew) {
			return "", apperror.New(apperror.SignatureReplay, "signature already seen")
		}
	}

	return params.KeyID, nil
}

// splitLabelled extracts the value assigned to `label=` inside a
// Dictionary-style structured-field header such as `sig1=(...)...` or
// `sig1=:base64:`.
func splitLabelled(header, label string) (string, string, error) {
	prefix := label + "="
	idx := strings.Index(header, prefix)
	if idx < 0 {
		return "", "", fmt.Errorf("label %q not found", label)
	}
	return label, strings.TrimSpace(header[idx+len(prefix):]), nil
}

// verifyContentDigest recomputes the SHA-256 digest of the actual body
// bytes that arrived and checks it against the sha-256 member of the
// Content-Digest structured field. The signature base only ever commits
// to the header's literal text, so without this step a peer could swap
// the body after signing and keep the original header untouched.
func verifyContentDigest(req *http.Request, body []byte) error {
	digestHeader := req.Header.Get("Content-Digest")
	if digestHeader == "" {
		return fmt.Errorf("Content-Digest header absent")
	}
	claimed, ok := extractSha256Digest(digestHeader)
	if !ok {
		return fmt.Errorf("Content-Digest has no sha-256 member")
	}
	sum := sha256.Sum256(body)
	actual := base64.StdEncoding.EncodeToString(sum[:])
	if claimed != actual {
		return fmt.Errorf("sha-256 digest mismatch")
	}
	return nil
}

// extractSha256Digest pulls the base64 value out of a structured-field
// Content-Digest header such as `sha-256=:<base64>:`, tolerating the
// presence of other algorithm members in the same dictionary.
func extractSha256Digest(header string) (string, bool) {
	for _, member := range strings.Split(header, ",") {
		member = strings.TrimSpace(member)
		if !strings.HasPrefix(member, "sha-256=:") {
			continue
		}
		value := strings.TrimPrefix(member, "sha-256=:")
		value = strings.TrimSuffix(value, ":")
		return value, true
	}
	return "", false
}

func signBytes(alg domain.Algorithm, key any, data []byte) ([]byte, error) {
	switch alg {
	case domain.RsaSha256:
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("expected *rsa.PrivateKey for %s", alg)
		}
		sum := sha256.Sum256(data)
		return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, sum[:])
	case domain.RsaPssSha512:
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("expected *rsa.PrivateKey for %s", alg)
		}
		sum := sha512.Sum512(data)
		return rsa.SignPSS(rand.Reader, priv, crypto.SHA512, sum[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	case domain.EcdsaP256Sha256:
		priv, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("expected *ecdsa.PrivateKey for %s", alg)
		}
		sum := sha256.Sum256(data)
		return ecdsa.SignASN1(rand.Reader, priv, sum[:])
	case domain.Ed25519:
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("expected ed25519.PrivateKey for %s", alg)
		}
		return ed25519.Sign(priv, data), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", alg)
	}
}

func verifyBytes(alg domain.Algorithm, key any, data, sig []byte) error {
	switch alg {
	case domain.RsaSha256:
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("expected *rsa.PublicKey for %s", alg)
		}
		sum := sha256.Sum256(data)
		return rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], sig)
	case domain.RsaPssSha512:
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("expected *rsa.PublicKey for %s", alg)
		}
		sum := sha512.Sum512(data)
		return rsa.VerifyPSS(pub, crypto.SHA512, sum[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	case domain.EcdsaP256Sha256:
		pub, ok := key.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("expected *ecdsa.PublicKey for %s", alg)
		}
		sum := sha256.Sum256(data)
		if !ecdsa.VerifyASN1(pub, sum[:], sig) {
			return fmt.Errorf("ecdsa signature invalid")
		}
		return nil
	case domain.Ed25519:
		pub, ok := key.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("expected ed25519.PublicKey for %s", alg)
		}
		if !ed25519.Verify(pub, data, sig) {
			return fmt.Errorf("ed25519 signature invalid")
		}
		return nil
	default:
		return fmt.Errorf("unsupported algorithm: %s", alg)
	}
}
