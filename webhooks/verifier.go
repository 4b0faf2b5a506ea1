package webhooks

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

// SignatureVerifier authenticates a raw webhook body against the signature
// header value. Both providers sign the exact byte payload, so verification
// must happen before any JSON decoding.
type SignatureVerifier interface {
	Verify(body []byte, signature string) error
}

var ErrBadSignature = errors.New("webhook signature verification failed")

type rejectVerifier struct {
	reason string
}

// NewRejectingVerifier refuses every payload. Installed when a provider's
// verification key is missing or malformed so the endpoint fails closed
// instead of accepting unsigned traffic.
func NewRejectingVerifier(reason string) SignatureVerifier {
	return &rejectVerifier{reason: reason}
}

func (v *rejectVerifier) Verify([]byte, string) error {
	return errors.New(v.reason)
}

type hmacVerifier struct {
	secret []byte
}

// NewHMACVerifier verifies hex-encoded HMAC-SHA256 signatures, the scheme
// Meridian uses.
func NewHMACVerifier(secret string) SignatureVerifier {
	return &hmacVerifier{secret: []byte(secret)}
}

func (v *hmacVerifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 {
		return errors.New("webhook secret is not configured")
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrBadSignature
	}
	return nil
}

type rsaVerifier struct {
	key *rsa.PublicKey
}

// NewRSAVerifier verifies base64-encoded RSA-SHA256 signatures against the
// provider's published public key, the scheme GlobalPay uses.
func NewRSAVerifier(publicKeyPEM string) (SignatureVerifier, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("webhook public key is not valid PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("webhook public key parse: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("webhook public key is not RSA")
	}
	return &rsaVerifier{key: key}, nil
}

func (v *rsaVerifier) Verify(body []byte, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	digest := sha256.Sum256(body)
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], sig); err != nil {
		return ErrBadSignature
	}
	return nil
}
