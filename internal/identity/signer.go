// ABOUTME: Signer interface over the device keypair plus the default Ed25519 backend.
// ABOUTME: Signatures and exported public keys use URL-safe unpadded base64.

package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
)

// Signer signs device-auth payloads. Abstracting the keypair access lets
// the signing backend vary (persisted JWK record, OpenSSH key file) without
// touching protocol logic.
type Signer interface {
	// DeviceID returns the stable id derived from the public key.
	DeviceID() string

	// PublicKey returns the URL-safe base64 encoding of the raw public key.
	PublicKey() string

	// Sign signs the UTF-8 bytes of payload and returns the URL-safe
	// unpadded base64 signature.
	Sign(payload string) (string, error)
}

// keySigner is the default Signer over a loaded DeviceIdentity.
type keySigner struct {
	identity *DeviceIdentity
}

// NewSigner wraps a DeviceIdentity as a Signer.
func NewSigner(id *DeviceIdentity) (Signer, error) {
	if id == nil || len(id.PrivateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("device identity has no usable private key")
	}
	return &keySigner{identity: id}, nil
}

func (s *keySigner) DeviceID() string {
	return s.identity.DeviceID
}

func (s *keySigner) PublicKey() string {
	return base64.RawURLEncoding.EncodeToString(s.identity.PublicKey)
}

func (s *keySigner) Sign(payload string) (string, error) {
	sig := ed25519.Sign(s.identity.PrivateKey, []byte(payload))
	return base64.RawURLEncoding.EncodeToString(sig), nil
}
