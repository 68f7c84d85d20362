// ABOUTME: Signer backed by an OpenSSH Ed25519 private key file.
// ABOUTME: Lets headless clients reuse an existing SSH key as their device identity.

package identity

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// LoadSSHSigner builds a Signer from an OpenSSH private key file. Only
// Ed25519 keys are accepted; the derived device id is identical to the one
// a persisted JWK identity with the same key would produce.
func LoadSSHSigner(path string, passphrase string) (Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key: %w", err)
	}

	var raw any
	if passphrase != "" {
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(data, []byte(passphrase))
	} else {
		raw, err = ssh.ParseRawPrivateKey(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key: %w", err)
	}

	var priv ed25519.PrivateKey
	switch k := raw.(type) {
	case ed25519.PrivateKey:
		priv = k
	case *ed25519.PrivateKey:
		priv = *k
	default:
		return nil, fmt.Errorf("unsupported ssh key type %T (need ed25519)", raw)
	}

	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ssh key has no ed25519 public half")
	}

	return NewSigner(&DeviceIdentity{
		DeviceID:   DeriveDeviceID(pub),
		PublicKey:  pub,
		PrivateKey: priv,
	})
}
