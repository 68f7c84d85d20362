// ABOUTME: Device identity generation, persistence, and loading.
// ABOUTME: Ed25519 keypair stored as a versioned JWK record; id derived from the public key.

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// recordVersion is the persisted identity record version. Records with any
// other version are treated as corrupt and regenerated.
const recordVersion = 1

// ErrNoIdentity is returned by Load when no identity record exists.
var ErrNoIdentity = errors.New("no device identity stored")

// jwk is the subset of RFC 8037 OKP key fields used for Ed25519 keys.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	D   string `json:"d,omitempty"`
}

// record is the on-disk identity format.
type record struct {
	Version       int    `json:"version"`
	DeviceID      string `json:"deviceId"`
	PublicKeyJwk  jwk    `json:"publicKeyJwk"`
	PrivateKeyJwk jwk    `json:"privateKeyJwk"`
	CreatedAtMs   int64  `json:"createdAtMs"`
}

// DeviceIdentity is a loaded device keypair plus its derived id.
type DeviceIdentity struct {
	DeviceID   string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	CreatedAt  time.Time
}

// Store persists device identities as JSON records on disk.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a Store writing to the given file path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// DefaultPath returns the XDG-style location for the identity record.
func DefaultPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "device.json"), nil
}

// LoadOrCreate returns the stored identity, generating and persisting a
// fresh one when no usable record exists. Any structural failure in the
// stored record (missing fields, parse error, unsupported version) falls
// back to regeneration rather than erroring.
func (s *Store) LoadOrCreate() (*DeviceIdentity, error) {
	id, err := s.Load()
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNoIdentity) {
		s.logger.Warn("stored device identity unusable, regenerating", "error", err)
	}
	return s.create()
}

// Load reads and validates the stored identity record.
func (s *Store) Load() (*DeviceIdentity, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoIdentity
		}
		return nil, fmt.Errorf("reading identity record: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing identity record: %w", err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("unsupported identity record version %d", rec.Version)
	}

	pub, err := decodeJWKPublic(rec.PublicKeyJwk)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	priv, err := decodeJWKPrivate(rec.PrivateKeyJwk)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}

	// The id is always re-derived from the key, never trusted from disk, so
	// the same record yields the same id on every load.
	return &DeviceIdentity{
		DeviceID:   DeriveDeviceID(pub),
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  time.UnixMilli(rec.CreatedAtMs),
	}, nil
}

// Clear removes the persisted identity so the next LoadOrCreate generates a
// fresh keypair. Missing records are not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing identity record: %w", err)
	}
	return nil
}

// create generates a new keypair and persists it.
func (s *Store) create() (*DeviceIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating device keypair: %w", err)
	}

	now := time.Now()
	id := &DeviceIdentity{
		DeviceID:   DeriveDeviceID(pub),
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  now,
	}

	rec := record{
		Version:  recordVersion,
		DeviceID: id.DeviceID,
		PublicKeyJwk: jwk{
			Kty: "OKP",
			Crv: "Ed25519",
			X:   base64.RawURLEncoding.EncodeToString(pub),
		},
		PrivateKeyJwk: jwk{
			Kty: "OKP",
			Crv: "Ed25519",
			X:   base64.RawURLEncoding.EncodeToString(pub),
			D:   base64.RawURLEncoding.EncodeToString(priv.Seed()),
		},
		CreatedAtMs: now.UnixMilli(),
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling identity record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return nil, fmt.Errorf("creating identity directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return nil, fmt.Errorf("writing identity record: %w", err)
	}

	s.logger.Info("generated new device identity", "device_id", id.DeviceID)
	return id, nil
}

// DeriveDeviceID derives the stable device id from the raw public key bytes.
// Regenerating from the same key reproduces the same id.
func DeriveDeviceID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

func decodeJWKPublic(k jwk) (ed25519.PublicKey, error) {
	if k.Kty != "OKP" || k.Crv != "Ed25519" {
		return nil, fmt.Errorf("unsupported key type %s/%s", k.Kty, k.Crv)
	}
	raw, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("invalid x encoding: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

func decodeJWKPrivate(k jwk) (ed25519.PrivateKey, error) {
	if k.Kty != "OKP" || k.Crv != "Ed25519" {
		return nil, fmt.Errorf("unsupported key type %s/%s", k.Kty, k.Crv)
	}
	if k.D == "" {
		return nil, errors.New("private key missing d field")
	}
	seed, err := base64.RawURLEncoding.DecodeString(k.D)
	if err != nil {
		return nil, fmt.Errorf("invalid d encoding: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
