// Package identity manages the persistent device identity used for gateway
// device auth: an Ed25519 keypair, a device id derived from the public key,
// and signing of challenge-bound auth payloads.
package identity
