// Package transport is the Fan-out Transport (§4.C): signed HTTP
// fan-out to miner axons with a per-call timeout and structured error
// classification. Signing is grounded on p2p/security/auth.go's
// MessageAuthenticator, adapted from peer-to-peer message auth to the
// dendrite/axon envelope signature spec.md §9 names.
package transport

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Signer signs fan-out envelopes with the validator's ed25519 keypair,
// the same primitive p2p/security/auth.go's MessageAuthenticator uses for
// peer messages (crypto/ed25519, not a hand-rolled scheme).
type Signer struct {
	privateKey ed25519.PrivateKey
	hotkey     string
}

// NewSigner wraps a validator keypair. hotkey is the signer's own
// hotkey string, used as one of the signed fields.
func NewSigner(privateKey ed25519.PrivateKey, hotkey string) *Signer {
	return &Signer{privateKey: privateKey, hotkey: hotkey}
}

// Hotkey returns the signer's hotkey.
func (s *Signer) Hotkey() string { return s.hotkey }

// BodyHash hashes the canonicalized JSON body the signature binds to
// (§9 "Signature binding").
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// SigningString builds "{nonce}.{dendrite.hotkey}.{axon.hotkey}.{uuid}.{body_hash}"
// exactly as §4.C/§9 specify.
func SigningString(nonce int64, dendriteHotkey, axonHotkey, uuid, bodyHash string) string {
	return fmt.Sprintf("%d.%s.%s.%s.%s", nonce, dendriteHotkey, axonHotkey, uuid, bodyHash)
}

// Sign signs the string and returns a hex-encoded signature.
func (s *Signer) Sign(nonce int64, axonHotkey, uuid, bodyHash string) string {
	data := []byte(SigningString(nonce, s.hotkey, axonHotkey, uuid, bodyHash))
	sig := ed25519.Sign(s.privateKey, data)
	return hex.EncodeToString(sig)
}

// Verify checks a peer signature against its claimed public key.
func Verify(publicKey ed25519.PublicKey, nonce int64, dendriteHotkey, axonHotkey, uuid, bodyHash, signatureHex string) error {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	data := []byte(SigningString(nonce, dendriteHotkey, axonHotkey, uuid, bodyHash))
	if !ed25519.Verify(publicKey, data, sig) {
		return fmt.Errorf("invalid envelope signature")
	}
	return nil
}
