// Package cryptox gathers the primitive building blocks the Nostr and
// Matrix end-to-end encryption pipelines compose: BIP-340
// Schnorr signatures and secp256k1 ECDH for Nostr, HKDF/ChaCha20/HMAC-SHA-256
// for NIP-44, AES-256-CBC for NIP-04, and AES-256-CTR for Matrix attachments.
// It has no ed25519 signature verification; Matrix device keys are not
// checked here. The nostr and matrix packages
// compose these; this package holds no protocol framing of its own.
package cryptox

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// SchnorrSign produces a BIP-340 signature over msg (a SHA-256 digest,
// e.g. a Nostr event id) using a secp256k1 secret key.
func SchnorrSign(secKey []byte, msg [32]byte) ([64]byte, error) {
	var sig [64]byte
	priv, _ := btcec.PrivKeyFromBytes(secKey)
	s, err := schnorr.Sign(priv, msg[:])
	if err != nil {
		return sig, fmt.Errorf("cryptox: schnorr sign: %w", err)
	}
	copy(sig[:], s.Serialize())
	return sig, nil
}

// SchnorrPublicKey derives the x-only 32-byte public key for a secp256k1
// secret key.
func SchnorrPublicKey(secKey []byte) ([32]byte, error) {
	var pub [32]byte
	priv, _ := btcec.PrivKeyFromBytes(secKey)
	if priv == nil {
		return pub, fmt.Errorf("cryptox: invalid secret key")
	}
	serialized := schnorr.SerializePubKey(priv.PubKey())
	copy(pub[:], serialized)
	return pub, nil
}

// SchnorrVerify checks a BIP-340 signature against an x-only 32-byte
// public key. Flipping any bit of the digest, pubkey or sig makes this
// return false.
func SchnorrVerify(pubKeyXOnly []byte, msg [32]byte, sig [64]byte) bool {
	pk, err := schnorr.ParsePubKey(pubKeyXOnly)
	if err != nil {
		return false
	}
	s, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		return false
	}
	return s.Verify(msg[:], pk)
}

// ECDHSharedSecret computes the X coordinate of ECDH(mySec, theirPubXOnly),
// the shared secret NIP-04 and NIP-44 key their ciphers from. theirPub is
// the 32-byte x-only public key format Nostr events carry; BIP-340 treats
// x-only keys as having an implicitly even Y, which is exactly what
// schnorr.ParsePubKey reconstructs.
func ECDHSharedSecret(mySec []byte, theirPubXOnly []byte) ([32]byte, error) {
	var shared [32]byte

	priv, _ := btcec.PrivKeyFromBytes(mySec)
	pub, err := schnorr.ParsePubKey(theirPubXOnly)
	if err != nil {
		return shared, fmt.Errorf("cryptox: invalid peer public key: %w", err)
	}

	privECDSA := priv.ToECDSA()
	pubECDSA := pub.ToECDSA()

	curve := btcec.S256()
	sx, _ := curve.ScalarMult(pubECDSA.X, pubECDSA.Y, privECDSA.D.Bytes())

	sx.FillBytes(shared[:])
	return shared, nil
}
