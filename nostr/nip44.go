package nostr

import (
	"encoding/base64"

	"github.com/gumdropmail/core/cryptox"
	"github.com/gumdropmail/core/store"
)

const nip44Version = 0x02

// NIP44Encrypt produces a v2 payload: base64 of
// version ++ salt(32) ++ ChaCha20(padded plaintext) ++ HMAC tag(32).
func NIP44Encrypt(secKeyHex, theirPubHex, plaintext string) (string, error) {
	shared, err := sharedSecretHex(secKeyHex, theirPubHex)
	if err != nil {
		return "", err
	}
	saltBytes, err := cryptox.RandomBytes(32)
	if err != nil {
		return "", err
	}
	var salt [32]byte
	copy(salt[:], saltBytes)
	return nip44EncryptWithSalt(shared, salt, plaintext)
}

func nip44EncryptWithSalt(shared, salt [32]byte, plaintext string) (string, error) {
	keys, err := cryptox.DeriveNIP44Keys(shared, salt)
	if err != nil {
		return "", err
	}
	padded := cryptox.PadNIP44Plaintext([]byte(plaintext))
	ct, err := cryptox.ChaCha20Apply(keys.ChaChaKey, keys.ChaChaNonce, padded)
	if err != nil {
		return "", err
	}
	tag := cryptox.NIP44Tag(keys.HMACKey, salt, ct)

	wire := make([]byte, 0, 1+32+len(ct)+32)
	wire = append(wire, nip44Version)
	wire = append(wire, salt[:]...)
	wire = append(wire, ct...)
	wire = append(wire, tag[:]...)
	return base64.StdEncoding.EncodeToString(wire), nil
}

// NIP44Decrypt reverses NIP44Encrypt, verifying the HMAC before touching
// the ciphertext.
func NIP44Decrypt(secKeyHex, theirPubHex, payload string) (string, error) {
	shared, err := sharedSecretHex(secKeyHex, theirPubHex)
	if err != nil {
		return "", err
	}
	wire, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", &store.ParseError{Msg: "nostr: nip-44 payload: " + err.Error()}
	}
	if len(wire) < 1+32+32+32 {
		return "", &store.ParseError{Msg: "nostr: nip-44 payload too short"}
	}
	if wire[0] != nip44Version {
		return "", &store.Unsupported{Feature: "nip-44 version other than 2"}
	}
	var salt [32]byte
	copy(salt[:], wire[1:33])
	ct := wire[33 : len(wire)-32]
	var tag [32]byte
	copy(tag[:], wire[len(wire)-32:])

	keys, err := cryptox.DeriveNIP44Keys(shared, salt)
	if err != nil {
		return "", err
	}
	if !cryptox.NIP44VerifyTag(keys.HMACKey, salt, ct, tag) {
		return "", &store.ProtocolError{Msg: "nostr: nip-44 hmac verification failed"}
	}
	padded, err := cryptox.ChaCha20Apply(keys.ChaChaKey, keys.ChaChaNonce, ct)
	if err != nil {
		return "", err
	}
	pt, err := cryptox.UnpadNIP44Plaintext(padded)
	if err != nil {
		return "", &store.ParseError{Msg: "nostr: " + err.Error()}
	}
	return string(pt), nil
}
