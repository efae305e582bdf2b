package nostr

import (
	"encoding/base64"
	"strings"

	"github.com/gumdropmail/core/cryptox"
	"github.com/gumdropmail/core/store"
)

// NIP04Encrypt produces a kind-4 content string:
// base64(AES-256-CBC(plaintext)) ++ "?iv=" ++ base64(iv), keyed by the X
// coordinate of ECDH(our secret, their pubkey).
func NIP04Encrypt(secKeyHex, theirPubHex, plaintext string) (string, error) {
	shared, err := sharedSecretHex(secKeyHex, theirPubHex)
	if err != nil {
		return "", err
	}
	iv, err := cryptox.RandomBytes(16)
	if err != nil {
		return "", err
	}
	ct, err := cryptox.AESCBCEncrypt(shared[:], iv, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// NIP04Decrypt reverses NIP04Encrypt.
func NIP04Decrypt(secKeyHex, theirPubHex, content string) (string, error) {
	shared, err := sharedSecretHex(secKeyHex, theirPubHex)
	if err != nil {
		return "", err
	}
	sep := strings.Index(content, "?iv=")
	if sep < 0 {
		return "", &store.ParseError{Msg: "nostr: nip-04 content missing ?iv= separator"}
	}
	ct, err := base64.StdEncoding.DecodeString(content[:sep])
	if err != nil {
		return "", &store.ParseError{Msg: "nostr: nip-04 ciphertext: " + err.Error()}
	}
	iv, err := base64.StdEncoding.DecodeString(content[sep+4:])
	if err != nil {
		return "", &store.ParseError{Msg: "nostr: nip-04 iv: " + err.Error()}
	}
	if len(iv) != 16 {
		return "", &store.ParseError{Msg: "nostr: nip-04 iv must be 16 bytes"}
	}
	pt, err := cryptox.AESCBCDecrypt(shared[:], iv, ct)
	if err != nil {
		return "", &store.ParseError{Msg: "nostr: nip-04 decrypt: " + err.Error()}
	}
	return string(pt), nil
}
