package matrix

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"

	"github.com/gumdropmail/core/cryptox"
	"github.com/gumdropmail/core/store"
)

// EncryptedFile is the m.file JSON object attached to encrypted media
// events: the content URL, the JWK-wrapped AES key, the CTR IV, and the
// ciphertext hash.
type EncryptedFile struct {
	URL    string            `json:"url"`
	Key    JWK               `json:"key"`
	IV     string            `json:"iv"`
	Hashes map[string]string `json:"hashes"`
	V      string            `json:"v"`
}

// JWK is the key container inside an EncryptedFile.
type JWK struct {
	Kty    string   `json:"kty"`
	KeyOps []string `json:"key_ops"`
	Alg    string   `json:"alg"`
	K      string   `json:"k"`
	Ext    bool     `json:"ext"`
}

var b64url = base64.RawURLEncoding
var b64std = base64.StdEncoding.WithPadding(base64.NoPadding)

// EncryptAttachment encrypts plaintext with a fresh AES-256-CTR key. The
// IV's high 64 bits are random and the low 64 bits zero, leaving the whole
// lower half as block counter. The returned EncryptedFile still needs its
// URL filled in after upload.
func EncryptAttachment(plaintext []byte) (ciphertext []byte, file *EncryptedFile, err error) {
	key, err := cryptox.RandomBytes(32)
	if err != nil {
		return nil, nil, err
	}
	ivHigh, err := cryptox.RandomBytes(8)
	if err != nil {
		return nil, nil, err
	}
	iv := make([]byte, 16)
	copy(iv, ivHigh)

	ciphertext, err = cryptox.AESCTRApply(key, iv, plaintext)
	if err != nil {
		return nil, nil, err
	}
	hash := sha256.Sum256(ciphertext)

	file = &EncryptedFile{
		Key: JWK{
			Kty:    "oct",
			KeyOps: []string{"encrypt", "decrypt"},
			Alg:    "A256CTR",
			K:      b64url.EncodeToString(key),
			Ext:    true,
		},
		IV:     b64std.EncodeToString(iv),
		Hashes: map[string]string{"sha256": b64std.EncodeToString(hash[:])},
		V:      "v2",
	}
	return ciphertext, file, nil
}

// DecryptAttachment verifies the ciphertext hash, then applies the CTR
// keystream. A hash mismatch fails before any AES work.
func DecryptAttachment(ciphertext []byte, file *EncryptedFile) ([]byte, error) {
	wantB64, ok := file.Hashes["sha256"]
	if !ok {
		return nil, &store.ParseError{Msg: "matrix: encrypted file missing sha256 hash"}
	}
	want, err := b64std.DecodeString(wantB64)
	if err != nil {
		return nil, &store.ParseError{Msg: "matrix: bad sha256 encoding: " + err.Error()}
	}
	got := sha256.Sum256(ciphertext)
	if subtle.ConstantTimeCompare(want, got[:]) != 1 {
		return nil, &store.ProtocolError{Msg: "matrix: attachment hash mismatch"}
	}

	key, err := b64url.DecodeString(file.Key.K)
	if err != nil || len(key) != 32 {
		return nil, &store.ParseError{Msg: "matrix: bad attachment key"}
	}
	iv, err := b64std.DecodeString(file.IV)
	if err != nil || len(iv) != 16 {
		return nil, &store.ParseError{Msg: "matrix: bad attachment iv"}
	}
	return cryptox.AESCTRApply(key, iv, ciphertext)
}

// MarshalEncryptedFile renders the m.file JSON object.
func MarshalEncryptedFile(f *EncryptedFile) ([]byte, error) {
	return json.Marshal(f)
}

// ParseEncryptedFile decodes an m.file JSON object.
func ParseEncryptedFile(data []byte) (*EncryptedFile, error) {
	var f EncryptedFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &store.ParseError{Msg: "matrix: bad encrypted file json: " + err.Error()}
	}
	return &f, nil
}
