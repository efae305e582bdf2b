package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// NIP44Keys are the three keys HKDF-expand derives from a NIP-44 shared
// secret and a random 32-byte salt.
type NIP44Keys struct {
	ChaChaKey   [32]byte
	ChaChaNonce [12]byte
	HMACKey     [32]byte
}

// DeriveNIP44Keys runs HKDF-SHA256 over the shared secret, salted, and
// slices the 76-byte output into {chacha_key(32), chacha_nonce(12),
// hmac_key(32)} in that order.
func DeriveNIP44Keys(sharedSecret [32]byte, salt [32]byte) (NIP44Keys, error) {
	var keys NIP44Keys
	r := hkdf.New(sha256.New, sharedSecret[:], salt[:], nil)
	buf := make([]byte, 32+12+32)
	if _, err := io.ReadFull(r, buf); err != nil {
		return keys, fmt.Errorf("cryptox: hkdf expand: %w", err)
	}
	copy(keys.ChaChaKey[:], buf[0:32])
	copy(keys.ChaChaNonce[:], buf[32:44])
	copy(keys.HMACKey[:], buf[44:76])
	return keys, nil
}

// ChaCha20Apply XORs data with the ChaCha20 keystream under key/nonce; it
// is its own inverse, used for both NIP-44 encryption and decryption.
func ChaCha20Apply(key [32]byte, nonce [12]byte, data []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return nil, fmt.Errorf("cryptox: chacha20: %w", err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

// NIP44Tag computes HMAC-SHA-256(hmacKey, salt||ciphertext), the
// authentication tag appended to the NIP-44 wire format.
func NIP44Tag(hmacKey [32]byte, salt [32]byte, ciphertext []byte) [32]byte {
	var tag [32]byte
	mac := hmac.New(sha256.New, hmacKey[:])
	mac.Write(salt[:])
	mac.Write(ciphertext)
	copy(tag[:], mac.Sum(nil))
	return tag
}

// NIP44VerifyTag reports whether tag matches the expected HMAC over
// salt||ciphertext, in constant time.
func NIP44VerifyTag(hmacKey [32]byte, salt [32]byte, ciphertext []byte, tag [32]byte) bool {
	want := NIP44Tag(hmacKey, salt, ciphertext)
	return hmac.Equal(want[:], tag[:])
}

// PadNIP44Plaintext prepends a 2-byte big-endian length then zero-pads to
// the next power-of-two bucket boundary. The minimum bucket is 32 bytes.
func PadNIP44Plaintext(plaintext []byte) []byte {
	n := len(plaintext)
	total := 2 + n
	bucket := nextPow2(total, 32)
	out := make([]byte, bucket)
	out[0] = byte(n >> 8)
	out[1] = byte(n)
	copy(out[2:], plaintext)
	return out
}

// UnpadNIP44Plaintext reverses PadNIP44Plaintext, validating the encoded
// length against the padded buffer's size.
func UnpadNIP44Plaintext(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, fmt.Errorf("cryptox: padded plaintext too short")
	}
	n := int(padded[0])<<8 | int(padded[1])
	if 2+n > len(padded) {
		return nil, fmt.Errorf("cryptox: padded plaintext length field exceeds buffer")
	}
	return padded[2 : 2+n], nil
}

func nextPow2(n, min int) int {
	p := min
	for p < n {
		p *= 2
	}
	return p
}
