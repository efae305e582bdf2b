// Package nostr implements the Nostr side of the module: the event model
// with BIP-340 signatures, the NIP-04 and NIP-44 DM encryption pipelines,
// NIP-59 gift-wrapping, bech32 entity encoding, the relay transport over
// WebSocket, and the local per-conversation DM cache.
package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gumdropmail/core/cryptox"
	"github.com/gumdropmail/core/jsonpush"
	"github.com/gumdropmail/core/store"
)

// Event kinds this module produces or consumes.
const (
	KindMetadata       = 0
	KindTextNote       = 1
	KindEncryptedDM    = 4
	KindSeal           = 13
	KindChatMessage    = 14
	KindGiftWrap       = 1059
)

// Event is the wire event model. Tags is a list of string lists; the first
// element of each tag names it ("p", "e", ...).
type Event struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Serialize renders the canonical id-preimage array
// [0, pubkey, created_at, kind, tags, content].
func (e *Event) Serialize() []byte {
	w := jsonpush.NewWriter(nil)
	w.StartArray()
	w.IntValue(0)
	w.StringValue(e.Pubkey)
	w.IntValue(e.CreatedAt)
	w.IntValue(int64(e.Kind))
	w.StartArray()
	for _, tag := range e.Tags {
		w.StartArray()
		for _, v := range tag {
			w.StringValue(v)
		}
		w.EndArray()
	}
	w.EndArray()
	w.StringValue(e.Content)
	w.EndArray()
	return w.Bytes()
}

// ComputeID fills e.ID with the lowercase hex SHA-256 of the canonical
// serialization and returns the digest.
func (e *Event) ComputeID() [32]byte {
	sum := sha256.Sum256(e.Serialize())
	e.ID = hex.EncodeToString(sum[:])
	return sum
}

// Sign computes the event id and signs it with secKeyHex, filling ID,
// Pubkey and Sig.
func (e *Event) Sign(secKeyHex string) error {
	sec, err := hex.DecodeString(secKeyHex)
	if err != nil || len(sec) != 32 {
		return &store.ParseError{Msg: "nostr: secret key must be 32 hex bytes"}
	}
	pub, err := cryptox.SchnorrPublicKey(sec)
	if err != nil {
		return err
	}
	e.Pubkey = hex.EncodeToString(pub[:])
	digest := e.ComputeID()
	sig, err := cryptox.SchnorrSign(sec, digest)
	if err != nil {
		return err
	}
	e.Sig = hex.EncodeToString(sig[:])
	return nil
}

// Verify checks that e.ID matches the canonical serialization and that
// e.Sig is a valid BIP-340 signature over it by e.Pubkey.
func (e *Event) Verify() bool {
	var check Event = *e
	digest := check.ComputeID()
	if check.ID != e.ID {
		return false
	}
	pub, err := hex.DecodeString(e.Pubkey)
	if err != nil || len(pub) != 32 {
		return false
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil || len(sigBytes) != 64 {
		return false
	}
	var sig [64]byte
	copy(sig[:], sigBytes)
	return cryptox.SchnorrVerify(pub, digest, sig)
}

// TagValue returns the second element of the first tag named name, or "".
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// ParseEvent decodes one JSON event object.
func ParseEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &store.ParseError{Msg: "nostr: bad event json: " + err.Error()}
	}
	return &e, nil
}

// MarshalEvent renders an event as a JSON object with the canonical field
// order, via the push writer.
func MarshalEvent(e *Event) []byte {
	w := jsonpush.NewWriter(nil)
	w.StartObject()
	w.Key("id")
	w.StringValue(e.ID)
	w.Key("pubkey")
	w.StringValue(e.Pubkey)
	w.Key("created_at")
	w.IntValue(e.CreatedAt)
	w.Key("kind")
	w.IntValue(int64(e.Kind))
	w.Key("tags")
	w.StartArray()
	for _, tag := range e.Tags {
		w.StartArray()
		for _, v := range tag {
			w.StringValue(v)
		}
		w.EndArray()
	}
	w.EndArray()
	w.Key("content")
	w.StringValue(e.Content)
	w.Key("sig")
	w.StringValue(e.Sig)
	w.EndObject()
	return w.Bytes()
}

// PublicKeyHex derives the x-only public key for a hex secret key.
func PublicKeyHex(secKeyHex string) (string, error) {
	sec, err := hex.DecodeString(secKeyHex)
	if err != nil || len(sec) != 32 {
		return "", &store.ParseError{Msg: "nostr: secret key must be 32 hex bytes"}
	}
	pub, err := cryptox.SchnorrPublicKey(sec)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(pub[:]), nil
}

func sharedSecretHex(secKeyHex, pubKeyHex string) ([32]byte, error) {
	var zero [32]byte
	sec, err := hex.DecodeString(secKeyHex)
	if err != nil || len(sec) != 32 {
		return zero, &store.ParseError{Msg: "nostr: secret key must be 32 hex bytes"}
	}
	pub, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(pub) != 32 {
		return zero, &store.ParseError{Msg: fmt.Sprintf("nostr: public key %q must be 32 hex bytes", pubKeyHex)}
	}
	return cryptox.ECDHSharedSecret(sec, pub)
}
