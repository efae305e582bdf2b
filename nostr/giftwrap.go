package nostr

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/gumdropmail/core/cryptox"
	"github.com/gumdropmail/core/store"
)

// wrapTimestampWindow is how far into the past a seal's or wrap's
// created_at may be randomized, to keep wraps from being correlated by
// timestamp.
const wrapTimestampWindow = 2 * 24 * time.Hour

// randomizedPast returns now minus a uniform random offset within the
// wrap window.
func randomizedPast(now time.Time) int64 {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return now.Unix()
	}
	offset := binary.BigEndian.Uint64(raw[:]) % uint64(wrapTimestampWindow/time.Second)
	return now.Unix() - int64(offset)
}

// NewRumor builds the unsigned inner event of a gift-wrap: id computed,
// sig left empty.
func NewRumor(senderSecHex string, kind int, tags [][]string, content string, createdAt time.Time) (*Event, error) {
	pub, err := PublicKeyHex(senderSecHex)
	if err != nil {
		return nil, err
	}
	rumor := &Event{
		Pubkey:    pub,
		CreatedAt: createdAt.Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	rumor.ComputeID()
	return rumor, nil
}

// Seal encrypts a rumor to recipientPubHex as a kind-13 event signed by
// the sender's real key.
func Seal(senderSecHex, recipientPubHex string, rumor *Event, now time.Time) (*Event, error) {
	content, err := NIP44Encrypt(senderSecHex, recipientPubHex, string(MarshalEvent(rumor)))
	if err != nil {
		return nil, err
	}
	seal := &Event{
		CreatedAt: randomizedPast(now),
		Kind:      KindSeal,
		Tags:      [][]string{},
		Content:   content,
	}
	if err := seal.Sign(senderSecHex); err != nil {
		return nil, err
	}
	return seal, nil
}

// GiftWrap encrypts a seal to recipientPubHex as a kind-1059 event signed
// by a fresh ephemeral key, with a p-tag naming the recipient.
func GiftWrap(recipientPubHex string, seal *Event, now time.Time) (*Event, error) {
	ephemeral, err := cryptox.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	ephemeralHex := hex.EncodeToString(ephemeral)
	content, err := NIP44Encrypt(ephemeralHex, recipientPubHex, string(MarshalEvent(seal)))
	if err != nil {
		return nil, err
	}
	wrap := &Event{
		CreatedAt: randomizedPast(now),
		Kind:      KindGiftWrap,
		Tags:      [][]string{{"p", recipientPubHex}},
		Content:   content,
	}
	if err := wrap.Sign(ephemeralHex); err != nil {
		return nil, err
	}
	return wrap, nil
}

// WrapMessage runs the full rumor → seal → gift-wrap pipeline for one
// recipient.
func WrapMessage(senderSecHex, recipientPubHex string, kind int, tags [][]string, content string, now time.Time) (*Event, error) {
	rumor, err := NewRumor(senderSecHex, kind, tags, content, now)
	if err != nil {
		return nil, err
	}
	seal, err := Seal(senderSecHex, recipientPubHex, rumor, now)
	if err != nil {
		return nil, err
	}
	return GiftWrap(recipientPubHex, seal, now)
}

// Unwrap reverses the pipeline: decrypt the wrap against its (ephemeral)
// pubkey, decrypt the seal against its pubkey, check the rumor's author
// matches the seal's signer, and recompute the rumor id.
func Unwrap(ourSecHex string, wrap *Event) (*Event, error) {
	if wrap.Kind != KindGiftWrap {
		return nil, &store.ProtocolError{Msg: "nostr: not a gift-wrap event"}
	}
	sealJSON, err := NIP44Decrypt(ourSecHex, wrap.Pubkey, wrap.Content)
	if err != nil {
		return nil, err
	}
	seal, err := ParseEvent([]byte(sealJSON))
	if err != nil {
		return nil, err
	}
	if seal.Kind != KindSeal {
		return nil, &store.ProtocolError{Msg: "nostr: gift-wrap payload is not a seal"}
	}
	rumorJSON, err := NIP44Decrypt(ourSecHex, seal.Pubkey, seal.Content)
	if err != nil {
		return nil, err
	}
	rumor, err := ParseEvent([]byte(rumorJSON))
	if err != nil {
		return nil, err
	}
	if rumor.Pubkey != seal.Pubkey {
		return nil, &store.ProtocolError{Msg: "nostr: rumor author does not match seal signer"}
	}
	claimed := rumor.ID
	check := *rumor
	check.ComputeID()
	if check.ID != claimed {
		return nil, &store.ProtocolError{Msg: "nostr: rumor id mismatch"}
	}
	return rumor, nil
}
