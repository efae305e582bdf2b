package nostr

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/gumdropmail/core/store"
)

// EncodeNpub renders a 32-byte hex public key as an npub1... bech32 string.
func EncodeNpub(pubHex string) (string, error) {
	return encodeBech32("npub", pubHex)
}

// EncodeNsec renders a 32-byte hex secret key as an nsec1... bech32 string.
func EncodeNsec(secHex string) (string, error) {
	return encodeBech32("nsec", secHex)
}

// EncodeNote renders a 32-byte hex event id as a note1... bech32 string.
func EncodeNote(idHex string) (string, error) {
	return encodeBech32("note", idHex)
}

func encodeBech32(hrp, dataHex string) (string, error) {
	raw, err := hex.DecodeString(dataHex)
	if err != nil || len(raw) != 32 {
		return "", &store.ParseError{Msg: "nostr: bech32 payload must be 32 hex bytes"}
	}
	grouped, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", &store.ParseError{Msg: "nostr: bech32 regroup: " + err.Error()}
	}
	s, err := bech32.Encode(hrp, grouped)
	if err != nil {
		return "", &store.ParseError{Msg: "nostr: bech32 encode: " + err.Error()}
	}
	return s, nil
}

// DecodeBech32Entity decodes any npub/nsec/note bech32 string back to its
// human-readable prefix and 32-byte hex payload.
func DecodeBech32Entity(s string) (hrp, dataHex string, err error) {
	hrp, grouped, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return "", "", &store.ParseError{Msg: "nostr: bech32 decode: " + err.Error()}
	}
	raw, err := bech32.ConvertBits(grouped, 5, 8, false)
	if err != nil {
		return "", "", &store.ParseError{Msg: "nostr: bech32 regroup: " + err.Error()}
	}
	return hrp, hex.EncodeToString(raw), nil
}
