package matrix

import (
	"strings"
	"testing"
)

func TestParseMXC(t *testing.T) {
	mxc, ok := ParseMXC("mxc://matrix.org/AbCdEfG")
	if !ok {
		t.Fatal("valid mxc uri rejected")
	}
	if mxc.Server != "matrix.org" || mxc.ID != "AbCdEfG" {
		t.Errorf("parsed = %+v", mxc)
	}

	for _, bad := range []string{
		"mxc:///id",
		"mxc://server/",
		"https://matrix.org/AbCdEfG",
		"mxc://serveronly",
		"",
	} {
		if _, ok := ParseMXC(bad); ok {
			t.Errorf("%q must not parse", bad)
		}
	}
}

func TestMXCPaths(t *testing.T) {
	mxc := MXC{Server: "matrix.org", ID: "xyz"}
	if got := mxc.DownloadPath(); got != "/_matrix/media/v3/download/matrix.org/xyz" {
		t.Errorf("download path = %q", got)
	}
	if got := mxc.ThumbnailPath(64, 64); !strings.Contains(got, "width=64") {
		t.Errorf("thumbnail path = %q", got)
	}
	if mxc.String() != "mxc://matrix.org/xyz" {
		t.Errorf("string = %q", mxc.String())
	}
}

func TestEncryptedAttachmentRoundTrip(t *testing.T) {
	plain := []byte("attachment body bytes")
	ct, file, err := EncryptAttachment(plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if file.V != "v2" || file.Key.Alg != "A256CTR" || file.Key.Kty != "oct" {
		t.Errorf("file metadata = %+v", file)
	}
	if !file.Key.Ext {
		t.Error("key must be extractable")
	}
	if string(ct) == string(plain) {
		t.Error("ciphertext equals plaintext")
	}

	back, err := DecryptAttachment(ct, file)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(back) != string(plain) {
		t.Errorf("round trip = %q", back)
	}
}

func TestEncryptedAttachmentTamperFailsBeforeAES(t *testing.T) {
	ct, file, err := EncryptAttachment([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	for pos := range ct {
		tampered := append([]byte{}, ct...)
		tampered[pos] ^= 0x01
		if _, err := DecryptAttachment(tampered, file); err == nil {
			t.Fatalf("byte %d flipped but hash check passed", pos)
		}
	}
}

func TestEncryptedAttachmentIVShape(t *testing.T) {
	_, file, err := EncryptAttachment([]byte("x"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	iv, err := b64std.DecodeString(file.IV)
	if err != nil {
		t.Fatalf("iv encoding: %v", err)
	}
	if len(iv) != 16 {
		t.Fatalf("iv length = %d", len(iv))
	}
	for _, b := range iv[8:] {
		if b != 0 {
			t.Fatal("low 64 bits of the iv must be zero (counter space)")
		}
	}
}

func TestEncryptedFileJSONRoundTrip(t *testing.T) {
	_, file, err := EncryptAttachment([]byte("body"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	file.URL = "mxc://hs/media"
	data, err := MarshalEncryptedFile(file)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := ParseEncryptedFile(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if back.URL != file.URL || back.Key.K != file.Key.K || back.IV != file.IV {
		t.Errorf("round trip = %+v", back)
	}
}

func TestDeviceTrackerDirtyAndUpdate(t *testing.T) {
	tr := NewDeviceTracker()
	tr.MarkDirty("@bob:example.org")
	tr.MarkDirty("@alice:example.org")

	if got := tr.DirtyUsers(); len(got) != 2 || got[0] != "@alice:example.org" {
		t.Errorf("dirty users = %v", got)
	}

	tr.Update("@alice:example.org", []*Device{
		{UserID: "@alice:example.org", DeviceID: "DEV1", Ed25519: "edkey1", Curve25519: "curve1"},
	})
	if got := tr.DirtyUsers(); len(got) != 1 || got[0] != "@bob:example.org" {
		t.Errorf("dirty after update = %v", got)
	}
	devices := tr.Devices("@alice:example.org")
	if len(devices) != 1 || devices[0].DeviceID != "DEV1" {
		t.Errorf("devices = %v", devices)
	}
}

func TestDeviceTrackerVerifiedSurvivesSameKey(t *testing.T) {
	tr := NewDeviceTracker()
	tr.Update("@a:hs", []*Device{{UserID: "@a:hs", DeviceID: "D", Ed25519: "key"}})
	if !tr.SetVerified("@a:hs", "D", true) {
		t.Fatal("SetVerified failed")
	}
	// Same ed25519 key: verification sticks.
	tr.Update("@a:hs", []*Device{{UserID: "@a:hs", DeviceID: "D", Ed25519: "key"}})
	if !tr.Devices("@a:hs")[0].Verified {
		t.Error("verified flag lost across update with unchanged key")
	}
	// Rotated key: verification resets.
	tr.Update("@a:hs", []*Device{{UserID: "@a:hs", DeviceID: "D", Ed25519: "other"}})
	if tr.Devices("@a:hs")[0].Verified {
		t.Error("verified flag survived a key rotation")
	}
}

func TestDeviceTrackerRequestBodies(t *testing.T) {
	tr := NewDeviceTracker()
	tr.MarkDirty("@b:hs")
	tr.MarkDirty("@a:hs")
	body := string(tr.QueryRequestBody())
	want := `{"device_keys":{"@a:hs":[],"@b:hs":[]}}`
	if body != want {
		t.Errorf("query body = %s, want %s", body, want)
	}

	claim := string(tr.ClaimRequestBody(map[string][]string{
		"@b:hs": {"D2", "D1"},
	}))
	wantClaim := `{"one_time_keys":{"@b:hs":{"D1":"signed_curve25519","D2":"signed_curve25519"}}}`
	if claim != wantClaim {
		t.Errorf("claim body = %s, want %s", claim, wantClaim)
	}
}
