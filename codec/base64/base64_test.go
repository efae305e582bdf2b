package base64

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func decodeOneShot(t *testing.T, s string) []byte {
	t.Helper()
	return DecodeAll([]byte(s))
}

func TestDecodeAllMatchesStdlib(t *testing.T) {
	cases := []string{
		"SGVsbG8sIFdvcmxkIQ==",
		"YQ==",
		"YWI=",
		"YWJj",
		"",
	}
	for _, c := range cases {
		want, err := base64.StdEncoding.DecodeString(c)
		if err != nil {
			t.Fatalf("stdlib failed to decode %q: %v", c, err)
		}
		got := decodeOneShot(t, c)
		if !bytes.Equal(got, want) {
			t.Errorf("DecodeAll(%q) = %q, want %q", c, got, want)
		}
	}
}

func TestSplitStreamInvariant(t *testing.T) {
	full := "VGhlIHF1aWNrIGJyb3duIGZveCBqdW1wcyBvdmVyIHRoZSBsYXp5IGRvZw=="
	want := decodeOneShot(t, full)

	for split := 0; split <= len(full); split++ {
		d := &Decoder{}
		dst := make([]byte, len(full))
		pos := 0
		s1, s2 := full[:split], full[split:]
		_, w1 := d.Decode([]byte(s1), dst, pos, len(dst)-pos, false)
		pos += w1
		_, w2 := d.Decode([]byte(s2), dst, pos, len(dst)-pos, true)
		pos += w2
		if !bytes.Equal(dst[:pos], want) {
			t.Fatalf("split at %d: got %q, want %q", split, dst[:pos], want)
		}
	}
}

func TestWhitespaceIgnored(t *testing.T) {
	got := decodeOneShot(t, "SGVs\r\nbG8s IFdv\tcmxkIQ==")
	want, _ := base64.StdEncoding.DecodeString("SGVsbG8sIFdvcmxkIQ==")
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}
