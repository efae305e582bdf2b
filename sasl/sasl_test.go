package sasl

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"
)

func TestPlainInitialResponse(t *testing.T) {
	m := &PlainMechanism{AuthzID: "", Username: "alice", Password: "s3cret"}
	resp, err := m.InitialClientResponse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "\x00alice\x00s3cret"
	if string(resp) != want {
		t.Fatalf("got %q, want %q", resp, want)
	}
	if !m.RequiresTLS() || m.IsChallengeResponse() {
		t.Fatalf("unexpected metadata: requiresTLS=%v isChallengeResponse=%v", m.RequiresTLS(), m.IsChallengeResponse())
	}
}

func TestLoginRespondsInOrder(t *testing.T) {
	m := &LoginMechanism{Username: "alice", Password: "s3cret"}
	first, err := m.RespondToChallenge([]byte("Username:"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(first) != "alice" {
		t.Fatalf("got %q, want %q", first, "alice")
	}
	second, err := m.RespondToChallenge([]byte("Password:"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(second) != "s3cret" {
		t.Fatalf("got %q, want %q", second, "s3cret")
	}
	if _, err := m.RespondToChallenge([]byte("extra")); err == nil {
		t.Fatal("expected error for an unexpected third challenge")
	}
}

func TestCRAMMD5Response(t *testing.T) {
	m := &CRAMMD5Mechanism{Username: "alice", Password: "s3cret"}
	challenge := []byte("<1896.697170952@example.com>")
	resp, err := m.RespondToChallenge(challenge)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mac := hmac.New(md5.New, []byte("s3cret"))
	mac.Write(challenge)
	want := "alice " + hex.EncodeToString(mac.Sum(nil))
	if string(resp) != want {
		t.Fatalf("got %q, want %q", resp, want)
	}
}

func TestXOAUTH2InitialResponse(t *testing.T) {
	m := &XOAUTH2Mechanism{Username: "alice@example.com", AccessToken: "tok123"}
	resp, err := m.InitialClientResponse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := string(resp)
	if !strings.HasPrefix(s, "user=alice@example.com\x01auth=Bearer tok123\x01\x01") {
		t.Fatalf("got %q", s)
	}
}

func TestXOAUTH2ErrorAcknowledgement(t *testing.T) {
	m := &XOAUTH2Mechanism{Username: "alice@example.com", AccessToken: "bad"}
	resp, err := m.RespondToChallenge([]byte(`{"status":"400","schemes":"bearer"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp) != 0 {
		t.Fatalf("expected empty acknowledgement, got %q", resp)
	}
	if _, err := m.RespondToChallenge([]byte("anything")); err == nil {
		t.Fatal("expected error on a second challenge")
	}
}

func TestScramSHA256ProducesGS2Header(t *testing.T) {
	m := &ScramSHA256Mechanism{Username: "alice", Password: "s3cret"}
	first, err := m.InitialClientResponse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(string(first), "n,,n=alice,r=") {
		t.Fatalf("got %q", first)
	}
	if !m.IsChallengeResponse() || m.RequiresTLS() {
		t.Fatalf("unexpected metadata: requiresTLS=%v isChallengeResponse=%v", m.RequiresTLS(), m.IsChallengeResponse())
	}
}
