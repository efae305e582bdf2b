package store

import (
	"errors"
	"testing"
	"time"

	"github.com/gumdropmail/core/message"
)

func TestErrorKindsMatchWithErrorsAs(t *testing.T) {
	var err error = &NeedsCredential{Username: "alice", Plaintext: true}
	var nc *NeedsCredential
	if !errors.As(err, &nc) || nc.Username != "alice" || !nc.Plaintext {
		t.Errorf("NeedsCredential lost through errors.As: %+v", nc)
	}

	err = &TransportError{Err: errors.New("broken pipe")}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Error("TransportError not matched")
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		t.Error("TransportError matched as ParseError")
	}
}

func TestOAuthTokenRefreshWindow(t *testing.T) {
	tok := &OAuthToken{ExpiresAt: 1000}
	if tok.NeedsRefresh(time.Unix(699, 0)) {
		t.Error("refresh triggered before the 300s window")
	}
	if !tok.NeedsRefresh(time.Unix(700, 0)) {
		t.Error("refresh not triggered at expires_at-300")
	}
	if !tok.NeedsRefresh(time.Unix(1001, 0)) {
		t.Error("refresh not triggered after expiry")
	}
}

func TestOAuthTokenJSONShape(t *testing.T) {
	tok := &OAuthToken{
		Provider:     "gmail",
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    42,
		Scopes:       []string{"mail.read"},
	}
	data, err := MarshalToken(tok)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"provider":"gmail","access_token":"at","refresh_token":"rt","expires_at":42,"scopes":["mail.read"]}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
	back, err := UnmarshalToken(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Provider != "gmail" || back.AccessToken != "at" || back.RefreshToken != "rt" ||
		back.ExpiresAt != 42 || len(back.Scopes) != 1 || back.Scopes[0] != "mail.read" {
		t.Errorf("round trip = %+v", back)
	}
}

func TestBufferedSessionOrderAndProtocol(t *testing.T) {
	var got message.SendPayload
	s := NewBufferedSession(func(p message.SendPayload, done func(error)) {
		got = p
		done(nil)
	})

	if err := s.SendBodyPlainChunk([]byte("early")); err != nil {
		t.Fatalf("chunk before metadata should buffer: %v", err)
	}
	if err := s.SendMetadata(message.Address{Local: "a", Domain: "x"}, []message.Address{{Local: "b", Domain: "x"}}, nil, "subj"); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if err := s.SendMetadata(message.Address{}, nil, nil, ""); err == nil {
		t.Fatal("second metadata must fail")
	}
	s.SendBodyPlainChunk([]byte(" body"))
	s.SendBodyHTMLChunk([]byte("<b>h</b>"))

	if err := s.SendAttachmentChunk([]byte("x")); err == nil {
		t.Fatal("attachment chunk outside start/end must fail")
	}
	s.StartAttachment("f1.txt", "text/plain")
	s.SendAttachmentChunk([]byte("one"))
	s.EndAttachment()
	s.StartAttachment("f2.txt", "text/plain")
	s.SendAttachmentChunk([]byte("two"))
	s.EndAttachment()

	var done bool
	s.EndSend(func(err error) {
		if err != nil {
			t.Errorf("end send: %v", err)
		}
		done = true
	})
	if !done {
		t.Fatal("completion callback did not fire")
	}
	if got.PlainText != "early body" {
		t.Errorf("plain chunks out of order: %q", got.PlainText)
	}
	if got.HTML != "<b>h</b>" || !got.HasHTML {
		t.Errorf("html = %q", got.HTML)
	}
	if len(got.Attachments) != 2 || got.Attachments[0].Filename != "f1.txt" || got.Attachments[1].Filename != "f2.txt" {
		t.Errorf("attachment order = %v", got.Attachments)
	}
	if got.Subject != "subj" {
		t.Errorf("subject = %q", got.Subject)
	}
}

func TestBufferedSessionRequiresMetadata(t *testing.T) {
	s := NewBufferedSession(func(p message.SendPayload, done func(error)) {
		t.Fatal("submit must not run without metadata")
	})
	var got error
	s.EndSend(func(err error) { got = err })
	if got == nil {
		t.Fatal("EndSend without metadata must fail")
	}
}
