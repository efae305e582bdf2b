package smtp

import (
	"strings"
	"testing"
	"time"

	"github.com/gumdropmail/core/extract"
	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/rfc5322"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestBuildMIMEEnvelopeRoundTrip(t *testing.T) {
	payload := message.SendPayload{
		From:      message.Address{Name: "Alice", Local: "alice", Domain: "example.com"},
		To:        []message.Address{{Local: "bob", Domain: "example.net"}},
		Cc:        []message.Address{{Local: "carol", Domain: "example.org"}},
		Subject:   "Quarterly report",
		PlainText: "See attached.",
		HasPlain:  true,
	}
	raw, err := BuildMIME(payload, testTime, "mail.example.com")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	env, err := rfc5322.ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(env.From) != 1 || env.From[0].Local != "alice" || env.From[0].Domain != "example.com" {
		t.Errorf("from = %v", env.From)
	}
	if env.From[0].Name != "Alice" {
		t.Errorf("display name = %q", env.From[0].Name)
	}
	if len(env.To) != 1 || env.To[0].Local != "bob" {
		t.Errorf("to = %v", env.To)
	}
	if len(env.Cc) != 1 || env.Cc[0].Local != "carol" {
		t.Errorf("cc = %v", env.Cc)
	}
	if env.Subject != "Quarterly report" {
		t.Errorf("subject = %q", env.Subject)
	}
	if !env.HasDate {
		t.Error("date missing after reparse")
	}
}

func TestBuildMIMEBodiesAndAttachmentsRoundTrip(t *testing.T) {
	payload := message.SendPayload{
		From:      message.Address{Local: "a", Domain: "x.org"},
		To:        []message.Address{{Local: "b", Domain: "x.org"}},
		Subject:   "bodies",
		PlainText: "plain text body",
		HasPlain:  true,
		HTML:      "<p>html body</p>",
		HasHTML:   true,
		Attachments: []message.Attachment{
			{Filename: "one.bin", MIMEType: "application/octet-stream", Content: []byte{0, 1, 2, 250}},
			{Filename: "two.txt", MIMEType: "text/csv", Content: []byte("a,b,c")},
		},
	}
	raw, err := BuildMIME(payload, testTime, "mail.example.com")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	content, err := extract.Extract(raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !content.HasPlain || content.PlainText != "plain text body" {
		t.Errorf("plain = %q (has=%v)", content.PlainText, content.HasPlain)
	}
	if !content.HasHTML || content.HTML != "<p>html body</p>" {
		t.Errorf("html = %q (has=%v)", content.HTML, content.HasHTML)
	}
	if len(content.Attachments) != 2 {
		t.Fatalf("got %d attachments, want 2", len(content.Attachments))
	}
	// Declared order must survive the trip.
	if content.Attachments[0].Filename != "one.bin" || content.Attachments[1].Filename != "two.txt" {
		t.Errorf("attachment order = %q, %q", content.Attachments[0].Filename, content.Attachments[1].Filename)
	}
	if string(content.Attachments[0].Content) != string([]byte{0, 1, 2, 250}) {
		t.Errorf("binary attachment corrupted: %v", content.Attachments[0].Content)
	}
	if string(content.Attachments[1].Content) != "a,b,c" {
		t.Errorf("text attachment = %q", content.Attachments[1].Content)
	}
	if content.Attachments[1].MIMEType != "text/csv" {
		t.Errorf("attachment mime type = %q", content.Attachments[1].MIMEType)
	}
}

func TestBuildMIMENonASCIISubject(t *testing.T) {
	payload := message.SendPayload{
		From:      message.Address{Local: "a", Domain: "x.org"},
		To:        []message.Address{{Local: "b", Domain: "x.org"}},
		Subject:   "Grüße aus Köln",
		PlainText: "hi",
		HasPlain:  true,
	}
	raw, err := BuildMIME(payload, testTime, "mail.example.com")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(string(raw), "Grüße") {
		t.Error("raw bytes must not carry the subject unencoded")
	}
	env, err := rfc5322.ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if env.Subject != "Grüße aus Köln" {
		t.Errorf("subject = %q", env.Subject)
	}
}

func TestBuildMIMEDotStuffing(t *testing.T) {
	payload := message.SendPayload{
		From:      message.Address{Local: "a", Domain: "x.org"},
		To:        []message.Address{{Local: "b", Domain: "x.org"}},
		PlainText: "first\r\n.hidden terminator\r\nlast",
		HasPlain:  true,
	}
	raw, err := BuildMIME(payload, testTime, "mail.example.com")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(string(raw), "\n.hidden") {
		t.Error("leading dot not stuffed")
	}
	if !strings.Contains(string(raw), "\n..hidden") {
		t.Error("stuffed dot missing")
	}
}

func TestReplyClassification(t *testing.T) {
	r := &reply{code: 550, lines: []string{"5.7.8 Authentication credentials invalid"}}
	if e, ok := r.enhanced(); !ok || !e.AuthFailure() {
		t.Errorf("enhanced = %+v ok=%v", e, ok)
	}
	r = &reply{code: 451, lines: []string{"4.3.1 Temporary local problem"}}
	if e, ok := r.enhanced(); !ok || !e.Transient() {
		t.Errorf("enhanced = %+v ok=%v", e, ok)
	}
	r = &reply{code: 250, lines: []string{"OK"}}
	if _, ok := r.enhanced(); ok {
		t.Error("plain reply text must not parse as an enhanced code")
	}
}
