package uri

import (
	"testing"

	"github.com/gumdropmail/core/message"
)

func TestMaildirNameRoundTrip(t *testing.T) {
	n := MaildirName{
		TimestampMS: 1700000000123,
		PID:         4242,
		Counter:     7,
		Size:        1024,
		Flags:       message.NewFlagSet(message.Seen, message.Flagged),
	}
	filename := n.String()

	parsed, err := ParseMaildirName(filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.String() != filename {
		t.Fatalf("got %q, want %q", parsed.String(), filename)
	}
	if parsed.TimestampMS != n.TimestampMS || parsed.PID != n.PID || parsed.Counter != n.Counter || parsed.Size != n.Size {
		t.Fatalf("got %+v, want %+v", parsed, n)
	}
	if !parsed.Flags.Has(message.Seen) || !parsed.Flags.Has(message.Flagged) {
		t.Fatalf("flags not preserved: %+v", parsed.Flags.List())
	}
}

func TestMaildirNameFlagLetterOrder(t *testing.T) {
	n := MaildirName{
		TimestampMS: 1,
		PID:         1,
		Counter:     1,
		Size:        0,
		Flags:       message.NewFlagSet(message.Deleted, message.Seen, message.Draft),
	}
	got := n.String()
	want := "1.1.1,S=0:2,DST"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMaildirNameCustomFlag(t *testing.T) {
	n := MaildirName{
		TimestampMS: 1,
		PID:         1,
		Counter:     1,
		Size:        5,
		Flags:       message.NewFlagSet(message.Seen, message.CustomFromLetter('b')),
	}
	filename := n.String()
	parsed, err := ParseMaildirName(filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !parsed.Flags.Has(message.CustomFromLetter('b')) {
		t.Fatalf("custom flag 'b' lost, got %+v", parsed.Flags.List())
	}
}

func TestParseMaildirNameRejectsMissingColon(t *testing.T) {
	_, err := ParseMaildirName("1700000000123.4242.7,S=1024")
	if err == nil {
		t.Fatal("expected error for missing ':2,' suffix")
	}
}
