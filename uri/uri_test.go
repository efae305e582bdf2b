package uri

import "testing"

func TestStoreURIImplicitSecureScheme(t *testing.T) {
	got := StoreURI("imap", "alice", "mail.example.com", 993)
	want := "imaps://alice@mail.example.com:993"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStoreURIPlainPort(t *testing.T) {
	got := StoreURI("imap", "alice", "mail.example.com", 143)
	want := "imap://alice@mail.example.com:143"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMaildirStoreURITripleSlash(t *testing.T) {
	got := MaildirStoreURI("/home/alice/Maildir")
	want := "maildir:///home/alice/Maildir"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFolderURIPercentEncoding(t *testing.T) {
	got := FolderURI("imap://alice@mail.example.com", "Work/Inbox")
	want := "imap://alice@mail.example.com/Work%2FInbox"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIMAPMessageIdRoundTrip(t *testing.T) {
	id := IMAPMessageId("alice@mail.example.com", "Work/Inbox", 42)
	userHost, mailbox, uid, err := ParseIMAPMessageId(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userHost != "alice@mail.example.com" || mailbox != "Work/Inbox" || uid != 42 {
		t.Fatalf("got (%q, %q, %d)", userHost, mailbox, uid)
	}
}

func TestParseStoreURIEmail(t *testing.T) {
	p, err := ParseStoreURI("imaps://alice@mail.example.com:993")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.User != "alice" || p.Host != "mail.example.com" || p.Port != 993 {
		t.Fatalf("got %+v", p)
	}
}

func TestParseStoreURIMaildir(t *testing.T) {
	p, err := ParseStoreURI("maildir:///home/alice/Maildir")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Path != "/home/alice/Maildir" {
		t.Fatalf("got %+v", p)
	}
}

func TestMailboxNameCodecRoundTrip(t *testing.T) {
	cases := []string{
		"INBOX",
		"Work/Clients",
		"Sp ecial:Name*With\"Bad<Chars>|=",
		"100% done",
	}
	for _, name := range cases {
		enc := EncodeMailboxName(name)
		got := DecodeMailboxName(enc)
		if got != name {
			t.Errorf("round trip failed for %q: encoded %q, decoded %q", name, enc, got)
		}
	}
}

func TestMailboxNameCodecMalformedPassthrough(t *testing.T) {
	got := DecodeMailboxName("abc=ZZdef")
	want := "abc=ZZdef"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
