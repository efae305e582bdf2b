package rfc5322

import "testing"

func TestParseDateStandard(t *testing.T) {
	tm, ok := ParseDate("Fri, 21 Nov 1997 09:55:06 -0600")
	if !ok {
		t.Fatal("expected date to parse")
	}
	if tm.Year() != 1997 || tm.Month().String() != "November" || tm.Day() != 21 {
		t.Fatalf("got %v", tm)
	}
}

func TestParseDateTwoDigitYearBoundary(t *testing.T) {
	tm, ok := ParseDate("21 Nov 99 09:55:06 GMT")
	if !ok {
		t.Fatal("expected date to parse")
	}
	if tm.Year() != 1999 {
		t.Fatalf("want 1999, got %d", tm.Year())
	}

	tm2, ok := ParseDate("21 Nov 40 09:55:06 GMT")
	if !ok {
		t.Fatal("expected date to parse")
	}
	if tm2.Year() != 2040 {
		t.Fatalf("want 2040, got %d", tm2.Year())
	}
}

func TestParseDateLegacyZone(t *testing.T) {
	tm, ok := ParseDate("Fri, 21 Nov 1997 09:55:06 PST")
	if !ok {
		t.Fatal("expected date to parse")
	}
	if tm.Format("-0700") != "-0800" {
		t.Fatalf("expected PST -> -0800, got %s", tm.Format("-0700"))
	}
}

func TestParseAddressListBasic(t *testing.T) {
	addrs := ParseAddressList(`"Alice Example" <alice@example.com>, bob@example.com`)
	if len(addrs) != 2 {
		t.Fatalf("expected 2 addresses, got %d: %+v", len(addrs), addrs)
	}
	if addrs[0].Name != "Alice Example" || addrs[0].Local != "alice" || addrs[0].Domain != "example.com" {
		t.Errorf("got %+v", addrs[0])
	}
	if addrs[1].Local != "bob" || addrs[1].Domain != "example.com" {
		t.Errorf("got %+v", addrs[1])
	}
}

func TestParseMessageIDWithComment(t *testing.T) {
	local, domain, ok := ParseMessageID("(a comment) <id@host> (trailing)")
	if !ok || local != "id" || domain != "host" {
		t.Fatalf("got local=%q domain=%q ok=%v", local, domain, ok)
	}
}

func TestParseEnvelopeScenario(t *testing.T) {
	raw := "From: alice@example.com\r\nTo: bob@example.com\r\nSubject: Hello\r\n" +
		"Date: Fri, 21 Nov 1997 09:55:06 -0600\r\nMessage-ID: <id@host>\r\n\r\nBody"
	env, err := ParseEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.From) != 1 || env.From[0].Local != "alice" || env.From[0].Domain != "example.com" {
		t.Errorf("from = %+v", env.From)
	}
	if len(env.To) != 1 || env.To[0].Local != "bob" {
		t.Errorf("to = %+v", env.To)
	}
	if env.Subject != "Hello" {
		t.Errorf("subject = %q", env.Subject)
	}
	if !env.HasDate {
		t.Error("expected date present")
	}
	if env.MessageID != "id@host" {
		t.Errorf("message id = %q", env.MessageID)
	}
}
