package rfc2231

import "testing"

func TestSimpleCharsetValue(t *testing.T) {
	params := []RawParam{
		{Name: "filename", Extended: true, Index: 0, Value: "utf-8''%e2%82%ac%20rates.txt"},
	}
	out := Decode(params)
	if out["filename"] != "€ rates.txt" {
		t.Fatalf("got %q", out["filename"])
	}
}

func TestContinuations(t *testing.T) {
	params := []RawParam{
		{Name: "title", Index: 0, Extended: true, Value: "us-ascii''This%20is%20"},
		{Name: "title", Index: 1, Extended: false, Value: "even%20more%20"},
		{Name: "title", Index: 2, Extended: true, Value: "%2A%2A%2Afun%2A%2A%2A"},
	}
	out := Decode(params)
	// segment 1 isn't extended, so its percent-escapes are literal text.
	want := "This is even%20more%20***fun***"
	if out["title"] != want {
		t.Fatalf("got %q want %q", out["title"], want)
	}
}

func TestPlainValueRoundTrip(t *testing.T) {
	params := []RawParam{{Name: "Name", Index: 0, Value: "plain.txt"}}
	out := Decode(params)
	if out["name"] != "plain.txt" {
		t.Fatalf("got %q", out["name"])
	}
}

func TestCaseFoldedNameFirstOccurrenceWins(t *testing.T) {
	params := []RawParam{
		{Name: "Name", Index: 0, Value: "first.txt"},
		{Name: "NAME", Index: 0, Value: "second.txt"},
		{Name: "name", Index: 0, Extended: true, Value: "utf-8''third.txt"},
	}
	out := Decode(params)
	if out["name"] != "first.txt" {
		t.Fatalf("got %q", out["name"])
	}
}
