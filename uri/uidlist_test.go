package uri

import (
	"strings"
	"testing"
)

func TestUIDListEncodeDecodeRoundTrip(t *testing.T) {
	u := UIDList{
		UIDValidity: 1700000000,
		UIDNext:     4,
		Entries: []UIDListEntry{
			{UID: 3, Filename: "1700000000123.1.2,S=100:2,S"},
			{UID: 1, Filename: "1700000000100.1.0,S=50:2,"},
		},
	}
	data := u.Encode()
	if !strings.HasPrefix(string(data), uidlistMagic+"\n") {
		t.Fatalf("missing header: %q", data)
	}

	parsed, err := ParseUIDList(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.UIDValidity != u.UIDValidity || parsed.UIDNext != u.UIDNext {
		t.Fatalf("got %+v", parsed)
	}
	if len(parsed.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(parsed.Entries))
	}
	if parsed.Entries[0].UID != 1 || parsed.Entries[1].UID != 3 {
		t.Fatalf("entries not sorted by uid: %+v", parsed.Entries)
	}
}

func TestParseUIDListRejectsMissingHeader(t *testing.T) {
	_, err := ParseUIDList([]byte("uidvalidity 1\nuidnext 2\n"))
	if err == nil {
		t.Fatal("expected error for missing magic header")
	}
}
