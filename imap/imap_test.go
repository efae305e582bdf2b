package imap

import (
	"testing"

	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/store"
)

func TestParseListLine(t *testing.T) {
	info, ok := parseListLine(`* LIST (\HasNoChildren \Marked) "/" "Sent Items"`)
	if !ok {
		t.Fatal("list line rejected")
	}
	if info.Name != "Sent Items" || info.Delimiter != "/" {
		t.Errorf("info = %+v", info)
	}
	if len(info.Attributes) != 2 || info.Attributes[0] != `\HasNoChildren` {
		t.Errorf("attributes = %v", info.Attributes)
	}

	info, ok = parseListLine(`* LIST () NIL INBOX`)
	if !ok || info.Name != "INBOX" || info.Delimiter != "" {
		t.Errorf("NIL-delimiter line = %+v ok=%v", info, ok)
	}

	if _, ok := parseListLine(`* STATUS INBOX (MESSAGES 2)`); ok {
		t.Error("non-LIST line accepted")
	}
}

func TestParseStatusItems(t *testing.T) {
	cases := []struct {
		line string
		kind store.FolderEventKind
		num  uint64
	}{
		{"* 23 EXISTS", store.EventExists, 23},
		{"* 1 RECENT", store.EventRecent, 1},
		{"* OK [UIDVALIDITY 3857529045] UIDs valid", store.EventUidValidity, 3857529045},
		{"* OK [UIDNEXT 4392] Predicted next UID", store.EventUidNext, 4392},
	}
	for _, tc := range cases {
		ev, ok := parseStatusItem(tc.line)
		if !ok {
			t.Errorf("%q rejected", tc.line)
			continue
		}
		if ev.Kind != tc.kind || ev.Number != tc.num {
			t.Errorf("%q -> %+v", tc.line, ev)
		}
	}

	ev, ok := parseStatusItem(`* FLAGS (\Answered \Seen custom)`)
	if !ok || ev.Kind != store.EventFlags {
		t.Fatalf("flags line -> %+v ok=%v", ev, ok)
	}
	if !ev.Flags.Has(message.Seen) || !ev.Flags.Has(message.Answered) || !ev.Flags.Has(message.Custom("custom")) {
		t.Errorf("flags = %v", ev.Flags.List())
	}

	ev, ok = parseStatusItem("* OK [PERMANENTFLAGS (\\Deleted)] Limited")
	if !ok || ev.Kind != store.EventOther {
		t.Errorf("permanentflags -> %+v ok=%v", ev, ok)
	}
}

func TestLiteralAfter(t *testing.T) {
	line := "* 1 FETCH (UID 7 BODY[] {5}\r\nhello)"
	data, ok := literalAfter(line)
	if !ok || string(data) != "hello" {
		t.Errorf("literal = %q ok=%v", data, ok)
	}
	if _, ok := literalAfter("* 1 FETCH (UID 7)"); ok {
		t.Error("line without literal accepted")
	}
}

func TestQuote(t *testing.T) {
	if got := quote(`war "and" peace\`); got != `"war \"and\" peace\\"` {
		t.Errorf("quote = %s", got)
	}
}

func TestUIDCacheValidityInvalidation(t *testing.T) {
	lg, _ := log.GetLogger("off")
	c := newUIDCache("", lg)

	if changed := c.checkValidity("u@h", "INBOX", 100); changed {
		t.Error("first validity sighting must not report a change")
	}
	c.remember("u@h", "INBOX", 100, 7, "imap://u@h/INBOX/7")
	if id, ok := c.lookup("u@h", "INBOX", 7); !ok || id != "imap://u@h/INBOX/7" {
		t.Errorf("lookup = %q ok=%v", id, ok)
	}

	if changed := c.checkValidity("u@h", "INBOX", 101); !changed {
		t.Error("validity change not detected")
	}
	if _, ok := c.lookup("u@h", "INBOX", 7); ok {
		t.Error("stale uid mapping survived a uidvalidity change")
	}
}

func TestUIDCacheIgnoresStaleEpochWrites(t *testing.T) {
	lg, _ := log.GetLogger("off")
	c := newUIDCache("", lg)
	c.checkValidity("u@h", "INBOX", 200)
	// A write stamped with the old epoch must be dropped.
	c.remember("u@h", "INBOX", 100, 3, "imap://u@h/INBOX/3")
	if _, ok := c.lookup("u@h", "INBOX", 3); ok {
		t.Error("stale-epoch write accepted")
	}
}

func TestFlagFromIMAP(t *testing.T) {
	if !flagFromIMAP(`\Seen`).Equal(message.Seen) {
		t.Error(`\Seen`)
	}
	if !flagFromIMAP(`\DELETED`).Equal(message.Deleted) {
		t.Error("case-insensitive system flag")
	}
	f := flagFromIMAP("$Label1")
	if !f.IsCustom() || f.String() != "$Label1" {
		t.Errorf("custom flag = %v", f)
	}
}
