package maildir

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/store"
	"github.com/gumdropmail/core/uri"
)

func testLogger(t *testing.T) log.Logger {
	lg, err := log.GetLogger("off")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return lg
}

func newTestMaildir(t *testing.T) *Store {
	root := t.TempDir()
	for _, sub := range []string{"cur", "new", "tmp"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o700); err != nil {
			t.Fatal(err)
		}
	}
	return NewStore(root, testLogger(t))
}

func openFolder(t *testing.T, s *Store, name string) store.Folder {
	var wg sync.WaitGroup
	wg.Add(1)
	var folder store.Folder
	var ferr error
	s.OpenFolder(name, func(store.FolderEvent) {}, func(f store.Folder, err error) {
		folder, ferr = f, err
		wg.Done()
	})
	wg.Wait()
	if ferr != nil {
		t.Fatalf("open folder: %v", ferr)
	}
	return folder
}

func deliver(t *testing.T, f *Folder, raw string) message.ID {
	var wg sync.WaitGroup
	wg.Add(1)
	var id message.ID
	var derr error
	f.Deliver([]byte(raw), func(gotID message.ID, err error) {
		id, derr = gotID, err
		wg.Done()
	})
	wg.Wait()
	if derr != nil {
		t.Fatalf("deliver: %v", derr)
	}
	return id
}

const sampleMessage = "From: alice@example.com\r\nTo: bob@example.com\r\nSubject: Hello\r\n\r\nBody\r\n"

func TestDeliverAndList(t *testing.T) {
	s := newTestMaildir(t)
	folder := openFolder(t, s, "INBOX").(*Folder)

	id := deliver(t, folder, sampleMessage)
	if !strings.HasPrefix(string(id), "maildir://") {
		t.Errorf("id = %s", id)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var summaries []message.ConversationSummary
	folder.ListConversations(0, 10, func(sum message.ConversationSummary) {
		summaries = append(summaries, sum)
	}, func(err error) {
		if err != nil {
			t.Errorf("list: %v", err)
		}
		wg.Done()
	})
	wg.Wait()
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries", len(summaries))
	}
	if summaries[0].Envelope.Subject != "Hello" {
		t.Errorf("subject = %q", summaries[0].Envelope.Subject)
	}
}

func TestFlagRenamePreservesBase(t *testing.T) {
	s := newTestMaildir(t)
	folder := openFolder(t, s, "INBOX").(*Folder)
	id := deliver(t, folder, sampleMessage)

	raw := string(id)
	base := raw[strings.LastIndexByte(raw, '/')+1:]

	var wg sync.WaitGroup
	wg.Add(1)
	folder.SetFlags(id, message.NewFlagSet(message.Seen, message.Flagged), func(err error) {
		if err != nil {
			t.Errorf("set flags: %v", err)
		}
		wg.Done()
	})
	wg.Wait()

	path, ok := folder.findFile(base)
	if !ok {
		t.Fatal("message lost after flag rename")
	}
	name := filepath.Base(path)
	if baseOf(name) != base {
		t.Errorf("base changed: %q -> %q", base, baseOf(name))
	}
	parsed, err := uri.ParseMaildirName(name)
	if err != nil {
		t.Fatalf("parse renamed file: %v", err)
	}
	if !parsed.Flags.Has(message.Seen) || !parsed.Flags.Has(message.Flagged) {
		t.Errorf("flags = %v", parsed.Flags.List())
	}
}

func TestUIDListStableAcrossOpens(t *testing.T) {
	s := newTestMaildir(t)
	folder := openFolder(t, s, "INBOX").(*Folder)
	deliver(t, folder, sampleMessage)

	ul1, _, err := folder.syncUIDList()
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	deliver(t, folder, "Subject: Second\r\n\r\n.\r\n")
	ul2, _, err := folder.syncUIDList()
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if ul1.UIDValidity != ul2.UIDValidity {
		t.Error("uidvalidity changed between opens of the same maildir")
	}
	if len(ul2.Entries) != 2 {
		t.Fatalf("entries = %d", len(ul2.Entries))
	}
	if ul2.Entries[0].UID >= ul2.Entries[1].UID {
		t.Error("uids must be ascending")
	}
	// The first message keeps its original UID.
	if ul2.Entries[0].UID != ul1.Entries[0].UID {
		t.Error("existing message was renumbered")
	}
}

func TestUIDListWrittenAtomically(t *testing.T) {
	s := newTestMaildir(t)
	folder := openFolder(t, s, "INBOX").(*Folder)
	deliver(t, folder, sampleMessage)
	if _, err := os.Stat(filepath.Join(folder.dir, ".uidlist")); err != nil {
		t.Fatalf("uidlist missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(folder.dir, ".uidlist.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestGetMessageExtractsBody(t *testing.T) {
	s := newTestMaildir(t)
	folder := openFolder(t, s, "INBOX").(*Folder)
	id := deliver(t, folder, sampleMessage)

	var wg sync.WaitGroup
	wg.Add(1)
	var got *message.Message
	folder.GetMessage(id, func(message.Envelope) {}, func([]byte) {}, func(m *message.Message, err error) {
		if err != nil {
			t.Errorf("get: %v", err)
		}
		got = m
		wg.Done()
	})
	wg.Wait()
	if got == nil || !got.HasRaw {
		t.Fatal("no message returned")
	}
	if !got.HasPlain || strings.TrimSpace(got.PlainText) != "Body" {
		t.Errorf("plain = %q", got.PlainText)
	}
}
