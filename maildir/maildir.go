// Package maildir is the filesystem-backed Maildir store. Folders are the
// root maildir plus dot-prefixed subdirectories; message identity is the
// base filename, which stays stable across flag-change renames; a ".uidlist"
// file in each folder maps stable UIDs to base filenames and is rewritten
// through a .tmp rename.
package maildir

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gumdropmail/core/extract"
	"github.com/gumdropmail/core/internal/events"
	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/rfc5322"
	"github.com/gumdropmail/core/store"
	"github.com/gumdropmail/core/uri"
)

// deliveryCounter is the process-wide monotonic counter in each delivered
// filename's unique part.
var deliveryCounter int64

var (
	_ store.Store  = (*Store)(nil)
	_ store.Folder = (*Folder)(nil)
)

// Store is one Maildir tree rooted at an absolute path.
type Store struct {
	root string
	lg   log.Logger
	bus  *events.Bus

	mu sync.Mutex // serializes uidlist rewrites per store
}

func NewStore(root string, lg log.Logger) *Store {
	return &Store{root: root, lg: lg, bus: events.New()}
}

// Bus exposes the store's lifecycle event bus.
func (s *Store) Bus() *events.Bus { return s.bus }

func (s *Store) URI() string        { return uri.MaildirStoreURI(s.root) }
func (s *Store) Kind() uri.StoreKind { return uri.KindEmail }

// SetCredential is a no-op: the filesystem carries no credentials.
func (s *Store) SetCredential(username, password string) {}

func (s *Store) Close() error {
	s.bus.Publish(events.StoreClosed)
	return nil
}

// folderDir maps a folder name onto its directory: "INBOX" is the root,
// anything else is a dot-prefixed, filesystem-encoded subdirectory.
func (s *Store) folderDir(name string) string {
	if strings.EqualFold(name, "INBOX") {
		return s.root
	}
	return filepath.Join(s.root, "."+uri.EncodeMailboxName(name))
}

// ListFolders reports INBOX plus every dot-prefixed subdirectory that has
// a cur/ inside it.
func (s *Store) ListFolders(onFolder func(store.FolderInfo), onComplete func(error)) {
	go func() {
		if _, err := os.Stat(filepath.Join(s.root, "cur")); err != nil {
			onComplete(&store.IOError{Err: err})
			return
		}
		onFolder(store.FolderInfo{Name: "INBOX"})
		entries, err := os.ReadDir(s.root)
		if err != nil {
			onComplete(&store.IOError{Err: err})
			return
		}
		for _, entry := range entries {
			if !entry.IsDir() || !strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			if _, err := os.Stat(filepath.Join(s.root, entry.Name(), "cur")); err != nil {
				continue
			}
			onFolder(store.FolderInfo{
				Name:      uri.DecodeMailboxName(entry.Name()[1:]),
				Delimiter: ".",
			})
		}
		onComplete(nil)
	}()
}

// OpenFolder loads the folder's uidlist (creating one on first open) and
// reports Exists/UidValidity/UidNext.
func (s *Store) OpenFolder(name string, onEvent func(store.FolderEvent), onComplete func(store.Folder, error)) {
	go func() {
		dir := s.folderDir(name)
		if _, err := os.Stat(filepath.Join(dir, "cur")); err != nil {
			onComplete(nil, &store.NotFound{Entity: name})
			return
		}
		f := &Folder{store: s, name: name, dir: dir}
		ul, names, err := f.syncUIDList()
		if err != nil {
			onComplete(nil, err)
			return
		}
		onEvent(store.FolderEvent{Kind: store.EventExists, Number: uint64(len(names))})
		onEvent(store.FolderEvent{Kind: store.EventUidValidity, Number: uint64(ul.UIDValidity)})
		onEvent(store.FolderEvent{Kind: store.EventUidNext, Number: uint64(ul.UIDNext)})
		onComplete(f, nil)
	}()
}

// Folder is one maildir directory.
type Folder struct {
	store *Store
	name  string
	dir   string
}

func (f *Folder) Name() string { return f.name }

// listFiles returns the cur/ and new/ base filenames in plain lexicographic
// order; numeric fields compare as text, so a counter of 10 sorts before 9.
func (f *Folder) listFiles() ([]string, error) {
	var names []string
	for _, sub := range []string{"cur", "new"} {
		entries, err := os.ReadDir(filepath.Join(f.dir, sub))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, &store.IOError{Err: err}
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// baseOf strips the ":2,..." info suffix so flag renames keep one identity.
func baseOf(filename string) string {
	if colon := strings.IndexByte(filename, ':'); colon >= 0 {
		return filename[:colon]
	}
	return filename
}

// syncUIDList reconciles the on-disk uidlist with the directory: new files
// get fresh UIDs, removed files drop out, and the file is rewritten via a
// .tmp rename when anything changed.
func (f *Folder) syncUIDList() (uri.UIDList, []string, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	names, err := f.listFiles()
	if err != nil {
		return uri.UIDList{}, nil, err
	}

	path := filepath.Join(f.dir, ".uidlist")
	var ul uri.UIDList
	data, rerr := os.ReadFile(path)
	switch {
	case rerr == nil:
		parsed, perr := uri.ParseUIDList(data)
		if perr != nil {
			return uri.UIDList{}, nil, &store.ParseError{Msg: perr.Error()}
		}
		ul = parsed
	case os.IsNotExist(rerr):
		ul = uri.UIDList{UIDValidity: uint32(time.Now().Unix()), UIDNext: 1}
	default:
		return uri.UIDList{}, nil, &store.IOError{Err: rerr}
	}

	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[baseOf(n)] = true
	}
	known := make(map[string]bool, len(ul.Entries))
	changed := false
	kept := ul.Entries[:0]
	for _, e := range ul.Entries {
		if present[e.Filename] {
			kept = append(kept, e)
			known[e.Filename] = true
		} else {
			changed = true
		}
	}
	ul.Entries = kept
	for _, n := range names {
		base := baseOf(n)
		if !known[base] {
			ul.Entries = append(ul.Entries, uri.UIDListEntry{UID: ul.UIDNext, Filename: base})
			known[base] = true
			ul.UIDNext++
			changed = true
		}
	}

	if changed {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, ul.Encode(), 0o600); err != nil {
			return uri.UIDList{}, nil, &store.IOError{Err: err}
		}
		if err := os.Rename(tmp, path); err != nil {
			return uri.UIDList{}, nil, &store.IOError{Err: err}
		}
	}
	return ul, names, nil
}

func (f *Folder) MessageCount(onComplete func(int64, error)) {
	go func() {
		names, err := f.listFiles()
		if err != nil {
			onComplete(0, err)
			return
		}
		onComplete(int64(len(names)), nil)
	}()
}

// findFile locates the current full filename for a base name (the info
// suffix moves as flags change).
func (f *Folder) findFile(base string) (string, bool) {
	for _, sub := range []string{"cur", "new"} {
		entries, err := os.ReadDir(filepath.Join(f.dir, sub))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if baseOf(entry.Name()) == base {
				return filepath.Join(f.dir, sub, entry.Name()), true
			}
		}
	}
	return "", false
}

// ListConversations reads each message's headers in the window.
func (f *Folder) ListConversations(start, end uint64, onSummary func(message.ConversationSummary), onComplete func(error)) {
	go func() {
		names, err := f.listFiles()
		if err != nil {
			onComplete(err)
			return
		}
		if end > uint64(len(names)) {
			end = uint64(len(names))
		}
		for i := start; i < end; i++ {
			name := names[i]
			path, ok := f.findFile(baseOf(name))
			if !ok {
				continue
			}
			raw, rerr := os.ReadFile(path)
			if rerr != nil {
				onComplete(&store.IOError{Err: rerr})
				return
			}
			env, perr := rfc5322.ParseEnvelope(raw)
			if perr != nil {
				env = message.Envelope{}
			}
			flags := message.NewFlagSet()
			size := int64(len(raw))
			if parsed, err := uri.ParseMaildirName(name); err == nil {
				flags = parsed.Flags
				size = parsed.Size
			}
			onSummary(message.ConversationSummary{
				ID:       message.ID(uri.MaildirMessageId(f.store.root, f.name, baseOf(name))),
				Envelope: env,
				Flags:    flags,
				Size:     size,
			})
		}
		onComplete(nil)
	}()
}

// GetMessage reads one message by its maildir:// id.
func (f *Folder) GetMessage(id message.ID, onMetadata func(message.Envelope), onContentChunk func([]byte), onComplete func(*message.Message, error)) {
	go func() {
		raw := string(id)
		slash := strings.LastIndexByte(raw, '/')
		if slash < 0 {
			onComplete(nil, &store.NotFound{Entity: raw})
			return
		}
		base := raw[slash+1:]
		path, ok := f.findFile(base)
		if !ok {
			onComplete(nil, &store.NotFound{Entity: raw})
			return
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			onComplete(nil, &store.IOError{Err: rerr})
			return
		}
		env, perr := rfc5322.ParseEnvelope(data)
		if perr != nil {
			onComplete(nil, perr)
			return
		}
		onMetadata(env)
		onContentChunk(data)
		flags := message.NewFlagSet()
		if parsed, err := uri.ParseMaildirName(filepath.Base(path)); err == nil {
			flags = parsed.Flags
		}
		msg := &message.Message{
			ConversationSummary: message.ConversationSummary{
				ID:       id,
				Envelope: env,
				Flags:    flags,
				Size:     int64(len(data)),
			},
			Raw:    data,
			HasRaw: true,
		}
		if xerr := extract.Apply(msg); xerr != nil {
			f.store.lg.WithError(xerr).Debug("body extraction failed, raw only")
		}
		onComplete(msg, nil)
	}()
}

// SetFlags renames the message so its info suffix carries the new flag
// set; the base filename is preserved.
func (f *Folder) SetFlags(id message.ID, flags message.FlagSet, onComplete func(error)) {
	go func() {
		raw := string(id)
		slash := strings.LastIndexByte(raw, '/')
		if slash < 0 {
			onComplete(&store.NotFound{Entity: raw})
			return
		}
		base := raw[slash+1:]
		path, ok := f.findFile(base)
		if !ok {
			onComplete(&store.NotFound{Entity: raw})
			return
		}
		parsed, err := uri.ParseMaildirName(filepath.Base(path))
		if err != nil {
			onComplete(&store.ParseError{Msg: err.Error()})
			return
		}
		parsed.Flags = flags
		dest := filepath.Join(f.dir, "cur", parsed.String())
		if err := os.Rename(path, dest); err != nil {
			onComplete(&store.IOError{Err: err})
			return
		}
		onComplete(nil)
	}()
}

// Deliver writes raw message bytes into the folder: tmp/ first, then an
// atomic rename into new/.
func (f *Folder) Deliver(raw []byte, onComplete func(message.ID, error)) {
	go func() {
		now := time.Now()
		name := uri.MaildirName{
			TimestampMS: now.UnixMilli(),
			PID:         os.Getpid(),
			Counter:     atomic.AddInt64(&deliveryCounter, 1),
			Size:        int64(len(raw)),
			Flags:       message.NewFlagSet(),
		}
		filename := name.String()
		tmp := filepath.Join(f.dir, "tmp", filename)
		if err := os.MkdirAll(filepath.Dir(tmp), 0o700); err != nil {
			onComplete("", &store.IOError{Err: err})
			return
		}
		if err := os.WriteFile(tmp, raw, 0o600); err != nil {
			onComplete("", &store.IOError{Err: err})
			return
		}
		dest := filepath.Join(f.dir, "new", filename)
		if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
			onComplete("", &store.IOError{Err: err})
			return
		}
		if err := os.Rename(tmp, dest); err != nil {
			onComplete("", &store.IOError{Err: err})
			return
		}
		if _, _, err := f.syncUIDList(); err != nil {
			onComplete("", err)
			return
		}
		onComplete(message.ID(uri.MaildirMessageId(f.store.root, f.name, baseOf(filename))), nil)
	}()
}
