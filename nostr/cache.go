package nostr

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gumdropmail/core/store"
)

// pathLocks is the process-global registry of per-file mutexes guarding
// cache writes. Readers proceed lock-free; writers take the named lock.
var pathLocks struct {
	sync.Mutex
	m map[string]*sync.Mutex
}

func lockFor(path string) *sync.Mutex {
	pathLocks.Lock()
	defer pathLocks.Unlock()
	if pathLocks.m == nil {
		pathLocks.m = make(map[string]*sync.Mutex)
	}
	mu, ok := pathLocks.m[path]
	if !ok {
		mu = &sync.Mutex{}
		pathLocks.m[path] = mu
	}
	return mu
}

// Cache is the local DM store: one JSON-array file per conversation at
// <configDir>/nostr/<our_pubkey>/<their_pubkey>.json, holding raw (still
// encrypted) events.
type Cache struct {
	configDir string
	ourPubkey string
}

func NewCache(configDir, ourPubkey string) *Cache {
	return &Cache{configDir: configDir, ourPubkey: ourPubkey}
}

func (c *Cache) dir() string {
	return filepath.Join(c.configDir, "nostr", c.ourPubkey)
}

// ConversationPath returns the cache file path for a peer pubkey.
func (c *Cache) ConversationPath(theirPubkey string) string {
	return filepath.Join(c.dir(), theirPubkey+".json")
}

// Append adds ev to the peer's conversation file, deduplicating by
// lowercased event id. The file is rewritten whole under the per-path lock.
func (c *Cache) Append(theirPubkey string, ev *Event) error {
	path := c.ConversationPath(theirPubkey)
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	events, err := readEventArray(path)
	if err != nil {
		return err
	}
	want := strings.ToLower(ev.ID)
	for _, existing := range events {
		if strings.ToLower(existing.ID) == want {
			return nil
		}
	}
	events = append(events, ev)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return &store.IOError{Err: err}
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range events {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(MarshalEvent(e))
	}
	buf.WriteByte(']')
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return &store.IOError{Err: err}
	}
	return nil
}

// Load returns all cached events for a peer. A missing file is an empty
// conversation, not an error.
func (c *Cache) Load(theirPubkey string) ([]*Event, error) {
	return readEventArray(c.ConversationPath(theirPubkey))
}

func readEventArray(path string) ([]*Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &store.IOError{Err: err}
	}
	var events []*Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, &store.ParseError{Msg: "nostr: cache file " + path + ": " + err.Error()}
	}
	return events, nil
}

// Conversation summarizes one peer's cache file for list views.
type Conversation struct {
	TheirPubkey string
	LastActive  int64 // unix seconds of the most recent cached event
}

// ListConversations enumerates the cache directory. Recent activity is read
// by scanning each file backwards for its last "created_at": occurrence
// rather than parsing the whole array.
func (c *Cache) ListConversations() ([]Conversation, error) {
	entries, err := os.ReadDir(c.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &store.IOError{Err: err}
	}
	var out []Conversation
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		pubkey := strings.TrimSuffix(name, ".json")
		last, err := lastCreatedAt(filepath.Join(c.dir(), name))
		if err != nil {
			return nil, err
		}
		out = append(out, Conversation{TheirPubkey: pubkey, LastActive: last})
	}
	return out, nil
}

// lastCreatedAt scans for the final `"created_at":` in the raw file bytes
// and parses the integer that follows.
func lastCreatedAt(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, &store.IOError{Err: err}
	}
	marker := []byte(`"created_at":`)
	idx := bytes.LastIndex(data, marker)
	if idx < 0 {
		return 0, nil
	}
	rest := data[idx+len(marker):]
	end := 0
	for end < len(rest) && (rest[end] == ' ' || rest[end] == '-' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(rest[:end])), 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}
