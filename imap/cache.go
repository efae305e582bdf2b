package imap

import (
	"fmt"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/gumdropmail/core/internal/log"
)

// uidCache is the UID→MessageId index, keyed by (account, mailbox) and
// epoch-stamped with the mailbox's UIDVALIDITY. A validity change drops
// the mailbox's whole index. The in-process map always runs; a Redis pool
// is layered on when an address is configured, so several processes can
// share one index.
type uidCache struct {
	lg log.Logger

	mu       sync.Mutex
	validity map[string]uint32            // account/mailbox -> uidvalidity
	ids      map[string]map[uint32]string // account/mailbox -> uid -> message id

	pool *redis.Pool
}

func newUIDCache(redisAddr string, lg log.Logger) *uidCache {
	c := &uidCache{
		lg:       lg,
		validity: make(map[string]uint32),
		ids:      make(map[string]map[uint32]string),
	}
	if redisAddr != "" {
		c.pool = &redis.Pool{
			MaxIdle:     2,
			IdleTimeout: 240 * time.Second,
			Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", redisAddr) },
		}
	}
	return c
}

func cacheKey(userHost, mailbox string) string {
	return userHost + "/" + mailbox
}

// checkValidity compares the server's UIDVALIDITY against the cached
// epoch. It reports true when the epoch changed and the index was dropped.
func (c *uidCache) checkValidity(userHost, mailbox string, validity uint32) bool {
	key := cacheKey(userHost, mailbox)
	c.mu.Lock()
	prev, had := c.validity[key]
	c.validity[key] = validity
	changed := had && prev != validity
	if changed {
		delete(c.ids, key)
	}
	c.mu.Unlock()

	if changed && c.pool != nil {
		conn := c.pool.Get()
		if _, err := conn.Do("DEL", "imapuid:"+key); err != nil {
			c.lg.WithError(err).Debug("redis uid-index drop failed")
		}
		conn.Close()
	}
	return changed
}

// remember records one UID's MessageId under the current epoch.
func (c *uidCache) remember(userHost, mailbox string, validity, uid uint32, id string) {
	key := cacheKey(userHost, mailbox)
	c.mu.Lock()
	if c.validity[key] != validity {
		c.mu.Unlock()
		return
	}
	m := c.ids[key]
	if m == nil {
		m = make(map[uint32]string)
		c.ids[key] = m
	}
	m[uid] = id
	c.mu.Unlock()

	if c.pool != nil {
		conn := c.pool.Get()
		if _, err := conn.Do("HSET", "imapuid:"+key, fmt.Sprintf("%d", uid), id); err != nil {
			c.lg.WithError(err).Debug("redis uid-index write failed")
		}
		conn.Close()
	}
}

// lookup resolves a UID to its MessageId, trying the in-process map first
// then Redis.
func (c *uidCache) lookup(userHost, mailbox string, uid uint32) (string, bool) {
	key := cacheKey(userHost, mailbox)
	c.mu.Lock()
	if id, ok := c.ids[key][uid]; ok {
		c.mu.Unlock()
		return id, true
	}
	c.mu.Unlock()

	if c.pool != nil {
		conn := c.pool.Get()
		defer conn.Close()
		id, err := redis.String(conn.Do("HGET", "imapuid:"+key, fmt.Sprintf("%d", uid)))
		if err == nil && id != "" {
			return id, true
		}
	}
	return "", false
}
