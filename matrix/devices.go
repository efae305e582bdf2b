package matrix

import (
	"sort"
	"sync"

	"github.com/gumdropmail/core/jsonpush"
)

// Device is one tracked device of one user.
type Device struct {
	UserID     string
	DeviceID   string
	Algorithms []string
	Ed25519    string // "" when the device published no signing key
	Curve25519 string // "" when the device published no identity key
	Verified   bool
}

// DeviceTracker maintains the per-user device map plus the dirty-users set
// of accounts whose device lists need a /keys/query refresh.
type DeviceTracker struct {
	mu      sync.RWMutex
	devices map[string]map[string]*Device // user id -> device id -> device
	dirty   map[string]struct{}
}

func NewDeviceTracker() *DeviceTracker {
	return &DeviceTracker{
		devices: make(map[string]map[string]*Device),
		dirty:   make(map[string]struct{}),
	}
}

// MarkDirty queues a user for refresh; called when a sync response flags
// a changed device list.
func (t *DeviceTracker) MarkDirty(userID string) {
	t.mu.Lock()
	t.dirty[userID] = struct{}{}
	t.mu.Unlock()
}

// DirtyUsers returns the queued users, sorted for deterministic request
// bodies.
func (t *DeviceTracker) DirtyUsers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.dirty))
	for u := range t.dirty {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Update replaces a user's device list from a /keys/query response and
// clears the user's dirty bit. Verified flags survive the replacement for
// devices whose ed25519 key is unchanged.
func (t *DeviceTracker) Update(userID string, devices []*Device) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.devices[userID]
	fresh := make(map[string]*Device, len(devices))
	for _, d := range devices {
		if prev, ok := old[d.DeviceID]; ok && prev.Ed25519 == d.Ed25519 {
			d.Verified = prev.Verified
		}
		fresh[d.DeviceID] = d
	}
	t.devices[userID] = fresh
	delete(t.dirty, userID)
}

// Devices returns a copy of one user's devices, sorted by device id.
func (t *DeviceTracker) Devices(userID string) []*Device {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := t.devices[userID]
	out := make([]*Device, 0, len(m))
	for _, d := range m {
		copied := *d
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// SetVerified flips one device's verified flag.
func (t *DeviceTracker) SetVerified(userID, deviceID string, verified bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.devices[userID][deviceID]
	if !ok {
		return false
	}
	d.Verified = verified
	return true
}

// QueryRequestBody renders the canonical /keys/query body for the dirty
// users: {"device_keys": {"<user>": []}} with users in sorted order.
func (t *DeviceTracker) QueryRequestBody() []byte {
	users := t.DirtyUsers()
	w := jsonpush.NewWriter(nil)
	w.StartObject()
	w.Key("device_keys")
	w.StartObject()
	for _, u := range users {
		w.Key(u)
		w.StartArray()
		w.EndArray()
	}
	w.EndObject()
	w.EndObject()
	return w.Bytes()
}

// ClaimRequestBody renders the canonical /keys/claim body asking for one
// signed_curve25519 one-time key per (user, device) pair, sorted.
func (t *DeviceTracker) ClaimRequestBody(wants map[string][]string) []byte {
	users := make([]string, 0, len(wants))
	for u := range wants {
		users = append(users, u)
	}
	sort.Strings(users)

	w := jsonpush.NewWriter(nil)
	w.StartObject()
	w.Key("one_time_keys")
	w.StartObject()
	for _, u := range users {
		devices := append([]string{}, wants[u]...)
		sort.Strings(devices)
		w.Key(u)
		w.StartObject()
		for _, d := range devices {
			w.Key(d)
			w.StringValue("signed_curve25519")
		}
		w.EndObject()
	}
	w.EndObject()
	w.EndObject()
	return w.Bytes()
}
