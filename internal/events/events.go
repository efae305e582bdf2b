// Package events is a small typed pub/sub layer over github.com/asaskevich/EventBus,
// used internally so a Store's lifecycle (connect, credential-needed, idle
// timeout, reconnect) can be observed by a front-end without the core
// depending on any UI toolkit.
package events

import (
	evbus "github.com/asaskevich/EventBus"
)

// Event identifies a Store lifecycle occurrence.
type Event int

const (
	// StoreConnected fires once a Store's underlying connection is established.
	StoreConnected Event = iota
	// StoreCredentialNeeded fires when an operation failed with NeedsCredential.
	StoreCredentialNeeded
	// StoreIdleTimeout fires when a persistent-connection adapter closes an idle session.
	StoreIdleTimeout
	// StoreReconnected fires after a transparent reconnection succeeds.
	StoreReconnected
	// StoreClosed fires when a Store is explicitly closed.
	StoreClosed
)

var names = [...]string{
	"store:connected",
	"store:credential_needed",
	"store:idle_timeout",
	"store:reconnected",
	"store:closed",
}

func (e Event) String() string {
	return names[e]
}

// Bus is a per-Store event bus. The zero value is not usable; use New.
type Bus struct {
	bus evbus.Bus
}

// New returns a ready-to-use Bus.
func New() *Bus {
	return &Bus{bus: evbus.New()}
}

// Subscribe registers fn to be called when topic fires. fn's signature must
// match the arguments passed to Publish for that topic.
func (b *Bus) Subscribe(topic Event, fn interface{}) error {
	return b.bus.Subscribe(topic.String(), fn)
}

// Unsubscribe removes a previously subscribed handler.
func (b *Bus) Unsubscribe(topic Event, fn interface{}) error {
	return b.bus.Unsubscribe(topic.String(), fn)
}

// Publish fires topic synchronously to all current subscribers.
func (b *Bus) Publish(topic Event, args ...interface{}) {
	b.bus.Publish(topic.String(), args...)
}
