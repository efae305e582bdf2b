package nostr

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/jsonpush"
	"github.com/gumdropmail/core/store"
	"github.com/gumdropmail/core/websocket"
)

// Filter is one REQ filter object. Zero-valued fields are omitted on the
// wire.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	PTags   []string `json:"#p,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Until   int64    `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// RelayHandler receives the relay's messages for one connection.
type RelayHandler interface {
	// EventReceived delivers one EVENT frame's event for a subscription.
	EventReceived(subID string, ev *Event)
	// EndOfStoredEvents signals EOSE for a subscription.
	EndOfStoredEvents(subID string)
	// PublishResult delivers an OK frame: accepted plus the relay's note.
	PublishResult(eventID string, accepted bool, msg string)
	// Notice delivers a NOTICE frame's human-readable text.
	Notice(msg string)
	// SubscriptionClosed delivers a CLOSED frame for a subscription.
	SubscriptionClosed(subID, reason string)
	// AuthChallenge delivers an AUTH frame's challenge string.
	AuthChallenge(challenge string)
	// Disconnected fires once when the connection dies.
	Disconnected(err error)
}

// Relay is one WebSocket connection to a relay URL. Each text frame is one
// JSON array whose leading string tags the message.
type Relay struct {
	url string
	lg  log.Logger
	h   RelayHandler

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int
}

// DialRelay connects and starts dispatching relay messages to h.
func DialRelay(url string, lg log.Logger, h RelayHandler) (*Relay, error) {
	r := &Relay{url: url, lg: lg, h: h}
	conn, err := websocket.Dial(url, lg, (*relaySink)(r))
	if err != nil {
		return nil, err
	}
	r.conn = conn
	return r, nil
}

// URL returns the relay's URL.
func (r *Relay) URL() string { return r.url }

// Subscribe opens a subscription with one or more filters and returns the
// subscription id.
func (r *Relay) Subscribe(filters ...Filter) (string, error) {
	r.mu.Lock()
	r.nextID++
	subID := fmt.Sprintf("sub%d", r.nextID)
	r.mu.Unlock()

	// Filters carry optional fields, so each is marshaled with
	// encoding/json and spliced into the frame array.
	var out []byte
	out = append(out, `["REQ",`...)
	out = append(out, fmt.Sprintf("%q", subID)...)
	for _, f := range filters {
		fj, err := json.Marshal(f)
		if err != nil {
			return "", err
		}
		out = append(out, ',')
		out = append(out, fj...)
	}
	out = append(out, ']')
	if err := r.conn.SendText(out); err != nil {
		return "", err
	}
	return subID, nil
}

// Unsubscribe closes a subscription.
func (r *Relay) Unsubscribe(subID string) error {
	w := jsonpush.NewWriter(nil)
	w.StartArray()
	w.StringValue("CLOSE")
	w.StringValue(subID)
	w.EndArray()
	return r.conn.SendText(w.Bytes())
}

// Publish submits a signed event.
func (r *Relay) Publish(ev *Event) error {
	var out []byte
	out = append(out, `["EVENT",`...)
	out = append(out, MarshalEvent(ev)...)
	out = append(out, ']')
	return r.conn.SendText(out)
}

// Close tears the connection down.
func (r *Relay) Close() error {
	return r.conn.Close()
}

// relaySink adapts WebSocket messages onto RelayHandler.
type relaySink Relay

func (s *relaySink) relay() *Relay { return (*Relay)(s) }

func (s *relaySink) TextMessage(payload []byte) {
	r := s.relay()
	var frame []json.RawMessage
	if err := json.Unmarshal(payload, &frame); err != nil || len(frame) == 0 {
		r.lg.WithField("relay", r.url).Warn("relay sent a non-array frame")
		return
	}
	var tag string
	if err := json.Unmarshal(frame[0], &tag); err != nil {
		r.lg.WithField("relay", r.url).Warn("relay frame missing leading tag")
		return
	}
	switch tag {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		json.Unmarshal(frame[1], &subID)
		ev, err := ParseEvent(frame[2])
		if err != nil {
			r.lg.WithField("relay", r.url).WithError(err).Warn("relay sent unparseable event")
			return
		}
		r.h.EventReceived(subID, ev)
	case "OK":
		if len(frame) < 3 {
			return
		}
		var id string
		var accepted bool
		var msg string
		json.Unmarshal(frame[1], &id)
		json.Unmarshal(frame[2], &accepted)
		if len(frame) >= 4 {
			json.Unmarshal(frame[3], &msg)
		}
		r.h.PublishResult(id, accepted, msg)
	case "EOSE":
		if len(frame) < 2 {
			return
		}
		var subID string
		json.Unmarshal(frame[1], &subID)
		r.h.EndOfStoredEvents(subID)
	case "NOTICE":
		if len(frame) < 2 {
			return
		}
		var msg string
		json.Unmarshal(frame[1], &msg)
		r.h.Notice(msg)
	case "CLOSED":
		if len(frame) < 2 {
			return
		}
		var subID, reason string
		json.Unmarshal(frame[1], &subID)
		if len(frame) >= 3 {
			json.Unmarshal(frame[2], &reason)
		}
		r.h.SubscriptionClosed(subID, reason)
	case "AUTH":
		if len(frame) < 2 {
			return
		}
		var challenge string
		json.Unmarshal(frame[1], &challenge)
		r.h.AuthChallenge(challenge)
	default:
		r.lg.WithField("relay", r.url).WithField("tag", tag).Debug("ignoring unknown relay frame")
	}
}

func (s *relaySink) BinaryMessage(payload []byte) {
	// Relays speak text frames only; a binary frame is noise.
}

func (s *relaySink) Closed(code uint16, reason string) {
	r := s.relay()
	r.h.Disconnected(&store.TransportError{Err: fmt.Errorf("relay closed: %d %s", code, reason)})
}

func (s *relaySink) Failed(err error) {
	s.relay().h.Disconnected(err)
}
