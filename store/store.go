// Package store is the facade the rest of the module plugs into: Stores
// holding Folders of Messages, plus Transports that accept structured send
// payloads. Every operation is strictly non-blocking and callback-driven;
// terminal callbacks fire exactly once per operation.
package store

import (
	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/uri"
)

// FolderInfo describes one folder discovered by ListFolders.
type FolderInfo struct {
	Name       string
	Delimiter  string // hierarchy delimiter, "" when flat
	Attributes []string
	Size       int64
}

// FolderEventKind tags the mailbox-status items delivered while a folder
// is being opened.
type FolderEventKind int

const (
	EventExists FolderEventKind = iota
	EventRecent
	EventFlags
	EventUidValidity
	EventUidNext
	EventOther
)

// FolderEvent is one mailbox-status item. Number is meaningful for Exists,
// Recent, UidValidity and UidNext; Flags for EventFlags; Text for EventOther.
type FolderEvent struct {
	Kind   FolderEventKind
	Number uint64
	Flags  message.FlagSet
	Text   string
}

// Store is a long-lived connection-bearing object identified by a URI.
// Stores may be used concurrently; events may be delivered concurrently
// with user operations.
type Store interface {
	// URI returns the canonical store-identity URI.
	URI() string

	// Kind returns the store's discriminant (Email, Nostr, Matrix).
	Kind() uri.StoreKind

	// ListFolders calls onFolder once per discovered folder, then
	// onComplete with the terminal result.
	ListFolders(onFolder func(FolderInfo), onComplete func(error))

	// OpenFolder calls onEvent for every mailbox-status item, then
	// onComplete with a Folder handle or an error.
	OpenFolder(name string, onEvent func(FolderEvent), onComplete func(Folder, error))

	// SetCredential resolves a NeedsCredential failure; the caller retries
	// the failed operation afterwards.
	SetCredential(username, password string)

	// Close releases the store's connections. The store must not be used
	// after Close.
	Close() error
}

// OAuthStore is implemented by stores authenticated with a bearer token
// (gmail://, graph://). SetOAuthCredential replaces the bearer and drops
// any cached connection so the next operation reconnects with the new token.
type OAuthStore interface {
	Store
	SetOAuthCredential(email, token string)
}

// DeleteMode selects what Folder deletion does on stores that support a
// trash folder.
type DeleteMode int

const (
	// DeleteMark sets the Deleted flag and leaves the message in place.
	DeleteMark DeleteMode = iota
	// DeleteMoveToTrash moves the message to the configured trash folder.
	DeleteMoveToTrash
)

// DeleteConfigurable is the IMAP-specific hook for choosing delete semantics.
type DeleteConfigurable interface {
	SetDeleteConfig(mode DeleteMode, trashFolder string)
}

// Folder is a container of messages inside an open Store session.
type Folder interface {
	Name() string

	// ListConversations walks the half-open position window [start, end),
	// calling onSummary per message then onComplete once.
	ListConversations(start, end uint64, onSummary func(message.ConversationSummary), onComplete func(error))

	// MessageCount reports the folder's total message count.
	MessageCount(onComplete func(int64, error))

	// GetMessage fetches one message: onMetadata fires once with the
	// envelope, onContentChunk zero or more times with body bytes in order,
	// then onComplete with the assembled message or an error.
	GetMessage(id message.ID, onMetadata func(message.Envelope), onContentChunk func([]byte), onComplete func(*message.Message, error))
}

// Transport accepts outbound messages for dispatch.
type Transport interface {
	// Send is the one-shot submission path.
	Send(payload message.SendPayload, onComplete func(error))

	// StartSend opens the streaming path.
	StartSend() (SendSession, error)
}

// SendSession is the streaming outbound builder. Calls follow a strict
// order: SendMetadata exactly once, then any interleaving of plain/HTML
// body chunks, then zero or more attachment triples, then EndSend. The
// emitted wire format preserves the caller-declared chunk and attachment
// order exactly.
type SendSession interface {
	SendMetadata(from message.Address, to, cc []message.Address, subject string) error
	SendBodyPlainChunk(chunk []byte) error
	SendBodyHTMLChunk(chunk []byte) error
	StartAttachment(filename, mimeType string) error
	SendAttachmentChunk(chunk []byte) error
	EndAttachment() error

	// EndSend flushes the session; onComplete fires exactly once when the
	// underlying transport has fully delivered or failed.
	EndSend(onComplete func(error))
}
