// Package uri builds and parses the MessageId and Store/Folder URI forms
// this module speaks: scheme-discriminated store identities, folder-name
// percent-encoding, and the per-protocol MessageId layouts used by the
// adapter packages (imap, pop3, maildir, smtp's nntp sibling, nostr, matrix).
package uri

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gumdropmail/core/message"
)

// StoreKind discriminates what kind of account a store URI names.
type StoreKind int

const (
	KindEmail StoreKind = iota
	KindNostr
	KindMatrix
)

// defaultSecurePorts maps a plain scheme to the well-known port at which
// the "s" variant is implied on output.
var defaultSecurePorts = map[string]struct {
	securePort int
	secureName string
}{
	"imap": {993, "imaps"},
	"pop3": {995, "pop3s"},
	"smtp": {465, "smtps"},
	"nntp": {563, "nntps"},
}

// StoreURI builds the canonical store identity URI for the email protocols,
// choosing the "s"-suffixed scheme when port matches that protocol's
// well-known secure port.
func StoreURI(scheme, user, host string, port int) string {
	if sec, ok := defaultSecurePorts[scheme]; ok && port == sec.securePort {
		scheme = sec.secureName
	}
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if user != "" {
		b.WriteString(user)
		b.WriteByte('@')
	}
	b.WriteString(host)
	if port != 0 {
		fmt.Fprintf(&b, ":%d", port)
	}
	return b.String()
}

// MaildirStoreURI and MboxStoreURI use the triple-slash absolute-path form.
func MaildirStoreURI(absPath string) string { return "maildir://" + absPath }
func MboxStoreURI(absPath string) string    { return "mbox://" + absPath }

// FolderURI appends a percent-encoded folder name to a store URI:
// "/ ? # [ ] @ % space" and all non-unreserved bytes are escaped.
func FolderURI(storeURI, folderName string) string {
	return storeURI + "/" + EscapeFolderSegment(folderName)
}

// EscapeFolderSegment percent-encodes folderName per the folder-URI rule.
// This differs from mailbox-name codec's `=HH` scheme (see mailbox.go) —
// the two operate at different layers (URL path segment vs. filesystem name).
// Delegates to message.EscapeFolderName, the single implementation of this
// rule, rather than keeping a second copy of the unreserved-byte table.
func EscapeFolderSegment(name string) string {
	return message.EscapeFolderName(name)
}

// IMAPMessageId builds imap://<user@host>/<mailbox>/<uid>.
func IMAPMessageId(userHost, mailbox string, uid uint32) string {
	return fmt.Sprintf("imap://%s/%s/%d", userHost, EscapeFolderSegment(mailbox), uid)
}

// POP3MessageId builds pop3://<user@host>/<uidl>.
func POP3MessageId(userHost, uidl string) string {
	return fmt.Sprintf("pop3://%s/%s", userHost, EscapeFolderSegment(uidl))
}

// MaildirMessageId builds maildir://<path>/<folder>/<filename>.
func MaildirMessageId(path, folder, filename string) string {
	return fmt.Sprintf("maildir://%s/%s/%s", path, EscapeFolderSegment(folder), filename)
}

// MboxMessageId builds mbox://<path>/#<id>.
func MboxMessageId(path string, id string) string {
	return fmt.Sprintf("mbox://%s/#%s", path, id)
}

// NostrMessageId and NostrStoreURI/NostrTransportURI build the opaque
// nostr: forms — nostr:store:<id>, nostr:transport:<id>, nostr:nevent:<id>,
// nostr:dm:<id>.
func NostrStoreURI(id string) string     { return "nostr:store:" + id }
func NostrTransportURI(id string) string { return "nostr:transport:" + id }
func NostrEventMessageId(id string) string { return "nostr:nevent:" + id }
func NostrDMMessageId(id string) string    { return "nostr:dm:" + id }

// OAuth-gated store/transport identities: the scheme carries the provider
// and role, the authority is the account email.
func GmailStoreURI(email string) string     { return "gmail://" + email }
func GmailSMTPURI(email string) string      { return "gmail+smtp://" + email }
func GraphStoreURI(email string) string     { return "graph://" + email }
func GraphSendURI(email string) string      { return "graph+send://" + email }

// MatrixStoreURI builds matrix:store:<homeserver>:<user>.
func MatrixStoreURI(homeserver, user string) string {
	return fmt.Sprintf("matrix:store:%s:%s", homeserver, user)
}

// NNTPPostURI builds the nntp+post transport URI.
func NNTPPostURI(user, host string, port int) string {
	var b strings.Builder
	b.WriteString("nntp+post://")
	if user != "" {
		b.WriteString(user)
		b.WriteByte('@')
	}
	b.WriteString(host)
	if port != 0 {
		fmt.Fprintf(&b, ":%d", port)
	}
	return b.String()
}

// ParsedStoreURI is the decomposed form of any store-identity URI.
type ParsedStoreURI struct {
	Scheme string
	User   string
	Host   string
	Port   int
	Path   string // maildir:// / mbox:// absolute path form
}

// ParseStoreURI decomposes a store URI of any of the supported forms.
func ParseStoreURI(raw string) (ParsedStoreURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ParsedStoreURI{}, fmt.Errorf("uri: %w", err)
	}
	p := ParsedStoreURI{Scheme: u.Scheme}
	switch u.Scheme {
	case "maildir", "mbox":
		p.Path = u.Path
		return p, nil
	}
	if u.User != nil {
		p.User = u.User.Username()
	}
	p.Host = u.Hostname()
	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return ParsedStoreURI{}, fmt.Errorf("uri: invalid port %q", portStr)
		}
		p.Port = port
	}
	return p, nil
}

// ParseIMAPMessageId reverses IMAPMessageId.
func ParseIMAPMessageId(raw string) (userHost, mailbox string, uid uint32, err error) {
	const prefix = "imap://"
	if !strings.HasPrefix(raw, prefix) {
		return "", "", 0, fmt.Errorf("uri: not an imap message id: %q", raw)
	}
	rest := raw[len(prefix):]
	firstSlash := strings.IndexByte(rest, '/')
	if firstSlash < 0 {
		return "", "", 0, fmt.Errorf("uri: malformed imap message id: %q", raw)
	}
	userHost = rest[:firstSlash]
	rest = rest[firstSlash+1:]
	lastSlash := strings.LastIndexByte(rest, '/')
	if lastSlash < 0 {
		return "", "", 0, fmt.Errorf("uri: malformed imap message id: %q", raw)
	}
	mailboxEsc := rest[:lastSlash]
	uidStr := rest[lastSlash+1:]
	mailbox, err = url.PathUnescape(mailboxEsc)
	if err != nil {
		return "", "", 0, fmt.Errorf("uri: %w", err)
	}
	n, err := strconv.ParseUint(uidStr, 10, 32)
	if err != nil {
		return "", "", 0, fmt.Errorf("uri: invalid uid %q", uidStr)
	}
	return userHost, mailbox, uint32(n), nil
}
