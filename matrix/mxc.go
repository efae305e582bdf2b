// Package matrix implements the Matrix side of the module: client-server
// API path building over the HTTP engine, mxc:// content addressing,
// per-user device tracking for Olm/Megolm sessions, and AES-256-CTR
// encrypted attachments.
package matrix

import (
	"fmt"
	"net/url"
	"strings"
)

// MXC is a parsed mxc://server/id content URI.
type MXC struct {
	Server string
	ID     string
}

// ParseMXC parses an mxc:// URI. Both components must be non-empty; any
// other scheme returns ok=false.
func ParseMXC(raw string) (MXC, bool) {
	const prefix = "mxc://"
	if !strings.HasPrefix(raw, prefix) {
		return MXC{}, false
	}
	rest := raw[len(prefix):]
	slash := strings.IndexByte(rest, '/')
	if slash <= 0 || slash == len(rest)-1 {
		return MXC{}, false
	}
	return MXC{Server: rest[:slash], ID: rest[slash+1:]}, true
}

func (m MXC) String() string {
	return "mxc://" + m.Server + "/" + m.ID
}

// DownloadPath maps the content URI to its media-repo download path.
func (m MXC) DownloadPath() string {
	return fmt.Sprintf("/_matrix/media/v3/download/%s/%s",
		url.PathEscape(m.Server), url.PathEscape(m.ID))
}

// ThumbnailPath maps the content URI to a scaled thumbnail path.
func (m MXC) ThumbnailPath(width, height int) string {
	return fmt.Sprintf("/_matrix/media/v3/thumbnail/%s/%s?width=%d&height=%d&method=scale",
		url.PathEscape(m.Server), url.PathEscape(m.ID), width, height)
}
