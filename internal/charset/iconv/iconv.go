// Package iconv registers GNU iconv as the charset backend for RFC 2047/2231
// decoding, as an alternative to internal/charset's golang.org/x/net/html/charset
// backend. It supports a larger range of encodings than the Go stdlib tables
// at the cost of cgo. Import for
// its side effect only; importing both this and internal/charset is harmless
// but redundant — whichever init() runs last wins.
package iconv

import (
	"fmt"
	"io"

	ico "gopkg.in/iconv.v1"

	"github.com/gumdropmail/core/rfc2047"
)

func init() {
	rfc2047.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		cd, err := ico.Open("UTF-8", charset)
		if err != nil {
			return nil, fmt.Errorf("unhandled charset %q: %w", charset, err)
		}
		return ico.NewReader(cd, input, 32), nil
	}
}
