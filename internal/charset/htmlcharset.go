// htmlcharset registers golang.org/x/net/html/charset as the fallback
// charset backend for RFC 2047/2231 decoding, registered as
// mail/encoding package registers it for mail.Dec. Importing this package
// for its side effect is enough; most front-ends should do so by default
// since it covers a much larger charset table than the guaranteed
// UTF-8/ISO-8859-1 pair.
package charset

import (
	"io"

	cs "golang.org/x/net/html/charset"

	"github.com/gumdropmail/core/rfc2047"
)

func init() {
	rfc2047.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return cs.NewReaderLabel(charset, input)
	}
}
