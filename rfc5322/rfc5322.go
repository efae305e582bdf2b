// Package rfc5322 converts MIME header events (from mimepart) into the
// structured Envelope defined in the message package. It
// extends the MIME handler vocabulary conceptually with
// date_header/address_header/message_id_header/unexpected_header: those
// are not separate mimepart.Handler methods (mimepart only knows about MIME
// structural headers) but a classification this package applies to every
// GenericHeader callback it receives.
package rfc5322

import (
	"strings"

	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/mimepart"
	"github.com/gumdropmail/core/rfc2047"
)

// headerClass says how a header's raw value should be decoded before use,
// per header class: MIME structural headers pass through untouched,
// unstructured/address-list headers are RFC 2047 decoded, everything else
// passes through.
type headerClass int

const (
	classStructural headerClass = iota
	classUnstructuredOrAddress
	classOther
)

var addressHeaders = map[string]bool{
	"From": true, "To": true, "Cc": true, "Bcc": true,
	"Reply-To": true, "Sender": true,
}

var unstructuredHeaders = map[string]bool{
	"Subject": true, "Comments": true, "Keywords": true,
}

func classify(name string) headerClass {
	switch name {
	case "Content-Type", "Content-Disposition", "Content-Transfer-Encoding",
		"Content-Id", "Content-Description", "Mime-Version":
		return classStructural
	}
	if addressHeaders[name] || unstructuredHeaders[name] {
		return classUnstructuredOrAddress
	}
	return classOther
}

func decodeHeaderValue(name, value string) string {
	switch classify(name) {
	case classStructural:
		return value
	case classUnstructuredOrAddress:
		return rfc2047.Decode(value)
	default:
		return value
	}
}

// envelopeHandler captures only the top-level entity's headers; mimepart
// nested-entity events are ignored (use mimepart directly, or the extract
// package, for bodies).
type envelopeHandler struct {
	topNode    string
	sawTop     bool
	inTop      bool
	headers    map[string][]string
	obsoletes  []string
}

func newEnvelopeHandler() *envelopeHandler {
	return &envelopeHandler{headers: map[string][]string{}}
}

func (e *envelopeHandler) StartEntity(node string) {
	if !e.sawTop {
		e.topNode = node
		e.sawTop = true
		e.inTop = true
		return
	}
	if node != e.topNode {
		e.inTop = false
	}
}
func (e *envelopeHandler) ContentType(string, string, map[string]string)   {}
func (e *envelopeHandler) ContentDisposition(string, map[string]string)    {}
func (e *envelopeHandler) ContentTransferEncoding(string)                  {}
func (e *envelopeHandler) ContentID(string)                                {}
func (e *envelopeHandler) ContentDescription(string)                      {}
func (e *envelopeHandler) MIMEVersion(string)                             {}
func (e *envelopeHandler) GenericHeader(name, value string) {
	if !e.inTop {
		return
	}
	decoded := decodeHeaderValue(name, value)
	e.headers[name] = append(e.headers[name], decoded)
	if looksObsolete(name, value) {
		e.obsoletes = append(e.obsoletes, name)
	}
}
func (e *envelopeHandler) EndHeaders()            {}
func (e *envelopeHandler) BodyContent([]byte)     {}
func (e *envelopeHandler) UnexpectedContent([]byte) {}
func (e *envelopeHandler) EndEntity(string)       {}

// looksObsolete flags a Date header whose raw form uses an obsolete RFC 822
// structure: a two-digit year after the month, or a legacy zone name. Other
// headers are not inspected; bare CR/LF inside folded values is not checked.
func looksObsolete(name, value string) bool {
	if name == "Date" {
		fields := strings.Fields(value)
		for i := 0; i < len(fields)-1; i++ {
			if _, isMonth := months[strings.ToLower(fields[i])]; isMonth && len(fields[i+1]) == 2 {
				return true
			}
		}
		for _, f := range fields {
			if _, ok := legacyZones[strings.ToUpper(f)]; ok {
				return true
			}
		}
	}
	return false
}

// ParseEnvelope extracts the Envelope tuple from a raw RFC 5322
// message (headers, optionally followed by a body mimepart.Parser will
// still walk but whose events this handler discards).
func ParseEnvelope(raw []byte) (message.Envelope, error) {
	h := newEnvelopeHandler()
	p := mimepart.New(h)
	if _, err := p.Feed(raw, true); err != nil {
		return message.Envelope{}, err
	}
	return buildEnvelope(h.headers), nil
}

func buildEnvelope(headers map[string][]string) message.Envelope {
	var env message.Envelope
	if v := firstHeader(headers, "From"); v != "" {
		env.From = ParseAddressList(v)
	}
	if v := firstHeader(headers, "To"); v != "" {
		env.To = ParseAddressList(v)
	}
	if v := firstHeader(headers, "Cc"); v != "" {
		env.Cc = ParseAddressList(v)
	}
	if v := firstHeader(headers, "Subject"); v != "" {
		env.Subject = v
	}
	if v := firstHeader(headers, "Date"); v != "" {
		if t, ok := ParseDate(v); ok {
			env.Date = t
			env.HasDate = true
		}
	}
	if v := firstHeader(headers, "Message-Id"); v != "" {
		if local, domain, ok := ParseMessageID(v); ok {
			if domain != "" {
				env.MessageID = local + "@" + domain
			} else {
				env.MessageID = local
			}
		}
	}
	return env
}

func firstHeader(h map[string][]string, name string) string {
	vals := h[name]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
