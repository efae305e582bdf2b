// Package extract walks a raw RFC 822 message through the MIME push-parser
// and assembles the pieces a front-end wants: the plain-text body, the HTML
// body, and the ordered attachment list, with content-transfer-encodings
// undone through the streaming codecs.
package extract

import (
	"strings"

	"github.com/gumdropmail/core/codec/base64"
	"github.com/gumdropmail/core/codec/qp"
	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/mimepart"
	"github.com/gumdropmail/core/rfc2047"
)

// Content is the structured result of one extraction.
type Content struct {
	PlainText   string
	HasPlain    bool
	HTML        string
	HasHTML     bool
	Attachments []message.Attachment
}

// Extract parses raw and pulls out bodies and attachments. The first
// text/plain and text/html entities without an attachment disposition
// become the bodies; every other leaf becomes an attachment, in document
// order, except a further text leaf with no Content-Disposition, which is
// dropped.
func Extract(raw []byte) (*Content, error) {
	sink := &entitySink{}
	p := mimepart.New(sink)
	if _, err := p.Feed(raw, true); err != nil {
		return nil, err
	}
	return sink.finish(), nil
}

// entityState tracks one entity while its events stream through.
type entityState struct {
	superType   string
	subType     string
	params      map[string]string
	disposition string
	dispParams  map[string]string
	encoding    string
	body        []byte
}

type entitySink struct {
	stack  []*entityState
	leaves []*entityState
}

func (s *entitySink) top() *entityState {
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

func (s *entitySink) StartEntity(boundary string) {
	s.stack = append(s.stack, &entityState{superType: "text", subType: "plain"})
}

func (s *entitySink) ContentType(superType, subType string, params map[string]string) {
	if e := s.top(); e != nil {
		e.superType = superType
		e.subType = subType
		e.params = params
	}
}

func (s *entitySink) ContentDisposition(disposition string, params map[string]string) {
	if e := s.top(); e != nil {
		e.disposition = strings.ToLower(disposition)
		e.dispParams = params
	}
}

func (s *entitySink) ContentTransferEncoding(enc string) {
	if e := s.top(); e != nil {
		e.encoding = strings.ToLower(strings.TrimSpace(enc))
	}
}

func (s *entitySink) ContentID(string)                 {}
func (s *entitySink) ContentDescription(string)        {}
func (s *entitySink) MIMEVersion(string)               {}
func (s *entitySink) GenericHeader(name, value string) {}
func (s *entitySink) EndHeaders()                      {}

func (s *entitySink) BodyContent(chunk []byte) {
	if e := s.top(); e != nil {
		e.body = append(e.body, chunk...)
	}
}

func (s *entitySink) UnexpectedContent(chunk []byte) {}

func (s *entitySink) EndEntity(boundary string) {
	e := s.top()
	s.stack = s.stack[:len(s.stack)-1]
	if e != nil && e.superType != "multipart" {
		s.leaves = append(s.leaves, e)
	}
}

// decodeBody undoes the entity's content-transfer-encoding.
func decodeBody(e *entityState) []byte {
	switch e.encoding {
	case "base64":
		var d base64.Decoder
		dst := make([]byte, len(e.body))
		_, written := d.Decode(e.body, dst, 0, len(dst), true)
		return dst[:written]
	case "quoted-printable":
		var d qp.Decoder
		dst := make([]byte, len(e.body))
		_, written := d.Decode(e.body, dst, 0, len(dst), true)
		return dst[:written]
	default:
		return e.body
	}
}

func (s *entitySink) finish() *Content {
	out := &Content{}
	for _, e := range s.leaves {
		body := decodeBody(e)
		isAttachment := e.disposition == "attachment"
		if !isAttachment && e.superType == "text" {
			switch e.subType {
			case "plain":
				if !out.HasPlain {
					out.PlainText = string(body)
					out.HasPlain = true
					continue
				}
			case "html":
				if !out.HasHTML {
					out.HTML = string(body)
					out.HasHTML = true
					continue
				}
			}
		}
		if e.superType == "text" && !isAttachment && e.disposition == "" {
			// A further inline text alternative adds nothing.
			continue
		}
		filename := ""
		if e.dispParams != nil {
			filename = e.dispParams["filename"]
		}
		if filename == "" && e.params != nil {
			filename = e.params["name"]
		}
		filename = rfc2047.Decode(filename)
		out.Attachments = append(out.Attachments, message.Attachment{
			Filename: filename,
			MIMEType: e.superType + "/" + e.subType,
			Content:  body,
		})
	}
	return out
}

// Apply fills a Message's bodies and attachments from its raw bytes.
func Apply(msg *message.Message) error {
	if !msg.HasRaw {
		return nil
	}
	content, err := Extract(msg.Raw)
	if err != nil {
		return err
	}
	msg.PlainText = content.PlainText
	msg.HasPlain = content.HasPlain
	msg.HTML = content.HTML
	msg.HasHTML = content.HasHTML
	msg.Attachments = content.Attachments
	return nil
}
