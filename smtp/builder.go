package smtp

import (
	stdb64 "encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/gumdropmail/core/cryptox"
	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/rfc2047"
)

// BuildMIME renders a SendPayload as RFC 822 bytes: a multipart/alternative
// part when both bodies are present, wrapped in multipart/mixed when there
// are attachments. The declared attachment order is preserved exactly.
func BuildMIME(payload message.SendPayload, now time.Time, hostname string) ([]byte, error) {
	var b strings.Builder

	writeAddressHeader(&b, "From", []message.Address{payload.From})
	writeAddressHeader(&b, "To", payload.To)
	if len(payload.Cc) > 0 {
		writeAddressHeader(&b, "Cc", payload.Cc)
	}
	if payload.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\r\n", rfc2047.Encode(payload.Subject))
	}
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	msgID, err := newMessageID(now, hostname)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(&b, "Message-ID: <%s>\r\n", msgID)
	b.WriteString("MIME-Version: 1.0\r\n")

	bodyBoundary, err := newBoundary()
	if err != nil {
		return nil, err
	}

	switch {
	case len(payload.Attachments) > 0:
		fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", bodyBoundary)
		inner, err := buildBodyPart(payload)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "--%s\r\n", bodyBoundary)
		b.WriteString(inner)
		for _, att := range payload.Attachments {
			fmt.Fprintf(&b, "--%s\r\n", bodyBoundary)
			writeAttachment(&b, att)
		}
		fmt.Fprintf(&b, "--%s--\r\n", bodyBoundary)

	case payload.HasPlain && payload.HasHTML:
		fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", bodyBoundary)
		fmt.Fprintf(&b, "--%s\r\n", bodyBoundary)
		writeTextPart(&b, "text/plain", payload.PlainText)
		fmt.Fprintf(&b, "--%s\r\n", bodyBoundary)
		writeTextPart(&b, "text/html", payload.HTML)
		fmt.Fprintf(&b, "--%s--\r\n", bodyBoundary)

	case payload.HasHTML:
		writeTextPart(&b, "text/html", payload.HTML)

	default:
		writeTextPart(&b, "text/plain", payload.PlainText)
	}

	return []byte(b.String()), nil
}

// buildBodyPart renders the body entity that sits alongside attachments
// inside multipart/mixed.
func buildBodyPart(payload message.SendPayload) (string, error) {
	var b strings.Builder
	if payload.HasPlain && payload.HasHTML {
		boundary, err := newBoundary()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", boundary)
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		writeTextPart(&b, "text/plain", payload.PlainText)
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		writeTextPart(&b, "text/html", payload.HTML)
		fmt.Fprintf(&b, "--%s--\r\n", boundary)
		return b.String(), nil
	}
	if payload.HasHTML {
		writeTextPart(&b, "text/html", payload.HTML)
	} else {
		writeTextPart(&b, "text/plain", payload.PlainText)
	}
	return b.String(), nil
}

func writeTextPart(b *strings.Builder, mimeType, body string) {
	fmt.Fprintf(b, "Content-Type: %s; charset=UTF-8\r\n", mimeType)
	// Line breaks and tabs are fine in a 7bit body; other control bytes
	// and non-ASCII force base64.
	needsBase64 := false
	for i := 0; i < len(body); i++ {
		if c := body[i]; c > 0x7e || (c < 0x20 && c != '\r' && c != '\n' && c != '\t') {
			needsBase64 = true
			break
		}
	}
	if needsBase64 {
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		writeBase64Lines(b, []byte(body))
	} else {
		b.WriteString("Content-Transfer-Encoding: 7bit\r\n\r\n")
		b.WriteString(dotSafeBody(body))
		if !strings.HasSuffix(body, "\r\n") {
			b.WriteString("\r\n")
		}
	}
}

func writeAttachment(b *strings.Builder, att message.Attachment) {
	mimeType := att.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	fmt.Fprintf(b, "Content-Type: %s\r\n", mimeType)
	if att.Filename != "" {
		fmt.Fprintf(b, "Content-Disposition: attachment; filename=%q\r\n", rfc2047.Encode(att.Filename))
	} else {
		b.WriteString("Content-Disposition: attachment\r\n")
	}
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	writeBase64Lines(b, att.Content)
}

// writeBase64Lines wraps base64 output at 76 characters.
func writeBase64Lines(b *strings.Builder, data []byte) {
	encoded := stdb64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	if len(encoded) > 0 {
		b.WriteString(encoded)
		b.WriteString("\r\n")
	}
}

// dotSafeBody dot-stuffs lines that begin with "." so the DATA terminator
// cannot be forged from body text.
func dotSafeBody(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, ".") {
			lines[i] = "." + line
		}
	}
	return strings.Join(lines, "\n")
}

func writeAddressHeader(b *strings.Builder, name string, addrs []message.Address) {
	if len(addrs) == 0 {
		return
	}
	rendered := make([]string, 0, len(addrs))
	for _, a := range addrs {
		rendered = append(rendered, renderAddress(a))
	}
	fmt.Fprintf(b, "%s: %s\r\n", name, strings.Join(rendered, ", "))
}

func renderAddress(a message.Address) string {
	spec := a.Local
	if a.Domain != "" {
		spec += "@" + a.Domain
	}
	if a.Name == "" {
		return spec
	}
	name := a.Name
	if rfc2047.NeedsEncoding(name) {
		name = rfc2047.Encode(name)
	} else if strings.ContainsAny(name, `",<>`) {
		name = `"` + strings.ReplaceAll(strings.ReplaceAll(name, `\`, `\\`), `"`, `\"`) + `"`
	}
	return name + " <" + spec + ">"
}

func newBoundary() (string, error) {
	raw, err := cryptox.RandomBytes(12)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("=_%x", raw), nil
}

func newMessageID(now time.Time, hostname string) (string, error) {
	raw, err := cryptox.RandomBytes(8)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%x@%s", now.Unix(), raw, hostname), nil
}
