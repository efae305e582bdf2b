package store

import "github.com/gumdropmail/core/message"

// BufferedSession accumulates a SendSession into a SendPayload and hands
// the whole payload to a submit function at EndSend. Transports whose wire
// format is built from the complete message (Nostr events, Matrix JSON,
// and the MIME message that SMTP and NNTP posting send) layer on this.
type BufferedSession struct {
	payload message.SendPayload
	current *message.Attachment
	submit  func(message.SendPayload, func(error))
	metaSet bool
}

// NewBufferedSession wraps submit, which must call its completion callback
// exactly once.
func NewBufferedSession(submit func(message.SendPayload, func(error))) *BufferedSession {
	return &BufferedSession{submit: submit}
}

func (b *BufferedSession) SendMetadata(from message.Address, to, cc []message.Address, subject string) error {
	if b.metaSet {
		return &ProtocolError{Msg: "send session: metadata already sent"}
	}
	b.metaSet = true
	b.payload.From = from
	b.payload.To = to
	b.payload.Cc = cc
	b.payload.Subject = subject
	return nil
}

func (b *BufferedSession) SendBodyPlainChunk(chunk []byte) error {
	b.payload.PlainText += string(chunk)
	b.payload.HasPlain = true
	return nil
}

func (b *BufferedSession) SendBodyHTMLChunk(chunk []byte) error {
	b.payload.HTML += string(chunk)
	b.payload.HasHTML = true
	return nil
}

func (b *BufferedSession) StartAttachment(filename, mimeType string) error {
	if b.current != nil {
		return &ProtocolError{Msg: "send session: attachment already open"}
	}
	b.current = &message.Attachment{Filename: filename, MIMEType: mimeType}
	return nil
}

func (b *BufferedSession) SendAttachmentChunk(chunk []byte) error {
	if b.current == nil {
		return &ProtocolError{Msg: "send session: no attachment open"}
	}
	b.current.Content = append(b.current.Content, chunk...)
	return nil
}

func (b *BufferedSession) EndAttachment() error {
	if b.current == nil {
		return &ProtocolError{Msg: "send session: no attachment open"}
	}
	b.payload.Attachments = append(b.payload.Attachments, *b.current)
	b.current = nil
	return nil
}

func (b *BufferedSession) EndSend(onComplete func(error)) {
	if !b.metaSet {
		onComplete(&ProtocolError{Msg: "send session: metadata never sent"})
		return
	}
	b.submit(b.payload, onComplete)
}
