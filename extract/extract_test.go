package extract

import (
	"testing"
)

func TestExtractMultipartAlternative(t *testing.T) {
	raw := []byte("MIME-Version: 1.0\r\nContent-Type: multipart/alternative; boundary=x\r\n\r\n" +
		"--x\r\nContent-Type: text/plain\r\n\r\nPlain.\r\n" +
		"--x\r\nContent-Type: text/html\r\n\r\n<b>HTML</b>\r\n" +
		"--x--")
	content, err := Extract(raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if content.PlainText != "Plain." {
		t.Errorf("plain = %q, want %q", content.PlainText, "Plain.")
	}
	if content.HTML != "<b>HTML</b>" {
		t.Errorf("html = %q, want %q", content.HTML, "<b>HTML</b>")
	}
	if len(content.Attachments) != 0 {
		t.Errorf("attachments = %v, want none", content.Attachments)
	}
}

func TestExtractSinglePartPlain(t *testing.T) {
	raw := []byte("Content-Type: text/plain\r\n\r\njust text")
	content, err := Extract(raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !content.HasPlain || content.PlainText != "just text" {
		t.Errorf("plain = %q", content.PlainText)
	}
	if content.HasHTML {
		t.Error("unexpected html body")
	}
}

func TestExtractBase64Attachment(t *testing.T) {
	raw := []byte("MIME-Version: 1.0\r\nContent-Type: multipart/mixed; boundary=b\r\n\r\n" +
		"--b\r\nContent-Type: text/plain\r\n\r\nbody\r\n" +
		"--b\r\nContent-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=doc.pdf\r\n" +
		"Content-Transfer-Encoding: base64\r\n\r\n" +
		"aGVsbG8gcGRm\r\n" +
		"--b--")
	content, err := Extract(raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if content.PlainText != "body" {
		t.Errorf("plain = %q", content.PlainText)
	}
	if len(content.Attachments) != 1 {
		t.Fatalf("attachments = %d", len(content.Attachments))
	}
	att := content.Attachments[0]
	if att.Filename != "doc.pdf" || att.MIMEType != "application/pdf" {
		t.Errorf("attachment = %+v", att)
	}
	if string(att.Content) != "hello pdf" {
		t.Errorf("decoded content = %q", att.Content)
	}
}

func TestExtractQuotedPrintableBody(t *testing.T) {
	raw := []byte("Content-Type: text/plain\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n\r\n" +
		"Caf=C3=A9 time")
	content, err := Extract(raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if content.PlainText != "Café time" {
		t.Errorf("plain = %q", content.PlainText)
	}
}

func TestExtractNestedMultipart(t *testing.T) {
	raw := []byte("MIME-Version: 1.0\r\nContent-Type: multipart/mixed; boundary=outer\r\n\r\n" +
		"--outer\r\nContent-Type: multipart/alternative; boundary=inner\r\n\r\n" +
		"--inner\r\nContent-Type: text/plain\r\n\r\nplain part\r\n" +
		"--inner\r\nContent-Type: text/html\r\n\r\n<i>html part</i>\r\n" +
		"--inner--\r\n" +
		"--outer\r\nContent-Type: text/csv\r\nContent-Disposition: attachment; filename=data.csv\r\n\r\n1,2\r\n" +
		"--outer--")
	content, err := Extract(raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if content.PlainText != "plain part" || content.HTML != "<i>html part</i>" {
		t.Errorf("bodies = %q / %q", content.PlainText, content.HTML)
	}
	if len(content.Attachments) != 1 || content.Attachments[0].Filename != "data.csv" {
		t.Errorf("attachments = %v", content.Attachments)
	}
}
