package httpc

import (
	"errors"
	"testing"

	"github.com/gumdropmail/core/store"
)

func TestHPACKRequestRoundTrip(t *testing.T) {
	var enc HPACKEncoder
	block := enc.EncodeRequest("GET", "/", "https", "example.com", []HeaderField{
		{"accept", "*/*"},
	})
	dec := NewHPACKDecoder(4096)
	fields, err := dec.Decode(block)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []HeaderField{
		{":method", "GET"},
		{":path", "/"},
		{":scheme", "https"},
		{":authority", "example.com"},
		{"accept", "*/*"},
	}
	if len(fields) != len(want) {
		t.Fatalf("got %d fields, want %d", len(fields), len(want))
	}
	for i, f := range fields {
		if f != want[i] {
			t.Errorf("field %d = %v, want %v", i, f, want[i])
		}
	}
}

func TestHPACKLiteralListRoundTrip(t *testing.T) {
	var enc HPACKEncoder
	headers := []HeaderField{
		{"x-first", "one"},
		{"x-second", ""},
		{"x-first", "repeated"},
	}
	dec := NewHPACKDecoder(4096)
	fields, err := dec.Decode(enc.Encode(headers))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fields) != len(headers) {
		t.Fatalf("got %d fields, want %d", len(fields), len(headers))
	}
	for i, f := range fields {
		if f != headers[i] {
			t.Errorf("field %d = %v, want %v", i, f, headers[i])
		}
	}
}

func TestHPACKStaticIndexed(t *testing.T) {
	// 0x82 = indexed entry 2 = :method GET, 0x87 = :scheme https.
	dec := NewHPACKDecoder(4096)
	fields, err := dec.Decode([]byte{0x82, 0x87})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fields[0].Name != ":method" || fields[0].Value != "GET" {
		t.Errorf("index 2 = %v", fields[0])
	}
	if fields[1].Name != ":scheme" || fields[1].Value != "https" {
		t.Errorf("index 7 = %v", fields[1])
	}
}

func TestHPACKIncrementalIndexingGrowsTable(t *testing.T) {
	dec := NewHPACKDecoder(4096)
	// 0x40 = literal with incremental indexing, new name.
	block := []byte{0x40, 0x04, 'n', 'a', 'm', 'e', 0x05, 'v', 'a', 'l', 'u', 'e'}
	if _, err := dec.Decode(block); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Entry 62 is the first dynamic slot.
	fields, err := dec.Decode([]byte{0x80 | 62})
	if err != nil {
		t.Fatalf("decode dynamic index: %v", err)
	}
	if fields[0].Name != "name" || fields[0].Value != "value" {
		t.Errorf("dynamic entry = %v", fields[0])
	}
}

func TestHPACKIntegerOverflow(t *testing.T) {
	// Prefix saturated, then continuation bytes far past a 63-bit shift.
	block := []byte{0x7f}
	for i := 0; i < 12; i++ {
		block = append(block, 0xff)
	}
	block = append(block, 0x01)
	dec := NewHPACKDecoder(4096)
	_, err := dec.Decode(block)
	var pe *store.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("want ParseError, got %v", err)
	}
}

func TestHPACKHuffmanRejected(t *testing.T) {
	// Literal without indexing, new name with the Huffman bit set.
	block := []byte{0x10, 0x81, 0xff}
	dec := NewHPACKDecoder(4096)
	_, err := dec.Decode(block)
	var ue *store.Unsupported
	if !errors.As(err, &ue) {
		t.Fatalf("want Unsupported, got %v", err)
	}
}

func TestHPACKEviction(t *testing.T) {
	dec := NewHPACKDecoder(64) // one small entry fits, two do not
	add := func(name, value string) {
		block := []byte{0x40, byte(len(name))}
		block = append(block, name...)
		block = append(block, byte(len(value)))
		block = append(block, value...)
		if _, err := dec.Decode(block); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	add("aaaa", "1111") // 4+4+32 = 40
	add("bbbb", "2222") // evicts the first
	if _, err := dec.Decode([]byte{0x80 | 63}); err == nil {
		t.Fatal("index 63 should be gone after eviction")
	}
	fields, err := dec.Decode([]byte{0x80 | 62})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fields[0].Name != "bbbb" {
		t.Errorf("surviving entry = %v", fields[0])
	}
}
