package httpc

import (
	"github.com/gumdropmail/core/store"
)

// HeaderField is one decoded name/value pair.
type HeaderField struct {
	Name  string
	Value string
}

// hpackStaticTable is the canonical static table, 1-indexed on access.
var hpackStaticTable = []HeaderField{
	{":authority", ""},
	{":method", "GET"},
	{":method", "POST"},
	{":path", "/"},
	{":path", "/index.html"},
	{":scheme", "http"},
	{":scheme", "https"},
	{":status", "200"},
	{":status", "204"},
	{":status", "206"},
	{":status", "304"},
	{":status", "400"},
	{":status", "404"},
	{":status", "500"},
	{"accept-charset", ""},
	{"accept-encoding", "gzip, deflate"},
	{"accept-language", ""},
	{"accept-ranges", ""},
	{"accept", ""},
	{"access-control-allow-origin", ""},
	{"age", ""},
	{"allow", ""},
	{"authorization", ""},
	{"cache-control", ""},
	{"content-disposition", ""},
	{"content-encoding", ""},
	{"content-language", ""},
	{"content-length", ""},
	{"content-location", ""},
	{"content-range", ""},
	{"content-type", ""},
	{"cookie", ""},
	{"date", ""},
	{"etag", ""},
	{"expect", ""},
	{"expires", ""},
	{"from", ""},
	{"host", ""},
	{"if-match", ""},
	{"if-modified-since", ""},
	{"if-none-match", ""},
	{"if-range", ""},
	{"if-unmodified-since", ""},
	{"last-modified", ""},
	{"link", ""},
	{"location", ""},
	{"max-forwards", ""},
	{"proxy-authenticate", ""},
	{"proxy-authorization", ""},
	{"range", ""},
	{"referer", ""},
	{"refresh", ""},
	{"retry-after", ""},
	{"server", ""},
	{"set-cookie", ""},
	{"strict-transport-security", ""},
	{"transfer-encoding", ""},
	{"user-agent", ""},
	{"vary", ""},
	{"via", ""},
	{"www-authenticate", ""},
}

// hpackEntryOverhead is the per-entry bookkeeping cost added to
// name.len + value.len when accounting dynamic-table size.
const hpackEntryOverhead = 32

// HPACKDecoder decodes one connection's header blocks. The dynamic table
// is owned exclusively by that connection; no locking here.
type HPACKDecoder struct {
	dynamic []HeaderField // most recent first
	size    uint32
	maxSize uint32
}

// NewHPACKDecoder returns a decoder whose dynamic table is capped at
// maxSize octets (SETTINGS_HEADER_TABLE_SIZE).
func NewHPACKDecoder(maxSize uint32) *HPACKDecoder {
	return &HPACKDecoder{maxSize: maxSize}
}

// SetMaxSize applies a SETTINGS-driven table-size change, evicting as needed.
func (d *HPACKDecoder) SetMaxSize(max uint32) {
	d.maxSize = max
	d.evict()
}

func (d *HPACKDecoder) evict() {
	for d.size > d.maxSize && len(d.dynamic) > 0 {
		last := d.dynamic[len(d.dynamic)-1]
		d.size -= uint32(len(last.Name) + len(last.Value) + hpackEntryOverhead)
		d.dynamic = d.dynamic[:len(d.dynamic)-1]
	}
}

func (d *HPACKDecoder) insert(f HeaderField) {
	need := uint32(len(f.Name) + len(f.Value) + hpackEntryOverhead)
	if need > d.maxSize {
		// An entry larger than the table empties it.
		d.dynamic = d.dynamic[:0]
		d.size = 0
		return
	}
	d.dynamic = append([]HeaderField{f}, d.dynamic...)
	d.size += need
	d.evict()
}

// lookup resolves a 1-based index across the static then dynamic tables.
func (d *HPACKDecoder) lookup(index uint64) (HeaderField, error) {
	if index == 0 {
		return HeaderField{}, &store.ParseError{Msg: "hpack: index 0 is invalid"}
	}
	if index <= uint64(len(hpackStaticTable)) {
		return hpackStaticTable[index-1], nil
	}
	di := index - uint64(len(hpackStaticTable)) - 1
	if di >= uint64(len(d.dynamic)) {
		return HeaderField{}, &store.ParseError{Msg: "hpack: index beyond table"}
	}
	return d.dynamic[di], nil
}

// Decode decodes a complete header block (the caller has already assembled
// any HEADERS+CONTINUATION span) into an ordered field list.
func (d *HPACKDecoder) Decode(block []byte) ([]HeaderField, error) {
	var out []HeaderField
	pos := 0
	for pos < len(block) {
		b := block[pos]
		switch {
		case b&0x80 != 0: // indexed header field, 7-bit prefix
			idx, n, err := hpackReadInt(block[pos:], 7)
			if err != nil {
				return nil, err
			}
			pos += n
			f, err := d.lookup(idx)
			if err != nil {
				return nil, err
			}
			out = append(out, f)

		case b&0xc0 == 0x40: // literal with incremental indexing, 6-bit prefix
			f, n, err := d.readLiteral(block[pos:], 6)
			if err != nil {
				return nil, err
			}
			pos += n
			d.insert(f)
			out = append(out, f)

		case b&0xe0 == 0x20: // dynamic table size update, 5-bit prefix
			max, n, err := hpackReadInt(block[pos:], 5)
			if err != nil {
				return nil, err
			}
			pos += n
			d.maxSize = uint32(max)
			d.evict()

		default: // literal without indexing / never indexed, 4-bit prefix
			f, n, err := d.readLiteral(block[pos:], 4)
			if err != nil {
				return nil, err
			}
			pos += n
			out = append(out, f)
		}
	}
	return out, nil
}

// readLiteral reads a literal header field whose name is either an index
// into the tables (prefix integer non-zero) or a string literal.
func (d *HPACKDecoder) readLiteral(buf []byte, prefixBits int) (HeaderField, int, error) {
	var f HeaderField
	idx, n, err := hpackReadInt(buf, prefixBits)
	if err != nil {
		return f, 0, err
	}
	pos := n
	if idx != 0 {
		named, err := d.lookup(idx)
		if err != nil {
			return f, 0, err
		}
		f.Name = named.Name
	} else {
		name, n, err := hpackReadString(buf[pos:])
		if err != nil {
			return f, 0, err
		}
		pos += n
		f.Name = name
	}
	value, n, err := hpackReadString(buf[pos:])
	if err != nil {
		return f, 0, err
	}
	pos += n
	f.Value = value
	return f, pos, nil
}

// hpackReadInt reads the canonical prefix+continuation integer encoding.
// A continuation whose shift would exceed 63 bits is a parse error.
func hpackReadInt(buf []byte, prefixBits int) (uint64, int, error) {
	if len(buf) == 0 {
		return 0, 0, &store.ParseError{Msg: "hpack: empty integer"}
	}
	mask := uint64(1)<<prefixBits - 1
	v := uint64(buf[0]) & mask
	if v < mask {
		return v, 1, nil
	}
	var shift uint
	pos := 1
	for {
		if pos >= len(buf) {
			return 0, 0, &store.ParseError{Msg: "hpack: truncated integer"}
		}
		if shift > 63 {
			return 0, 0, &store.ParseError{Msg: "hpack: integer continuation overflow"}
		}
		b := buf[pos]
		v += uint64(b&0x7f) << shift
		pos++
		if b&0x80 == 0 {
			return v, pos, nil
		}
		shift += 7
	}
}

// hpackReadString reads a length-prefixed string literal. Huffman-coded
// strings are rejected with an Unsupported error.
func hpackReadString(buf []byte) (string, int, error) {
	if len(buf) == 0 {
		return "", 0, &store.ParseError{Msg: "hpack: empty string"}
	}
	huffman := buf[0]&0x80 != 0
	length, n, err := hpackReadInt(buf, 7)
	if err != nil {
		return "", 0, err
	}
	if huffman {
		return "", 0, &store.Unsupported{Feature: "hpack huffman-coded string"}
	}
	end := uint64(n) + length
	if end > uint64(len(buf)) {
		return "", 0, &store.ParseError{Msg: "hpack: truncated string literal"}
	}
	return string(buf[n:end]), int(end), nil
}

// HPACKEncoder emits every header as a literal never-indexed field (prefix
// 0x10) with a string-literal name, so no dynamic-table state is shared with the peer.
type HPACKEncoder struct{}

// Encode renders fields in order. Pseudo-headers must already be ordered
// first by the caller; EncodeRequest arranges that for requests.
func (e *HPACKEncoder) Encode(fields []HeaderField) []byte {
	var out []byte
	for _, f := range fields {
		out = append(out, 0x10) // literal never-indexed, name follows
		out = hpackAppendString(out, f.Name)
		out = hpackAppendString(out, f.Value)
	}
	return out
}

// EncodeRequest emits the request pseudo-headers in canonical order
// (:method, :path, :scheme, :authority) followed by the regular headers.
func (e *HPACKEncoder) EncodeRequest(method, path, scheme, authority string, headers []HeaderField) []byte {
	fields := make([]HeaderField, 0, 4+len(headers))
	fields = append(fields,
		HeaderField{":method", method},
		HeaderField{":path", path},
		HeaderField{":scheme", scheme},
		HeaderField{":authority", authority},
	)
	fields = append(fields, headers...)
	return e.Encode(fields)
}

func hpackAppendString(out []byte, s string) []byte {
	out = hpackAppendInt(out, 7, 0, uint64(len(s)))
	return append(out, s...)
}

// hpackAppendInt writes the prefix+continuation integer encoding, with
// high (the bits above the prefix, e.g. the Huffman flag) OR-ed into the
// first octet.
func hpackAppendInt(out []byte, prefixBits int, high byte, v uint64) []byte {
	mask := uint64(1)<<prefixBits - 1
	if v < mask {
		return append(out, high|byte(v))
	}
	out = append(out, high|byte(mask))
	v -= mask
	for v >= 0x80 {
		out = append(out, byte(v)|0x80)
		v >>= 7
	}
	return append(out, byte(v))
}
