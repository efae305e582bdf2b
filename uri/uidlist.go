package uri

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const uidlistMagic = "# gumdrop-uidlist v1"

// UIDListEntry is one "<uid> <base-filename>" line.
type UIDListEntry struct {
	UID      uint32
	Filename string
}

// UIDList is the parsed form of a Maildir ".uidlist" file.
type UIDList struct {
	UIDValidity uint32
	UIDNext     uint32
	Entries     []UIDListEntry
}

// Encode renders a UIDList in its on-disk text form, entries sorted by UID.
func (u UIDList) Encode() []byte {
	sorted := append([]UIDListEntry(nil), u.Entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UID < sorted[j].UID })

	var b strings.Builder
	b.WriteString(uidlistMagic)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "uidvalidity %d\n", u.UIDValidity)
	fmt.Fprintf(&b, "uidnext %d\n", u.UIDNext)
	for _, e := range sorted {
		fmt.Fprintf(&b, "%d %s\n", e.UID, e.Filename)
	}
	return []byte(b.String())
}

// ParseUIDList reads the ".uidlist" text format back into a UIDList.
func ParseUIDList(data []byte) (UIDList, error) {
	var u UIDList
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	lineNo := 0
	sawMagic := false
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		if !sawMagic {
			if line != uidlistMagic {
				return UIDList{}, fmt.Errorf("uri: uidlist missing header, got %q", line)
			}
			sawMagic = true
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return UIDList{}, fmt.Errorf("uri: uidlist malformed line %d: %q", lineNo, line)
		}
		switch fields[0] {
		case "uidvalidity":
			n, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return UIDList{}, fmt.Errorf("uri: uidlist invalid uidvalidity: %w", err)
			}
			u.UIDValidity = uint32(n)
		case "uidnext":
			n, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return UIDList{}, fmt.Errorf("uri: uidlist invalid uidnext: %w", err)
			}
			u.UIDNext = uint32(n)
		default:
			uid, err := strconv.ParseUint(fields[0], 10, 32)
			if err != nil {
				return UIDList{}, fmt.Errorf("uri: uidlist line %d has non-numeric uid: %q", lineNo, line)
			}
			u.Entries = append(u.Entries, UIDListEntry{UID: uint32(uid), Filename: fields[1]})
		}
	}
	if err := sc.Err(); err != nil {
		return UIDList{}, fmt.Errorf("uri: %w", err)
	}
	if !sawMagic {
		return UIDList{}, fmt.Errorf("uri: uidlist is empty")
	}
	return u, nil
}
