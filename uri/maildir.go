package uri

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gumdropmail/core/message"
)

// MaildirName is the decomposed form of a Maildir base filename:
// "<ms-timestamp>.<unique>,S=<size>:2,<flags>". The unique part is
// "<pid>.<counter>" (plain Maildir only requires uniqueness, not this exact
// shape, but every writer in this tree emits pid.counter so readers can
// rely on it for diagnostics).
type MaildirName struct {
	TimestampMS int64
	PID         int
	Counter     int64
	Size        int64
	Flags       message.FlagSet
}

var maildirFlagLetters = []struct {
	letter byte
	flag   message.Flag
}{
	{'D', message.Draft},
	{'F', message.Flagged},
	{'R', message.Answered},
	{'S', message.Seen},
	{'T', message.Deleted},
}

// String renders the canonical filename. Flag letters are emitted in a
// fixed deterministic order: D F R S T, then custom letters sorted.
func (n MaildirName) String() string {
	var flagBytes []byte
	seen := map[byte]bool{}
	for _, fl := range maildirFlagLetters {
		if n.Flags.Has(fl.flag) {
			flagBytes = append(flagBytes, fl.letter)
			seen[fl.letter] = true
		}
	}
	var custom []byte
	for _, f := range n.Flags.List() {
		if f.IsCustom() {
			letter := f.CustomLetter()
			if letter != 0 && !seen[letter] {
				custom = append(custom, letter)
				seen[letter] = true
			}
		}
	}
	sort.Slice(custom, func(i, j int) bool { return custom[i] < custom[j] })
	flagBytes = append(flagBytes, custom...)

	return fmt.Sprintf("%d.%d.%d,S=%d:2,%s",
		n.TimestampMS, n.PID, n.Counter, n.Size, string(flagBytes))
}

// ParseMaildirName reverses String. For all valid filenames f,
// ParseMaildirName(f).String() == f up to flag-character order.
func ParseMaildirName(filename string) (MaildirName, error) {
	var n MaildirName

	colon := strings.LastIndexByte(filename, ':')
	if colon < 0 {
		return n, fmt.Errorf("uri: maildir filename missing ':': %q", filename)
	}
	info := filename[:colon]
	infoSuffix := filename[colon+1:]
	if !strings.HasPrefix(infoSuffix, "2,") {
		return n, fmt.Errorf("uri: maildir filename unsupported info suffix: %q", infoSuffix)
	}
	flagLetters := infoSuffix[len("2,"):]

	sizeIdx := strings.LastIndex(info, ",S=")
	if sizeIdx < 0 {
		return n, fmt.Errorf("uri: maildir filename missing size field: %q", filename)
	}
	sizeStr := info[sizeIdx+len(",S="):]
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return n, fmt.Errorf("uri: invalid size in maildir filename %q: %w", filename, err)
	}
	n.Size = size

	base := info[:sizeIdx]
	firstDot := strings.IndexByte(base, '.')
	if firstDot < 0 {
		return n, fmt.Errorf("uri: maildir filename missing unique separator: %q", filename)
	}
	ts, err := strconv.ParseInt(base[:firstDot], 10, 64)
	if err != nil {
		return n, fmt.Errorf("uri: invalid timestamp in maildir filename %q: %w", filename, err)
	}
	n.TimestampMS = ts

	unique := base[firstDot+1:]
	secondDot := strings.IndexByte(unique, '.')
	if secondDot < 0 {
		return n, fmt.Errorf("uri: maildir filename unique part missing pid.counter form: %q", filename)
	}
	pid, err := strconv.Atoi(unique[:secondDot])
	if err != nil {
		return n, fmt.Errorf("uri: invalid pid in maildir filename %q: %w", filename, err)
	}
	counter, err := strconv.ParseInt(unique[secondDot+1:], 10, 64)
	if err != nil {
		return n, fmt.Errorf("uri: invalid counter in maildir filename %q: %w", filename, err)
	}
	n.PID = pid
	n.Counter = counter

	n.Flags = message.NewFlagSet()
	for i := 0; i < len(flagLetters); i++ {
		letter := flagLetters[i]
		matched := false
		for _, fl := range maildirFlagLetters {
			if fl.letter == letter {
				n.Flags.Add(fl.flag)
				matched = true
				break
			}
		}
		if !matched && letter >= 'a' && letter <= 'z' {
			n.Flags.Add(message.CustomFromLetter(letter))
		}
	}
	return n, nil
}
