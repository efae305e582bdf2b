package log

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var stderrWriter io.Writer = os.Stderr

// destHook routes logrus entries to a file, stdout, stderr, or a discard
// sink, and can reopen its file descriptor after an external rotation.
type destHook struct {
	mu      sync.Mutex
	fname   string
	w       io.Writer
	fd      *os.File
	plain   *logrus.TextFormatter
}

func newDestHook(dest string) (*destHook, error) {
	h := &destHook{fname: dest}
	return h, h.setup(dest)
}

func (h *destHook) setup(dest string) error {
	switch dest {
	case "", "stderr":
		h.w = os.Stderr
		return nil
	case "stdout":
		h.w = os.Stdout
		return nil
	case "off":
		h.w = io.Discard
		return nil
	}
	if _, err := os.Stat(dest); err == nil {
		if err := h.openAppend(dest); err != nil {
			return err
		}
	} else if err := h.openCreate(dest); err != nil {
		return err
	}
	h.plain = &logrus.TextFormatter{DisableColors: true}
	return nil
}

func (h *destHook) openAppend(dest string) error {
	fd, err := os.OpenFile(dest, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		h.w = os.Stderr
		h.fd = nil
		return err
	}
	h.w = bufio.NewWriter(fd)
	h.fd = fd
	return nil
}

func (h *destHook) openCreate(dest string) error {
	fd, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		h.w = os.Stderr
		h.fd = nil
		return err
	}
	h.w = bufio.NewWriter(fd)
	h.fd = fd
	return nil
}

// Fire implements logrus.Hook.
func (h *destHook) Fire(entry *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd != nil {
		old := entry.Logger.Formatter
		entry.Logger.Formatter = h.plain
		defer func() { entry.Logger.Formatter = old }()
	}
	line, err := entry.String()
	if err != nil {
		return err
	}
	if _, err := io.Copy(h.w, strings.NewReader(line)); err != nil {
		return err
	}
	if wb, ok := h.w.(*bufio.Writer); ok {
		if err := wb.Flush(); err != nil {
			return err
		}
		if h.fd != nil {
			_ = h.fd.Sync()
		}
	}
	return nil
}

func (h *destHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *destHook) dest() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fname
}

// reopen closes and re-creates/re-appends the file descriptor, for when an
// external log-rotation tool has renamed the file out from under us.
func (h *destHook) reopen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd == nil {
		return nil
	}
	if err := h.fd.Close(); err != nil {
		return err
	}
	if _, err := os.Stat(h.fname); err != nil {
		return h.openCreate(h.fname)
	}
	return h.openAppend(h.fname)
}
