// Package log wraps logrus with a small hook that can reopen its destination
// file, the way an operator running logrotate(8) against a long-lived client
// expects. Every adapter in this module takes a Logger at construction time.
package log

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is satisfied by *HookedLogger. It extends logrus.FieldLogger with
// the bits every connection-owning adapter needs: a way to tag log lines
// with the remote address, and a way to reopen the destination after rotation.
type Logger interface {
	logrus.FieldLogger
	WithConn(conn net.Conn) *logrus.Entry
	Reopen() error
	GetLogDest() string
	SetLevel(level string)
	GetLevel() string
	IsDebug() bool
	AddHook(h logrus.Hook)
}

// HookedLogger implements Logger with a logrus.Logger plus a destination hook.
type HookedLogger struct {
	*logrus.Logger
	h *destHook
}

type loggerCache map[string]Logger

var loggers struct {
	cache loggerCache
	sync.Mutex
}

// GetLogger returns the (possibly cached) Logger writing to dest, one of
// "stderr", "stdout", "off", or a file path. Loggers are cached per-dest so
// repeated calls for the same destination share one underlying file handle.
func GetLogger(dest string) (Logger, error) {
	loggers.Lock()
	defer loggers.Unlock()
	if loggers.cache == nil {
		loggers.cache = make(loggerCache, 1)
	} else if l, ok := loggers.cache[dest]; ok {
		return l, nil
	}

	base := logrus.New()
	l := &HookedLogger{Logger: base}
	loggers.cache[dest] = l

	h, err := newDestHook(dest)
	if err != nil {
		base.SetOutput(stderrWriter)
		return l, err
	}
	base.AddHook(h)
	l.h = h
	return l, nil
}

func (l *HookedLogger) AddHook(h logrus.Hook) {
	l.Logger.AddHook(h)
}

func (l *HookedLogger) IsDebug() bool {
	return l.GetLevel() == logrus.DebugLevel.String()
}

func (l *HookedLogger) SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	l.Logger.SetLevel(lvl)
}

func (l *HookedLogger) GetLevel() string {
	return l.Logger.GetLevel().String()
}

func (l *HookedLogger) Reopen() error {
	if l.h == nil {
		return nil
	}
	return l.h.reopen()
}

func (l *HookedLogger) GetLogDest() string {
	if l.h == nil {
		return ""
	}
	return l.h.dest()
}

// WithConn tags a log entry with the remote address of conn, or "unknown"
// when conn is nil (e.g. before a connection was established).
func (l *HookedLogger) WithConn(conn net.Conn) *logrus.Entry {
	addr := "unknown"
	if conn != nil {
		addr = conn.RemoteAddr().String()
	}
	return l.WithField("addr", addr)
}
