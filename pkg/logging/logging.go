// Package logging is a thin, level-aware wrapper around the standard log
// package, matching the style the teacher's pkg/adaptive already used
// (log.Println/log.Printf against a *log.Logger) while finally giving the
// LOGLEVEL environment variable (pkg/config) something to gate.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Level is an ordered logging threshold: a Logger only emits a call whose
// level is at or above its configured Level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a LOGLEVEL value (case-insensitive) to a Level, defaulting
// to LevelInfo for an empty or unrecognized string — the same permissive
// default the reference's own direct `os.Getenv("LOGLEVEL", "INFO")` read
// implies.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger gates calls below its Level and otherwise delegates to an embedded
// *log.Logger, so call sites keep the familiar Printf-style formatting.
type Logger struct {
	level Level
	out   *log.Logger
}

// New constructs a Logger writing to out with the given prefix, at the
// given threshold.
func New(out io.Writer, prefix string, level Level) *Logger {
	return &Logger{level: level, out: log.New(out, prefix, log.LstdFlags)}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.out.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args...) }

// Level reports the logger's current threshold.
func (l *Logger) Level() Level { return l.level }
