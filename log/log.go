// Package log provides a leveled, colorized logger in the style used
// throughout the relay: call sites read log.T.F/log.I.Ln/... rather than
// threading a logger value everywhere.
package log

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
)

// Level identifies a logging severity.
type Level int

const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
	Fatal
	off
)

var names = map[Level]string{
	Trace: "TRC", Debug: "DBG", Info: "INF",
	Warn: "WRN", Error: "ERR", Fatal: "FTL",
}

var colors = map[Level]*color.Color{
	Trace: color.New(color.FgHiBlack),
	Debug: color.New(color.FgCyan),
	Info:  color.New(color.FgGreen),
	Warn:  color.New(color.FgYellow),
	Error: color.New(color.FgRed),
	Fatal: color.New(color.FgHiRed, color.Bold),
}

// current is the minimum level that is actually printed.
var current = Info

// SetLevel sets the global minimum level by name (trace/debug/info/warn/error/fatal/off).
func SetLevel(name string) {
	switch name {
	case "trace":
		current = Trace
	case "debug":
		current = Debug
	case "info":
		current = Info
	case "warn", "warning":
		current = Warn
	case "error":
		current = Error
	case "fatal":
		current = Fatal
	case "off":
		current = off
	default:
		current = Info
	}
}

// L is a single log level's call surface.
type L Level

func (l L) enabled() bool { return Level(l) >= current }

// Ln logs its arguments space-separated with a trailing newline.
func (l L) Ln(a ...interface{}) {
	if !l.enabled() {
		return
	}
	emit(Level(l), fmt.Sprintln(a...))
}

// F logs a printf-style formatted message.
func (l L) F(format string, a ...interface{}) {
	if !l.enabled() {
		return
	}
	emit(Level(l), fmt.Sprintf(format, a...))
}

// S logs a Go-syntax dump of its arguments, for ad hoc structure inspection.
func (l L) S(a ...interface{}) {
	if !l.enabled() {
		return
	}
	emit(Level(l), fmt.Sprintf("%#v", a))
}

// C logs the lazily-computed result of fn, only if the level is enabled, to
// avoid formatting cost on the hot path when the level is suppressed.
func (l L) C(fn func() string) {
	if !l.enabled() {
		return
	}
	emit(Level(l), fn())
}

func emit(lvl Level, msg string) {
	c := colors[lvl]
	ts := time.Now().Format("15:04:05.000")
	_, _ = fmt.Fprintf(
		os.Stderr, "%s %s %s\n", ts, c.Sprint(names[lvl]), msg,
	)
	if lvl == Fatal {
		os.Exit(1)
	}
}

var (
	T = L(Trace)
	D = L(Debug)
	I = L(Info)
	W = L(Warn)
	E = L(Error)
	F = L(Fatal)
)
