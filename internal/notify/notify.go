// Package notify shows short, transient messages to the user.
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Notifier displays a one-line message to the user.
type Notifier interface {
	Notify(msg string)
}

// Writer prints each message on its own line.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriter returns a Notifier printing to out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Notify implements Notifier.
func (w *Writer) Notify(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, msg)
}

// Log records messages on a logger instead of showing them, e.g. for --json output.
type Log struct {
	log zerolog.Logger
}

// NewLog returns a Notifier writing info events to log.
func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log}
}

// Notify implements Notifier.
func (l *Log) Notify(msg string) {
	l.log.Info().Str("notice", msg).Msg("Notice")
}

// Recorder keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

// Notify implements Notifier.
func (r *Recorder) Notify(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}
