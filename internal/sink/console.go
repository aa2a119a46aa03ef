package sink

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/minorway/dnsobserve/internal/dnswire"
)

const (
	ansiReset = "\x1b[0m"
	ansiBlue  = "\x1b[34m"
	ansiGreen = "\x1b[32m"
)

// ConsoleSink renders a human-readable block per message to an io.Writer,
// optionally colouring queries blue and responses green (spec §6).
type ConsoleSink struct {
	w     io.Writer
	color bool
}

// NewConsoleSink constructs a sink writing to stdout.
func NewConsoleSink(color bool) *ConsoleSink {
	return &ConsoleSink{w: os.Stdout, color: color}
}

func (s *ConsoleSink) Output(msg *dnswire.Message) error {
	var b strings.Builder

	prefix, suffix := "", ""
	if s.color {
		if msg.Kind == dnswire.Response {
			prefix, suffix = ansiGreen, ansiReset
		} else {
			prefix, suffix = ansiBlue, ansiReset
		}
	}

	fmt.Fprintf(&b, "%s[%s] id=%d transport=%s%s\n", prefix, msg.Kind, msg.TransactionID, msg.Transport, suffix)
	for _, q := range msg.Questions {
		fmt.Fprintf(&b, "  Q %s %s class=%d\n", q.Name, q.RecordType, q.Class)
	}
	for _, a := range msg.Answers {
		fmt.Fprintf(&b, "  A %s %s ttl=%d %s\n", a.Name, a.RecordType, a.TTL, a.DataStr)
	}

	_, err := io.WriteString(s.w, b.String())
	return err
}

func (s *ConsoleSink) Close() error { return nil }
