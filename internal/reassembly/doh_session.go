package reassembly

import (
	"bufio"
	"bytes"
	"io"
	"net/http"

	"github.com/minorway/dnsobserve/internal/dnswire"
	"github.com/minorway/dnsobserve/internal/flow"
)

// DoHSessionReassembler buffers a TCP (TLS-terminated) byte stream per flow
// until it holds one complete HTTP/1.1 request, parses that request with
// net/http, and hands the extracted DoHRequest to a DoHReassembler. HTTP/2
// framing is out of scope here: the collaborator's cleartext stream is
// assumed to already be HTTP/1.1 once de-multiplexed onto port 443 (spec
// §4.4's simplified DoH contract).
type DoHSessionReassembler struct {
	inner         *DoHReassembler
	maxPacketSize int
	sessions      *table[[]byte]
}

// NewDoHSessionReassembler constructs a session-buffering wrapper around a
// DoHReassembler.
func NewDoHSessionReassembler(maxPacketSize, maxSessions int, sessionTimeoutMs int64, stats dnswire.Stats) *DoHSessionReassembler {
	return &DoHSessionReassembler{
		inner:         NewDoHReassembler(maxPacketSize, stats),
		maxPacketSize: maxPacketSize,
		sessions:      newTable(maxSessions, sessionTimeoutMs, func() []byte { return nil }),
	}
}

// UpdateTime advances the session table's idle-eviction clock.
func (r *DoHSessionReassembler) UpdateTime(nowMs int64) { r.sessions.updateTime(nowMs) }

// ProcessSegment appends cleartext to key's buffer and, once it holds a
// complete HTTP request, extracts and decodes the embedded DNS message.
func (r *DoHSessionReassembler) ProcessSegment(key flow.Key, cleartext []byte, nowMs int64) *dnswire.Message {
	var msg *dnswire.Message
	r.sessions.withSession(key, nowMs, func(buf *[]byte) {
		*buf = append(*buf, cleartext...)
		if len(*buf) > r.maxPacketSize {
			*buf = (*buf)[:0]
			return
		}

		req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(*buf)))
		if err != nil {
			return
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return
		}

		msg = r.inner.ProcessRequest(DoHRequest{
			Method:      req.Method,
			Target:      req.URL.RequestURI(),
			ContentType: req.Header.Get("Content-Type"),
			Body:        body,
		})
		*buf = (*buf)[:0]
	})
	return msg
}
