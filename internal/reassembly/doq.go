package reassembly

import (
	"github.com/minorway/dnsobserve/internal/dnswire"
	"github.com/minorway/dnsobserve/internal/flow"
)

type doqSession struct {
	state tlsState
}

// DoQReassembler mirrors DoTReassembler's handshake-state envelope, but
// forwards established-session payloads straight to the wire decoder
// rather than through the TCP length-prefixed framer: a decrypted QUIC
// stream payload is already a complete DNS message (spec §4.4).
type DoQReassembler struct {
	maxPacketSize int
	stats         dnswire.Stats
	sessions      *table[doqSession]
}

// NewDoQReassembler constructs a DoQ reassembler.
func NewDoQReassembler(maxPacketSize, maxSessions int, sessionTimeoutMs int64, stats dnswire.Stats) *DoQReassembler {
	return &DoQReassembler{
		maxPacketSize: maxPacketSize,
		stats:         stats,
		sessions:      newTable(maxSessions, sessionTimeoutMs, func() doqSession { return doqSession{} }),
	}
}

// UpdateTime advances the QUIC session table's idle-eviction clock.
func (r *DoQReassembler) UpdateTime(nowMs int64) { r.sessions.updateTime(nowMs) }

// ProcessSegment advances key's QUIC handshake state and, once Established,
// decodes the decrypted stream payload directly.
func (r *DoQReassembler) ProcessSegment(key flow.Key, cleartext []byte, nowMs int64) []*dnswire.Message {
	var out []*dnswire.Message
	r.sessions.withSession(key, nowMs, func(s *doqSession) {
		switch s.state {
		case tlsHandshake:
			s.state = tlsEstablished
			r.stats.Increment("dns.doq.handshake_completed")
		case tlsEstablished:
			msg, err := dnswire.Decode(cleartext, r.maxPacketSize, r.stats)
			if err != nil {
				return
			}
			msg.Transport = dnswire.TransportDoQ
			out = append(out, msg)
		case tlsClosed:
			r.stats.Increment("dns.doq.data_after_close")
		}
	})
	return out
}
