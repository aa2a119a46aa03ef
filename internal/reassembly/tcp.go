package reassembly

import (
	"encoding/binary"

	"github.com/minorway/dnsobserve/internal/dnswire"
	"github.com/minorway/dnsobserve/internal/flow"
)

// tcpSession holds one flow's length-prefixed reassembly buffer.
type tcpSession struct {
	buffer []byte
}

// TCPReassembler extracts 2-byte length-prefixed DNS messages from a TCP
// byte stream, one session per flow (spec §4.3).
type TCPReassembler struct {
	maxPacketSize int
	stats         dnswire.Stats
	sessions      *table[tcpSession]
}

// NewTCPReassembler constructs a reassembler bounded by maxSessions entries,
// each evicted after sessionTimeoutMs of inactivity.
func NewTCPReassembler(maxPacketSize, maxSessions int, sessionTimeoutMs int64, stats dnswire.Stats) *TCPReassembler {
	return &TCPReassembler{
		maxPacketSize: maxPacketSize,
		stats:         stats,
		sessions:      newTable(maxSessions, sessionTimeoutMs, func() tcpSession { return tcpSession{} }),
	}
}

// UpdateTime advances the reassembler's clock and evicts idle sessions.
func (r *TCPReassembler) UpdateTime(nowMs int64) { r.sessions.updateTime(nowMs) }

// ProcessSegment appends data to key's buffer and extracts every complete
// DNS message currently present. The session buffer is cleared (overflow)
// if it ever exceeds maxPacketSize; the session itself survives.
func (r *TCPReassembler) ProcessSegment(key flow.Key, data []byte, nowMs int64) []*dnswire.Message {
	var out []*dnswire.Message
	r.sessions.withSession(key, nowMs, func(s *tcpSession) {
		s.buffer = append(s.buffer, data...)

		if len(s.buffer) > r.maxPacketSize {
			r.stats.Increment("dns.tcp.buffer_overflow")
			s.buffer = s.buffer[:0]
			return
		}

		for len(s.buffer) >= 2 {
			msgLen := int(binary.BigEndian.Uint16(s.buffer[0:2]))
			if len(s.buffer) < msgLen+2 {
				break
			}
			dnsData := s.buffer[2 : msgLen+2]
			if msg, err := dnswire.Decode(dnsData, r.maxPacketSize, r.stats); err == nil {
				msg.Transport = dnswire.TransportTCP
				out = append(out, msg)
			}
			s.buffer = append(s.buffer[:0], s.buffer[msgLen+2:]...)
		}
	})
	return out
}

// SessionCount reports the number of live flows, for diagnostics/tests.
func (r *TCPReassembler) SessionCount() int { return r.sessions.len() }
