package reassembly

import (
	"github.com/minorway/dnsobserve/internal/dnswire"
	"github.com/minorway/dnsobserve/internal/flow"
)

// tlsState is a per-flow DoT session's position in the cleartext-delivery
// handshake, driven entirely by sighting order since the cryptographic
// handshake itself is assumed to be terminated by an external decryptor
// collaborator (spec §4.4).
type tlsState int

const (
	tlsHandshake tlsState = iota
	tlsEstablished
	tlsClosed
)

type dotSession struct {
	state tlsState
}

// DoTReassembler wraps a TCPReassembler with a TLS session-state envelope:
// the first packet on a flow completes the (assumed) handshake, subsequent
// packets forward their cleartext payload to the TCP framer.
type DoTReassembler struct {
	tcp      *TCPReassembler
	stats    dnswire.Stats
	sessions *table[dotSession]
}

// NewDoTReassembler constructs a DoT reassembler sharing the TCP framer's
// buffer discipline but tracking its own TLS session state per flow.
func NewDoTReassembler(maxPacketSize, maxSessions int, sessionTimeoutMs int64, stats dnswire.Stats) *DoTReassembler {
	return &DoTReassembler{
		tcp:      NewTCPReassembler(maxPacketSize, maxSessions, sessionTimeoutMs, stats),
		stats:    stats,
		sessions: newTable(maxSessions, sessionTimeoutMs, func() dotSession { return dotSession{} }),
	}
}

// UpdateTime advances both the TLS session table and the wrapped TCP
// framer's own idle-eviction clock.
func (r *DoTReassembler) UpdateTime(nowMs int64) {
	r.tcp.UpdateTime(nowMs)
	r.sessions.updateTime(nowMs)
}

// ProcessSegment advances key's TLS state machine and, once Established,
// forwards cleartext bytes to the TCP-DNS framer, tagging any emitted
// messages as DoT.
func (r *DoTReassembler) ProcessSegment(key flow.Key, cleartext []byte, nowMs int64) []*dnswire.Message {
	var forward bool
	r.sessions.withSession(key, nowMs, func(s *dotSession) {
		switch s.state {
		case tlsHandshake:
			s.state = tlsEstablished
			r.stats.Increment("dns.dot.handshake_completed")
		case tlsEstablished:
			forward = true
		case tlsClosed:
			r.stats.Increment("dns.dot.data_after_close")
		}
	})
	if !forward {
		return nil
	}

	msgs := r.tcp.ProcessSegment(key, cleartext, nowMs)
	for _, m := range msgs {
		m.Transport = dnswire.TransportDoT
	}
	return msgs
}
