package reassembly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minorway/dnsobserve/internal/dnswire"
)

func TestDoTReassembler_HandshakeThenForward(t *testing.T) {
	stats := newNullStats()
	r := NewDoTReassembler(65535, 10, 30000, stats)
	key := testKey(6000)

	// First segment only completes the (assumed) handshake; nothing is
	// decoded yet even though it looks like it could be framed DNS.
	msgs := r.ProcessSegment(key, lengthPrefixed(queryBytes(1, "example.com")), 1000)
	assert.Empty(t, msgs)
	assert.Equal(t, 1, stats.counts["dns.dot.handshake_completed"])

	// Once Established, cleartext is forwarded through the TCP framer.
	msgs = r.ProcessSegment(key, lengthPrefixed(queryBytes(2, "example.com")), 1001)
	require.Len(t, msgs, 1)
	assert.Equal(t, dnswire.TransportDoT, msgs[0].Transport)
}

func TestDoTReassembler_DataAfterClose(t *testing.T) {
	stats := newNullStats()
	r := NewDoTReassembler(65535, 10, 30000, stats)
	key := testKey(6001)

	r.sessions.withSession(key, 1000, func(s *dotSession) { s.state = tlsClosed })
	msgs := r.ProcessSegment(key, lengthPrefixed(queryBytes(3, "example.com")), 1001)

	assert.Empty(t, msgs)
	assert.Equal(t, 1, stats.counts["dns.dot.data_after_close"])
}
