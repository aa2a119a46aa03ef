package reassembly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minorway/dnsobserve/internal/dnswire"
)

func TestDoQReassembler_HandshakeThenDirectDecode(t *testing.T) {
	stats := newNullStats()
	r := NewDoQReassembler(65535, 10, 30000, stats)
	key := testKey(7000)

	// First datagram only completes the handshake.
	msgs := r.ProcessSegment(key, queryBytes(1, "example.com"), 1000)
	assert.Empty(t, msgs)
	assert.Equal(t, 1, stats.counts["dns.doq.handshake_completed"])

	// Established: the stream payload decodes as one complete message,
	// with no length-prefix framing stripped first.
	msgs = r.ProcessSegment(key, queryBytes(2, "example.com"), 1001)
	require.Len(t, msgs, 1)
	assert.Equal(t, dnswire.TransportDoQ, msgs[0].Transport)
}

func TestDoQReassembler_DataAfterClose(t *testing.T) {
	stats := newNullStats()
	r := NewDoQReassembler(65535, 10, 30000, stats)
	key := testKey(7001)

	r.sessions.withSession(key, 1000, func(s *doqSession) { s.state = tlsClosed })
	msgs := r.ProcessSegment(key, queryBytes(3, "example.com"), 1001)

	assert.Empty(t, msgs)
	assert.Equal(t, 1, stats.counts["dns.doq.data_after_close"])
}
