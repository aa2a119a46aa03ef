package reassembly

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minorway/dnsobserve/internal/dnswire"
	"github.com/minorway/dnsobserve/internal/flow"
)

type nullStats struct{ counts map[string]int }

func newNullStats() *nullStats { return &nullStats{counts: map[string]int{}} }

func (s *nullStats) Increment(name string) { s.counts[name]++ }

func testKey(port uint16) flow.Key {
	return flow.Key{
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("10.0.0.2"),
		SrcPort: port,
		DstPort: 53,
		Proto:   flow.ProtoTCP,
	}
}

// queryBytes builds a minimal well-formed A-query message for name.
func queryBytes(id uint16, name string) []byte {
	raw := []byte{
		byte(id >> 8), byte(id), 0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	for _, label := range splitLabels(name) {
		raw = append(raw, byte(len(label)))
		raw = append(raw, label...)
	}
	raw = append(raw, 0x00, 0x00, 0x01, 0x00, 0x01)
	return raw
}

func splitLabels(name string) []string {
	var labels []string
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			labels = append(labels, name[start:i])
			start = i + 1
		}
	}
	return labels
}

// lengthPrefixed wraps msg in the 2-byte big-endian length prefix TCP-DNS
// framing uses.
func lengthPrefixed(msg []byte) []byte {
	out := make([]byte, 2, 2+len(msg))
	binary.BigEndian.PutUint16(out, uint16(len(msg)))
	return append(out, msg...)
}

// TestTCPReassembler_SplitAcrossSegments covers spec scenario 3: a single
// length-prefixed message delivered across arbitrarily small chunks yields
// exactly one message, assembled in order, regardless of how it was chunked.
func TestTCPReassembler_SplitAcrossSegments(t *testing.T) {
	msg := queryBytes(0xABCD, "www.example.com")
	framed := lengthPrefixed(msg)

	chunkSizes := [][]int{
		{len(framed)},
		{1, 1, len(framed) - 2},
		{3, len(framed) - 3},
	}

	for _, sizes := range chunkSizes {
		r := NewTCPReassembler(65535, 10, 30000, newNullStats())
		key := testKey(4000)
		var emitted []*dnswire.Message

		pos := 0
		for _, n := range sizes {
			chunk := framed[pos : pos+n]
			pos += n
			for _, m := range r.ProcessSegment(key, chunk, 1000) {
				emitted = append(emitted, m)
			}
		}

		require.Len(t, emitted, 1)
		assert.EqualValues(t, 0xABCD, emitted[0].TransactionID)
		require.Len(t, emitted[0].Questions, 1)
		assert.Equal(t, "www.example.com", emitted[0].Questions[0].Name)
	}
}

// TestTCPReassembler_BufferOverflow covers spec scenario 5: a stream that
// never completes a message and exceeds max_packet_size has its buffer
// cleared, counts dns.tcp.buffer_overflow, and keeps the session alive.
func TestTCPReassembler_BufferOverflow(t *testing.T) {
	stats := newNullStats()
	r := NewTCPReassembler(64, 10, 30000, stats)
	key := testKey(4001)

	oversized := make([]byte, 65)
	msgs := r.ProcessSegment(key, oversized, 1000)

	assert.Empty(t, msgs)
	assert.Equal(t, 1, stats.counts["dns.tcp.buffer_overflow"])
	assert.Equal(t, 1, r.SessionCount())

	// The session is still usable afterwards: a fresh, complete message
	// on the same flow decodes normally.
	msg := queryBytes(0x0001, "example.com")
	out := r.ProcessSegment(key, lengthPrefixed(msg), 1001)
	require.Len(t, out, 1)
	assert.EqualValues(t, 0x0001, out[0].TransactionID)
}

// TestTCPReassembler_LRUEvictionAtCapacity covers spec scenario 6: once
// max_sessions+1 distinct flows have been seen, the table holds exactly
// max_sessions entries.
func TestTCPReassembler_LRUEvictionAtCapacity(t *testing.T) {
	const maxSessions = 4
	r := NewTCPReassembler(65535, maxSessions, 30000, newNullStats())

	for i := 0; i < maxSessions+1; i++ {
		key := testKey(5000 + uint16(i))
		r.ProcessSegment(key, []byte{0x00}, int64(1000+i))
	}

	assert.Equal(t, maxSessions, r.SessionCount())
}
