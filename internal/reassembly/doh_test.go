package reassembly

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minorway/dnsobserve/internal/dnswire"
)

func TestDoHReassembler_POST(t *testing.T) {
	r := NewDoHReassembler(65535, newNullStats())
	msg := r.ProcessRequest(DoHRequest{
		Method:      "POST",
		ContentType: "application/dns-message",
		Body:        queryBytes(0x42, "example.com"),
	})
	require.NotNil(t, msg)
	assert.EqualValues(t, 0x42, msg.TransactionID)
	assert.Equal(t, dnswire.TransportDoH, msg.Transport)
}

func TestDoHReassembler_GET(t *testing.T) {
	r := NewDoHReassembler(65535, newNullStats())
	encoded := base64.RawURLEncoding.EncodeToString(queryBytes(0x43, "example.com"))
	msg := r.ProcessRequest(DoHRequest{
		Method:      "GET",
		Target:      "/dns-query?dns=" + encoded,
		ContentType: "application/dns-message",
	})
	require.NotNil(t, msg)
	assert.EqualValues(t, 0x43, msg.TransactionID)
}

func TestDoHReassembler_WrongContentTypeRejected(t *testing.T) {
	stats := newNullStats()
	r := NewDoHReassembler(65535, stats)
	msg := r.ProcessRequest(DoHRequest{
		Method:      "POST",
		ContentType: "application/json",
		Body:        queryBytes(0x44, "example.com"),
	})
	assert.Nil(t, msg)
	assert.Equal(t, 1, stats.counts["dns.doh.extract_failed"])
}
