package demux

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/minorway/dnsobserve/internal/flow"
)

func key(proto flow.Proto, srcPort, dstPort uint16) flow.Key {
	return flow.Key{
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("10.0.0.2"),
		SrcPort: srcPort,
		DstPort: dstPort,
		Proto:   proto,
	}
}

func TestClassify_PlainDNS(t *testing.T) {
	d := New()

	c := d.Classify(key(flow.ProtoUDP, 40000, 53))
	assert.Equal(t, Classification{Result: ResultDNS, Transport: TransportUDP}, c)

	c = d.Classify(key(flow.ProtoTCP, 40000, 53))
	assert.Equal(t, Classification{Result: ResultDNS, Transport: TransportTCP}, c)
}

func TestClassify_DoT(t *testing.T) {
	d := New()
	c := d.Classify(key(flow.ProtoTCP, 40001, 853))
	assert.Equal(t, Classification{Result: ResultNeedMoreData, Transport: TransportDoT}, c)
}

func TestClassify_DoH(t *testing.T) {
	d := New()
	c := d.Classify(key(flow.ProtoTCP, 40002, 443))
	assert.Equal(t, Classification{Result: ResultNeedMoreData, Transport: TransportDoH}, c)
}

func TestClassify_DoQ(t *testing.T) {
	d := New()

	c := d.Classify(key(flow.ProtoUDP, 40003, 853))
	assert.Equal(t, Classification{Result: ResultNeedMoreData, Transport: TransportDoQ}, c)

	c = d.Classify(key(flow.ProtoUDP, 40004, 8853))
	assert.Equal(t, Classification{Result: ResultNeedMoreData, Transport: TransportDoQ}, c)
}

func TestClassify_PermissiveFallback(t *testing.T) {
	d := New()
	c := d.Classify(key(flow.ProtoUDP, 40005, 9999))
	assert.Equal(t, Classification{Result: ResultDNS, Transport: TransportUDP}, c)
}
