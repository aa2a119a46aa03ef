// Package flow defines the flow key (addresses, ports and L4 protocol)
// transport reassemblers and the demultiplexer address sessions by, and the
// captured Frame.
package flow

import (
	"fmt"
	"net/netip"
)

// Proto is the L4 protocol carrying a flow.
type Proto uint8

const (
	ProtoUDP Proto = iota
	ProtoTCP
)

func (p Proto) String() string {
	if p == ProtoTCP {
		return "tcp"
	}
	return "udp"
}

// Key uniquely identifies a bidirectional transport flow at a single moment
// in time: (src_ip, dst_ip, src_port, dst_port, l4_proto).
type Key struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
	Proto   Proto
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%s", k.SrcIP, k.SrcPort, k.DstIP, k.DstPort, k.Proto)
}

// Frame is a single raw link-layer capture with its ingest coordinates.
type Frame struct {
	Data        []byte
	TimestampUs int64
	IngressPort int
	IngressQ    int
}
