package worker

import (
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/minorway/dnsobserve/internal/flow"
)

// parseSegment decodes a raw Ethernet frame down to its L4 payload and flow
// key. It returns ok=false for anything that isn't a UDP or TCP segment
// over IPv4/IPv6 — the capture backends are documented to hand over frames
// starting at the Ethernet header (spec §6), so decoding always starts
// there.
func parseSegment(data []byte) (key flow.Key, payload []byte, ok bool) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)

	netLayer := packet.NetworkLayer()
	if netLayer == nil {
		return flow.Key{}, nil, false
	}

	var srcIP, dstIP netip.Addr
	switch l := netLayer.(type) {
	case *layers.IPv4:
		srcIP, _ = netip.AddrFromSlice(l.SrcIP.To4())
		dstIP, _ = netip.AddrFromSlice(l.DstIP.To4())
	case *layers.IPv6:
		srcIP, _ = netip.AddrFromSlice(l.SrcIP.To16())
		dstIP, _ = netip.AddrFromSlice(l.DstIP.To16())
	default:
		return flow.Key{}, nil, false
	}

	transLayer := packet.TransportLayer()
	if transLayer == nil {
		return flow.Key{}, nil, false
	}

	switch l := transLayer.(type) {
	case *layers.UDP:
		key = flow.Key{SrcIP: srcIP, DstIP: dstIP, SrcPort: uint16(l.SrcPort), DstPort: uint16(l.DstPort), Proto: flow.ProtoUDP}
		return key, l.Payload, true
	case *layers.TCP:
		key = flow.Key{SrcIP: srcIP, DstIP: dstIP, SrcPort: uint16(l.SrcPort), DstPort: uint16(l.DstPort), Proto: flow.ProtoTCP}
		return key, l.Payload, true
	default:
		return flow.Key{}, nil, false
	}
}
