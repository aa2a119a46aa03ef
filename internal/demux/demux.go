// Package demux classifies an inbound segment by its L4 port tuple into
// the transport a reassembler should handle it as (spec §4.5).
package demux

import "github.com/minorway/dnsobserve/internal/flow"

// Result is the demultiplexer's verdict for one segment.
type Result int

const (
	// ResultDNS means the segment should be decoded as a DNS message on
	// the given transport.
	ResultDNS Result = iota
	// ResultNeedMoreData means classification requires state this demux
	// doesn't have (an HTTP or QUIC handshake in progress).
	ResultNeedMoreData
	// ResultUnknown means the segment is not recognized DNS traffic.
	ResultUnknown
)

// Transport names the wire transport a ResultDNS classification selects.
type Transport int

const (
	TransportUDP Transport = iota
	TransportTCP
	TransportDoT
	TransportDoH
	TransportDoQ
)

// Classification is the demultiplexer's output for one segment.
type Classification struct {
	Result    Result
	Transport Transport
}

// Demultiplexer applies spec §4.5's port-set classification policy. It is
// immutable after construction and safe for concurrent use by any number of
// workers without synchronization.
type Demultiplexer struct{}

// New constructs a Demultiplexer. The policy is currently fixed (port-based
// per spec §4.5); a future revision may accept configurable port sets.
func New() *Demultiplexer {
	return &Demultiplexer{}
}

// Classify inspects a segment's 4-tuple protocol/ports and returns a
// verdict. The permissive fallback (anything unmatched resolves to
// Dns(Udp)) is deliberate: it trades a few extra cheap parse attempts for
// the ability to observe DNS on non-standard ports.
func (d *Demultiplexer) Classify(key flow.Key) Classification {
	switch {
	case isDNSPort(key.SrcPort) || isDNSPort(key.DstPort):
		if key.Proto == flow.ProtoTCP {
			return Classification{Result: ResultDNS, Transport: TransportTCP}
		}
		return Classification{Result: ResultDNS, Transport: TransportUDP}

	case key.Proto == flow.ProtoTCP && (key.SrcPort == 853 || key.DstPort == 853):
		// DoT: classification only firms up once the session reaches
		// Established; on first sight this is NeedMoreData.
		return Classification{Result: ResultNeedMoreData, Transport: TransportDoT}

	case key.Proto == flow.ProtoTCP && (key.SrcPort == 443 || key.DstPort == 443):
		return Classification{Result: ResultNeedMoreData, Transport: TransportDoH}

	case key.Proto == flow.ProtoUDP && isDoQPort(key.SrcPort, key.DstPort):
		return Classification{Result: ResultNeedMoreData, Transport: TransportDoQ}

	default:
		return Classification{Result: ResultDNS, Transport: TransportUDP}
	}
}

func isDNSPort(port uint16) bool { return port == 53 }

func isDoQPort(a, b uint16) bool {
	return a == 853 || b == 853 || a == 8853 || b == 8853
}
