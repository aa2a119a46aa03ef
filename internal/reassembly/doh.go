package reassembly

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/minorway/dnsobserve/internal/dnswire"
)

// DoHRequest is the simplified HTTP envelope DoHReassembler consumes: the
// collaborator is assumed to have already framed the HTTP/1.1 or HTTP/2
// request/response and handed over its method, target and headers (spec
// §4.4's "collaborator provides the message body" contract).
type DoHRequest struct {
	Method      string
	Target      string // request path + query string, for GET
	ContentType string
	Body        []byte
}

const dnsMessageContentType = "application/dns-message"

// DoHReassembler is stateless: DoH carries one complete DNS message per
// HTTP request, so there is no session table to maintain (unlike TCP/DoT/
// DoQ).
type DoHReassembler struct {
	maxPacketSize int
	stats         dnswire.Stats
}

// NewDoHReassembler constructs a DoH reassembler.
func NewDoHReassembler(maxPacketSize int, stats dnswire.Stats) *DoHReassembler {
	return &DoHReassembler{maxPacketSize: maxPacketSize, stats: stats}
}

// ProcessRequest extracts the DNS message from req and decodes it, tagging
// the result as DoH.
func (r *DoHReassembler) ProcessRequest(req DoHRequest) *dnswire.Message {
	dnsData, ok := r.extractDNSData(req)
	if !ok {
		r.stats.Increment("dns.doh.extract_failed")
		return nil
	}
	msg, err := dnswire.Decode(dnsData, r.maxPacketSize, r.stats)
	if err != nil {
		return nil
	}
	msg.Transport = dnswire.TransportDoH
	return msg
}

func (r *DoHReassembler) extractDNSData(req DoHRequest) ([]byte, bool) {
	if !strings.Contains(req.ContentType, dnsMessageContentType) {
		return nil, false
	}

	switch strings.ToUpper(req.Method) {
	case "POST":
		if len(req.Body) == 0 {
			return nil, false
		}
		return req.Body, true
	case "GET":
		idx := strings.IndexByte(req.Target, '?')
		if idx < 0 {
			return nil, false
		}
		values, err := url.ParseQuery(req.Target[idx+1:])
		if err != nil {
			return nil, false
		}
		encoded := values.Get("dns")
		if encoded == "" {
			return nil, false
		}
		decoded, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, false
		}
		return decoded, true
	default:
		return nil, false
	}
}
