package dnswire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	headerLen       = 12
	maxCompressJump = 10
)

// Stats is the subset of the stats registry the decoder needs. Decoupling
// it from internal/stats avoids a dependency cycle and keeps this package
// pure (no I/O, stdlib only, as the spec requires).
type Stats interface {
	Increment(name string)
}

var (
	// ErrTooShort is returned when the input is shorter than the 12-byte
	// DNS header.
	ErrTooShort = errors.New("dnswire: message shorter than header")
	// ErrTooLong is returned when the input exceeds the configured
	// max packet size.
	ErrTooLong = errors.New("dnswire: message exceeds max packet size")
	// ErrEmpty is returned when a message has neither questions nor
	// answers, per the "empty messages are dropped" invariant.
	ErrEmpty = errors.New("dnswire: message has no questions or answers")
	// ErrMalformed covers any other structural failure: truncated
	// question/answer records, a compression loop, a cursor running
	// past the end of the buffer.
	ErrMalformed = errors.New("dnswire: malformed message")
)

// Decode parses a single RFC-1035 message with no transport framing. It is
// pure and allocates only the returned Message and its slices.
//
// Partial success: if a question fails to parse, decoding fails outright.
// If an answer fails but at least one question parsed, the message is
// returned with the answers collected so far (dns.udp.parse_answer_failed
// is counted) — the authority and additional sections are always skipped.
func Decode(data []byte, maxPacketSize int, stats Stats) (*Message, error) {
	if len(data) < headerLen {
		stats.Increment("dns.udp.invalid_size")
		return nil, ErrTooShort
	}
	if maxPacketSize > 0 && len(data) > maxPacketSize {
		stats.Increment("dns.udp.invalid_size")
		return nil, ErrTooLong
	}

	id := binary.BigEndian.Uint16(data[0:2])
	flags := binary.BigEndian.Uint16(data[2:4])
	qdcount := int(binary.BigEndian.Uint16(data[4:6]))
	ancount := int(binary.BigEndian.Uint16(data[6:8]))

	kind := Query
	if flags&0x8000 != 0 {
		kind = Response
	}

	offset := headerLen
	questions := make([]Question, 0, qdcount)
	for i := 0; i < qdcount; i++ {
		q, next, err := decodeQuestion(data, offset)
		if err != nil {
			stats.Increment("dns.udp.parse_question_failed")
			return nil, fmt.Errorf("%w: question %d: %v", ErrMalformed, i, err)
		}
		questions = append(questions, q)
		offset = next
	}

	answers := make([]Answer, 0, ancount)
	for i := 0; i < ancount; i++ {
		a, next, err := decodeAnswer(data, offset)
		if err != nil {
			if len(questions) > 0 {
				stats.Increment("dns.udp.parse_answer_failed")
				break
			}
			stats.Increment("dns.udp.parse_failed")
			return nil, fmt.Errorf("%w: answer %d: %v", ErrMalformed, i, err)
		}
		answers = append(answers, a)
		offset = next
	}

	if len(questions) == 0 && len(answers) == 0 {
		stats.Increment("dns.udp.parse_failed")
		return nil, ErrEmpty
	}

	stats.Increment("dns.udp.parsed")
	if kind == Query {
		stats.Increment("dns.udp.query")
	} else {
		stats.Increment("dns.udp.response")
	}

	return &Message{
		TransactionID: id,
		Kind:          kind,
		Questions:     questions,
		Answers:       answers,
		Transport:     TransportUDP,
	}, nil
}

// decodeName implements the shared RFC-1035 label (de)compression routine.
// It never follows more than maxCompressJump pointers and never lets the
// cursor run past the end of data. Labels are lowercased as they're read,
// so every name this package produces (question, answer, or rendered
// CNAME/NS/PTR rdata) is already in canonical lowercase form.
func decodeName(data []byte, offset int) (string, int, error) {
	var labels []string
	pos := offset
	jumped := false
	jumps := 0
	returnOffset := -1

	for {
		if pos >= len(data) {
			return "", 0, errors.New("cursor past end of buffer")
		}

		b := data[pos]
		if b&0xC0 == 0xC0 {
			if pos+1 >= len(data) {
				return "", 0, errors.New("truncated compression pointer")
			}
			if returnOffset == -1 {
				returnOffset = pos + 2
			}
			pointer := (int(b&0x3F) << 8) | int(data[pos+1])
			pos = pointer
			jumped = true
			jumps++
			if jumps > maxCompressJump {
				return "", 0, errors.New("compression pointer chain too long")
			}
			continue
		}

		length := int(b)
		pos++
		if length == 0 {
			break
		}
		if pos+length > len(data) {
			return "", 0, errors.New("truncated label")
		}
		labels = append(labels, strings.ToLower(string(data[pos:pos+length])))
		pos += length
	}

	next := pos
	if jumped {
		next = returnOffset
	}
	return strings.Join(labels, "."), next, nil
}

func decodeQuestion(data []byte, offset int) (Question, int, error) {
	name, next, err := decodeName(data, offset)
	if err != nil {
		return Question{}, 0, err
	}
	if next+4 > len(data) {
		return Question{}, 0, errors.New("truncated question")
	}
	qtype := binary.BigEndian.Uint16(data[next : next+2])
	qclass := binary.BigEndian.Uint16(data[next+2 : next+4])
	return Question{
		Name:       name,
		RecordType: RecordTypeFromUint16(qtype),
		Class:      qclass,
	}, next + 4, nil
}

func decodeAnswer(data []byte, offset int) (Answer, int, error) {
	name, next, err := decodeName(data, offset)
	if err != nil {
		return Answer{}, 0, err
	}
	if next+10 > len(data) {
		return Answer{}, 0, errors.New("truncated answer header")
	}

	rtype := binary.BigEndian.Uint16(data[next : next+2])
	class := binary.BigEndian.Uint16(data[next+2 : next+4])
	ttl := binary.BigEndian.Uint32(data[next+4 : next+8])
	rdlength := int(binary.BigEndian.Uint16(data[next+8 : next+10]))

	rdataStart := next + 10
	if rdataStart+rdlength > len(data) {
		return Answer{}, 0, errors.New("rdlength exceeds remaining buffer")
	}
	rdata := append([]byte(nil), data[rdataStart:rdataStart+rdlength]...)

	recordType := RecordTypeFromUint16(rtype)
	dataStr := renderRData(data, rdataStart, recordType, rdata)

	return Answer{
		Name:       name,
		RecordType: recordType,
		Class:      class,
		TTL:        ttl,
		RData:      rdata,
		DataStr:    dataStr,
	}, rdataStart + rdlength, nil
}

func renderRData(buf []byte, rdataOffset int, rtype RecordType, rdata []byte) string {
	switch rtype {
	case TypeA:
		if len(rdata) != 4 {
			return "Invalid A record"
		}
		return fmt.Sprintf("%d.%d.%d.%d", rdata[0], rdata[1], rdata[2], rdata[3])
	case TypeAAAA:
		if len(rdata) != 16 {
			return "Invalid AAAA record"
		}
		groups := make([]string, 8)
		for i := 0; i < 8; i++ {
			groups[i] = fmt.Sprintf("%x", binary.BigEndian.Uint16(rdata[i*2:i*2+2]))
		}
		return strings.Join(groups, ":")
	case TypeCNAME, TypeNS, TypePTR:
		name, _, err := decodeName(buf, rdataOffset)
		if err != nil {
			return "Invalid domain name"
		}
		return name
	default:
		return fmt.Sprintf("<%d bytes of data>", len(rdata))
	}
}
