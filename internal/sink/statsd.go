package sink

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/minorway/dnsobserve/internal/dnswire"
)

// StatsDSink accumulates counters in memory and flushes them over UDP every
// 60 seconds as `{prefix}.{name}:{value}|c\n` lines (spec §6). No
// ecosystem StatsD client appears anywhere in the example corpus, so this
// is a deliberately small hand-rolled UDP emitter rather than a borrowed
// dependency (see DESIGN.md).
type StatsDSink struct {
	prefix string
	conn   net.Conn

	mu       sync.Mutex
	counters map[string]int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewStatsDSink dials host:port over UDP and starts the periodic flush
// loop.
func NewStatsDSink(host string, port uint16, prefix string) (*StatsDSink, error) {
	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("sink: statsd dial %s:%d: %w", host, port, err)
	}
	s := &StatsDSink{
		prefix:   prefix,
		conn:     conn,
		counters: make(map[string]int64),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go s.flushLoop(60 * time.Second)
	return s, nil
}

func (s *StatsDSink) Output(msg *dnswire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters["messages.total"]++
	s.counters["messages."+msg.Kind.String()]++
	s.counters["protocol."+msg.Transport.String()]++
	for _, a := range msg.Answers {
		s.counters["record_type."+strings.ToLower(a.RecordType.String())]++
	}
	return nil
}

func (s *StatsDSink) flushLoop(interval time.Duration) {
	defer close(s.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.stopCh:
			s.flush()
			return
		}
	}
}

func (s *StatsDSink) flush() {
	s.mu.Lock()
	counters := s.counters
	s.counters = make(map[string]int64, len(counters))
	s.mu.Unlock()

	var b strings.Builder
	for name, value := range counters {
		fmt.Fprintf(&b, "%s.%s:%d|c\n", s.prefix, name, value)
	}
	if b.Len() > 0 {
		s.conn.Write([]byte(b.String()))
	}
}

func (s *StatsDSink) Close() error {
	close(s.stopCh)
	<-s.doneCh
	return s.conn.Close()
}
