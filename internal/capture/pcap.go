package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/rs/zerolog/log"

	"github.com/minorway/dnsobserve/internal/config"
	"github.com/minorway/dnsobserve/internal/flow"
)

// pcapSource is the libpcap-backed Frame Source. Only one goroutine calls
// into the handle at a time, guarded by mu, because gopacket/pcap handles
// are not safe for concurrent Read/Write (spec §5: "Frame Source: single
// mutex, one worker in receive() at a time").
type pcapSource struct {
	cfg   config.Capture
	stats Stats

	mu      sync.Mutex
	handle  *pcap.Handle
	running bool

	atomicStats
}

func newPcapSource(cfg config.Capture, stats Stats) *pcapSource {
	return &pcapSource{cfg: cfg, stats: stats}
}

func (s *pcapSource) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inactive, err := pcap.NewInactiveHandle(s.cfg.Interface)
	if err != nil {
		return fmt.Errorf("capture: open interface %s: %w", s.cfg.Interface, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(int(s.cfg.Snaplen)); err != nil {
		return fmt.Errorf("capture: set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(s.cfg.Promiscuous); err != nil {
		return fmt.Errorf("capture: set promiscuous: %w", err)
	}
	if err := inactive.SetTimeout(time.Duration(s.cfg.TimeoutMs) * time.Millisecond); err != nil {
		return fmt.Errorf("capture: set read timeout: %w", err)
	}
	if s.cfg.BufferSize > 0 {
		if err := inactive.SetBufferSize(int(s.cfg.BufferSize)); err != nil {
			return fmt.Errorf("capture: set buffer size: %w", err)
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return fmt.Errorf("capture: activate interface %s: %w", s.cfg.Interface, err)
	}

	if s.cfg.Filter != "" {
		if err := handle.SetBPFFilter(s.cfg.Filter); err != nil {
			handle.Close()
			return fmt.Errorf("capture: compile BPF filter %q: %w", s.cfg.Filter, err)
		}
	}

	s.handle = handle
	log.Debug().Int32("snaplen", s.cfg.Snaplen).Msg("pcap handle activated")
	return nil
}

func (s *pcapSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return fmt.Errorf("capture: start called before initialize")
	}
	s.running = true
	return nil
}

func (s *pcapSource) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Receive returns up to max frames, or fewer if the read times out or
// returns empty. A read error other than timeout terminates the batch
// without killing the session.
func (s *pcapSource) Receive(max int) []flow.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.handle == nil {
		return nil
	}

	frames := make([]flow.Frame, 0, max)
	for i := 0; i < max; i++ {
		data, ci, err := s.handle.ZeroCopyReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				break
			}
			s.droppedPackets.Add(1)
			s.stats.Increment("pcap.read_error")
			break
		}
		buf := append([]byte(nil), data...)
		frames = append(frames, flow.Frame{
			Data:        buf,
			TimestampUs: ci.Timestamp.UnixMicro(),
		})
		s.rxPackets.Add(1)
		s.rxBytes.Add(uint64(len(buf)))
	}
	if len(frames) > 0 {
		s.stats.Add("pcap.rx_packets", uint64(len(frames)))
	}
	return frames
}

func (s *pcapSource) Send(frames [][]byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.handle == nil {
		return 0
	}
	sent := 0
	for _, f := range frames {
		if err := s.handle.WritePacketData(f); err != nil {
			continue
		}
		sent++
		s.txPackets.Add(1)
		s.txBytes.Add(uint64(len(f)))
	}
	if sent > 0 {
		s.stats.Add("pcap.tx_packets", uint64(sent))
	}
	return sent
}

func (s *pcapSource) SnapshotStats() CaptureStats {
	return s.atomicStats.snapshot()
}

// Shutdown is idempotent and safe to call regardless of prior state.
func (s *pcapSource) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
}
