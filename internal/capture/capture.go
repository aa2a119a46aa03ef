// Package capture implements the Frame Source abstraction: a uniform,
// non-blocking polling interface over heterogeneous kernel/userspace data
// paths (libpcap, AF_XDP, DPDK), each surfacing raw Ethernet frames with
// per-source statistics (spec §4.1).
package capture

import (
	"fmt"
	"sync/atomic"

	"github.com/minorway/dnsobserve/internal/config"
	"github.com/minorway/dnsobserve/internal/flow"
)

// Stats is the subset of the stats registry a backend needs to report into.
type Stats interface {
	Add(name string, n uint64)
	Increment(name string)
}

// Source is the contract every capture backend implements (spec §4.1 / §6).
// The pcap backend leaves its handle in libpcap's default blocking mode, so
// its Receive can wait up to the configured read timeout per read.
type Source interface {
	Initialize() error
	Start() error
	Stop()
	Receive(max int) []flow.Frame
	Send(frames [][]byte) int
	SnapshotStats() CaptureStats
	Shutdown()
}

// CaptureStats mirrors spec §3's CaptureStats entity: monotonically
// incremented by the capture layer, snapshotable at any time.
type CaptureStats struct {
	RxPackets      uint64
	TxPackets      uint64
	DroppedPackets uint64
	RxBytes        uint64
	TxBytes        uint64
}

// atomicStats is the shared counter block every backend embeds so
// SnapshotStats is lock-free and safe to call from any goroutine.
type atomicStats struct {
	rxPackets      atomic.Uint64
	txPackets      atomic.Uint64
	droppedPackets atomic.Uint64
	rxBytes        atomic.Uint64
	txBytes        atomic.Uint64
}

func (a *atomicStats) snapshot() CaptureStats {
	return CaptureStats{
		RxPackets:      a.rxPackets.Load(),
		TxPackets:      a.txPackets.Load(),
		DroppedPackets: a.droppedPackets.Load(),
		RxBytes:        a.rxBytes.Load(),
		TxBytes:        a.txBytes.Load(),
	}
}

// New constructs the backend selected by cfg.Mode.
func New(cfg config.Capture, stats Stats) (Source, error) {
	switch cfg.Mode {
	case config.ModePcap:
		return newPcapSource(cfg, stats), nil
	case config.ModeXDP:
		return newXDPSource(cfg, stats), nil
	case config.ModeDPDK:
		return newDPDKSource(cfg, stats), nil
	default:
		return nil, fmt.Errorf("capture: unknown mode %q", cfg.Mode)
	}
}

// FramePool is a bounded pool of reusable byte buffers. Grounded on
// original_source/src/core/mempool.rs's fixed-size block pool. None of the
// backends in this package draws from it: each Receive copies every frame
// into a freshly allocated []byte.
type FramePool struct {
	free chan []byte
	size int
}

// NewFramePool preallocates n buffers of size bytes.
func NewFramePool(n int, size int) *FramePool {
	p := &FramePool{free: make(chan []byte, n), size: size}
	for i := 0; i < n; i++ {
		p.free <- make([]byte, size)
	}
	return p
}

// Get returns a pooled buffer, allocating a fresh one if the pool is
// momentarily exhausted.
func (p *FramePool) Get() []byte {
	select {
	case b := <-p.free:
		return b[:p.size]
	default:
		return make([]byte, p.size)
	}
}

// Put returns a buffer to the pool. If the pool is full the buffer is
// dropped for the GC to reclaim.
func (p *FramePool) Put(b []byte) {
	select {
	case p.free <- b[:cap(b)]:
	default:
	}
}
