//go:build dpdk

package capture

// #cgo CFLAGS: -I/usr/include/dpdk -mssse3
// #cgo LDFLAGS: -ldpdk -lrte_eal -lrte_mempool -lrte_mbuf -lrte_ring -lrte_ethdev -lrte_net
// #include <rte_config.h>
// #include <rte_common.h>
// #include <rte_eal.h>
// #include <rte_ethdev.h>
// #include <rte_mbuf.h>
// #include <rte_mempool.h>
// #include <stdlib.h>
//
// static struct rte_mempool *dnsobserve_create_mempool(const char *name, unsigned n, unsigned cache_size, uint16_t mbuf_size) {
//   return rte_pktmbuf_pool_create(name, n, cache_size, 0, mbuf_size, (int)rte_socket_id());
// }
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/rs/zerolog/log"

	"github.com/minorway/dnsobserve/internal/config"
	"github.com/minorway/dnsobserve/internal/flow"
)

// dpdkSource is the cgo-backed DPDK Frame Source. It owns one EAL
// initialization and one mempool per process, and configures, starts and
// bursts on only the first entry of PortIDs; further port ids are ignored
// and promiscuous mode is not enabled. Grounded on original_source/src/capture/dpdk.rs and
// core/dpdk.rs, adapted onto the rte_eal/rte_ethdev cgo surface used by the
// dpdk-manager.go reference.
type dpdkSource struct {
	cfg   config.DPDKConfig
	stats Stats

	mu      sync.Mutex
	mempool *C.struct_rte_mempool
	port    C.uint16_t
	queue   C.uint16_t
	running bool
	ealDone bool

	atomicStats
}

func newDPDKSource(cfg config.Capture, stats Stats) *dpdkSource {
	return &dpdkSource{cfg: cfg.DPDK, stats: stats}
}

func (s *dpdkSource) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ealInitialized {
		argv := make([]*C.char, 0, len(s.cfg.EALArgs))
		for _, a := range s.cfg.EALArgs {
			argv = append(argv, C.CString(a))
		}
		defer func() {
			for _, a := range argv {
				C.free(unsafe.Pointer(a))
			}
		}()
		ret := C.rte_eal_init(C.int(len(argv)), (**C.char)(unsafe.Pointer(&argv[0])))
		if ret < 0 {
			return fmt.Errorf("capture: dpdk rte_eal_init failed: %d", int(ret))
		}
		ealInitialized = true
	}
	s.ealDone = true

	name := C.CString("dnsobserve_mbuf_pool")
	defer C.free(unsafe.Pointer(name))
	pool := C.dnsobserve_create_mempool(name, C.uint(s.cfg.MempoolSize), C.uint(s.cfg.MempoolCache), C.uint16_t(s.cfg.MbufSize))
	if pool == nil {
		return fmt.Errorf("capture: dpdk mempool creation failed")
	}
	s.mempool = pool

	if len(s.cfg.PortIDs) == 0 {
		return fmt.Errorf("capture: dpdk requires at least one port id")
	}
	s.port = C.uint16_t(s.cfg.PortIDs[0])

	if err := s.configurePort(); err != nil {
		return err
	}

	log.Info().
		Uint16("port", uint16(s.port)).
		Uint16("rx_queues", s.cfg.RxQueues).
		Uint16("tx_queues", s.cfg.TxQueues).
		Uint32("mempool_size", s.cfg.MempoolSize).
		Msg("dpdk capture initialized")
	return nil
}

func (s *dpdkSource) configurePort() error {
	var txConf C.struct_rte_eth_conf
	if ret := C.rte_eth_dev_configure(s.port, C.uint16_t(s.cfg.RxQueues), C.uint16_t(s.cfg.TxQueues), &txConf); ret < 0 {
		return fmt.Errorf("capture: dpdk rte_eth_dev_configure port %d: %d", int(s.port), int(ret))
	}
	for q := C.uint16_t(0); q < C.uint16_t(s.cfg.RxQueues); q++ {
		if ret := C.rte_eth_rx_queue_setup(s.port, q, 1024, C.uint(C.rte_eth_dev_socket_id(s.port)), nil, s.mempool); ret < 0 {
			return fmt.Errorf("capture: dpdk rx queue %d setup: %d", int(q), int(ret))
		}
	}
	for q := C.uint16_t(0); q < C.uint16_t(s.cfg.TxQueues); q++ {
		if ret := C.rte_eth_tx_queue_setup(s.port, q, 1024, C.uint(C.rte_eth_dev_socket_id(s.port)), nil); ret < 0 {
			return fmt.Errorf("capture: dpdk tx queue %d setup: %d", int(q), int(ret))
		}
	}
	if ret := C.rte_eth_dev_start(s.port); ret < 0 {
		return fmt.Errorf("capture: dpdk rte_eth_dev_start port %d: %d", int(s.port), int(ret))
	}
	return nil
}

func (s *dpdkSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ealDone {
		return fmt.Errorf("capture: dpdk start called before initialize")
	}
	s.running = true
	return nil
}

func (s *dpdkSource) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Receive bursts up to max mbufs off the configured rx queue, copies each
// mbuf's payload into an owned Go slice, and frees the mbuf back to the
// mempool immediately.
func (s *dpdkSource) Receive(max int) []flow.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	if max > 0xffff {
		max = 0xffff
	}

	mbufs := make([]*C.struct_rte_mbuf, max)
	n := C.rte_eth_rx_burst(s.port, s.queue, (**C.struct_rte_mbuf)(unsafe.Pointer(&mbufs[0])), C.uint16_t(max))

	frames := make([]flow.Frame, 0, int(n))
	for i := 0; i < int(n); i++ {
		m := mbufs[i]
		length := C.rte_pktmbuf_data_len(m)
		dataPtr := unsafe.Pointer(C.rte_pktmbuf_mtod_offset(m, C.uint(0)))
		data := C.GoBytes(dataPtr, C.int(length))
		frames = append(frames, flow.Frame{Data: data, IngressPort: int(s.port), IngressQ: int(s.queue)})
		C.rte_pktmbuf_free(m)
		s.rxBytes.Add(uint64(length))
	}
	if n > 0 {
		s.rxPackets.Add(uint64(n))
		s.stats.Add("pcap.rx_packets", uint64(n))
	}
	return frames
}

func (s *dpdkSource) Send(payloads [][]byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || len(payloads) == 0 {
		return 0
	}

	mbufs := make([]*C.struct_rte_mbuf, 0, len(payloads))
	for _, p := range payloads {
		m := C.rte_pktmbuf_alloc(s.mempool)
		if m == nil {
			break
		}
		dst := C.rte_pktmbuf_append(m, C.uint16_t(len(p)))
		if dst == nil {
			C.rte_pktmbuf_free(m)
			continue
		}
		C.memcpy(unsafe.Pointer(dst), unsafe.Pointer(&p[0]), C.size_t(len(p)))
		mbufs = append(mbufs, m)
	}
	if len(mbufs) == 0 {
		return 0
	}

	sent := C.rte_eth_tx_burst(s.port, s.queue, (**C.struct_rte_mbuf)(unsafe.Pointer(&mbufs[0])), C.uint16_t(len(mbufs)))
	for i := int(sent); i < len(mbufs); i++ {
		C.rte_pktmbuf_free(mbufs[i])
	}
	if sent > 0 {
		s.txPackets.Add(uint64(sent))
		s.stats.Add("pcap.tx_packets", uint64(sent))
	}
	return int(sent)
}

func (s *dpdkSource) SnapshotStats() CaptureStats {
	stats := s.atomicStats.snapshot()
	var rxStats C.struct_rte_eth_stats
	if C.rte_eth_stats_get(s.port, &rxStats) == 0 {
		if uint64(rxStats.ierrors) > stats.DroppedPackets {
			stats.DroppedPackets = uint64(rxStats.ierrors)
		}
	}
	return stats
}

func (s *dpdkSource) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ealDone {
		return
	}
	s.running = false
	C.rte_eth_dev_stop(s.port)
	C.rte_eth_dev_close(s.port)
	s.ealDone = false
}

var ealInitialized bool
