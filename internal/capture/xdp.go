package capture

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/minorway/dnsobserve/internal/config"
	"github.com/minorway/dnsobserve/internal/flow"
)

// sizeofXDPDesc is sizeof(struct xdp_desc): Addr uint64 + Len uint32 +
// Options uint32, unpadded.
const sizeofXDPDesc = 16

// setsockoptXDPUmemReg and getsockoptXDPMmapOffsets call into struct-typed
// socket options that golang.org/x/sys/unix does not expose typed wrappers
// for (XDP_UMEM_REG, XDP_MMAP_OFFSETS); both go through the raw syscall
// like the package's own SetsockoptTpacketReq-style helpers do internally.
func setsockoptXDPUmemReg(fd int, reg *unix.XDPUmemReg) error {
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), uintptr(unix.SOL_XDP),
		uintptr(unix.XDP_UMEM_REG), uintptr(unsafe.Pointer(reg)), unsafe.Sizeof(*reg), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func getsockoptXDPMmapOffsets(fd int) (unix.XDPMmapOffsets, error) {
	var off unix.XDPMmapOffsets
	size := unsafe.Sizeof(off)
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd), uintptr(unix.SOL_XDP),
		uintptr(unix.XDP_MMAP_OFFSETS), uintptr(unsafe.Pointer(&off)), uintptr(unsafe.Pointer(&size)), 0)
	if errno != 0 {
		return off, errno
	}
	return off, nil
}

func netInterfaceByName(name string) (*net.Interface, error) {
	return net.InterfaceByName(name)
}

// xdpRing is a single shared ring (Rx, Tx, Fill or Completion), mmap'd from
// the kernel at the offsets returned by XDP_MMAP_OFFSETS. Producer/consumer
// are plain uint32s inside the mapping; the kernel and userspace each own
// one side of the pair, matching the libbpf xsk ring contract.
type xdpRing struct {
	mem      []byte
	mask     uint32
	producer *uint32
	consumer *uint32
	descOff  uint32
}

func (r *xdpRing) prod() uint32 { return atomic.LoadUint32(r.producer) }
func (r *xdpRing) cons() uint32 { return atomic.LoadUint32(r.consumer) }

func (r *xdpRing) descPtr(idx uint32, descSize uintptr) unsafe.Pointer {
	base := uintptr(unsafe.Pointer(&r.mem[r.descOff]))
	return unsafe.Pointer(base + uintptr(idx&r.mask)*descSize)
}

// xdpSource is the AF_XDP Frame Source backend: a raw AF_XDP socket with a
// single UMEM shared across Rx/Tx/Fill/Completion rings, following the
// zero-copy ring discipline (fill frames in, drain rx, recycle via
// completion) seen in the cezamee-Yoda reference, but driven directly
// through golang.org/x/sys/unix syscalls instead of a netstack bridge.
type xdpSource struct {
	cfg   config.XDPConfig
	iface string
	stats Stats

	mu      sync.Mutex
	fd      int
	umem    []byte
	frames  chan uint64 // free UMEM frame addresses
	running bool

	fill *xdpRing
	comp *xdpRing
	rx   *xdpRing
	tx   *xdpRing

	atomicStats
}

func newXDPSource(cfg config.Capture, stats Stats) *xdpSource {
	return &xdpSource{cfg: cfg.XDP, iface: cfg.Interface, stats: stats, fd: -1}
}

func (s *xdpSource) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ifi, err := netInterfaceByName(s.iface)
	if err != nil {
		return fmt.Errorf("capture: xdp interface %s: %w", s.iface, err)
	}

	fd, err := unix.Socket(unix.AF_XDP, unix.SOCK_RAW, 0)
	if err != nil {
		return fmt.Errorf("capture: xdp socket: %w", err)
	}

	umemSize := int(s.cfg.FrameCount) * int(s.cfg.FrameSize)
	umem, err := unix.Mmap(-1, 0, umemSize, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("capture: xdp umem mmap: %w", err)
	}

	reg := unix.XDPUmemReg{
		Addr:     uint64(uintptr(unsafe.Pointer(&umem[0]))),
		Len:      uint64(umemSize),
		Size:     s.cfg.FrameSize,
		Headroom: 0,
	}
	if err := setsockoptXDPUmemReg(fd, &reg); err != nil {
		unix.Munmap(umem)
		unix.Close(fd)
		return fmt.Errorf("capture: xdp XDP_UMEM_REG: %w", err)
	}

	ringSizes := []struct {
		opt  int
		size uint32
	}{
		{unix.XDP_UMEM_FILL_RING, s.cfg.FillRingSize},
		{unix.XDP_UMEM_COMPLETION_RING, s.cfg.CompRingSize},
		{unix.XDP_RX_RING, s.cfg.RxRingSize},
		{unix.XDP_TX_RING, s.cfg.TxRingSize},
	}
	for _, rs := range ringSizes {
		if err := unix.SetsockoptInt(fd, unix.SOL_XDP, rs.opt, int(rs.size)); err != nil {
			unix.Munmap(umem)
			unix.Close(fd)
			return fmt.Errorf("capture: xdp ring size option %d: %w", rs.opt, err)
		}
	}

	off, err := getsockoptXDPMmapOffsets(fd)
	if err != nil {
		unix.Munmap(umem)
		unix.Close(fd)
		return fmt.Errorf("capture: xdp XDP_MMAP_OFFSETS: %w", err)
	}

	fill, err := mmapRing(fd, unix.XDP_UMEM_PGOFF_FILL_RING, off.Fr, s.cfg.FillRingSize, 8)
	if err != nil {
		unix.Munmap(umem)
		unix.Close(fd)
		return fmt.Errorf("capture: xdp fill ring mmap: %w", err)
	}
	comp, err := mmapRing(fd, unix.XDP_UMEM_PGOFF_COMPLETION_RING, off.Cr, s.cfg.CompRingSize, 8)
	if err != nil {
		unix.Munmap(umem)
		unix.Close(fd)
		return fmt.Errorf("capture: xdp completion ring mmap: %w", err)
	}
	rx, err := mmapRing(fd, unix.XDP_PGOFF_RX_RING, off.Rx, s.cfg.RxRingSize, sizeofXDPDesc)
	if err != nil {
		unix.Munmap(umem)
		unix.Close(fd)
		return fmt.Errorf("capture: xdp rx ring mmap: %w", err)
	}
	tx, err := mmapRing(fd, unix.XDP_PGOFF_TX_RING, off.Tx, s.cfg.TxRingSize, sizeofXDPDesc)
	if err != nil {
		unix.Munmap(umem)
		unix.Close(fd)
		return fmt.Errorf("capture: xdp tx ring mmap: %w", err)
	}

	sa := unix.SockaddrXDP{
		Flags:   uint16(s.cfg.AttachFlags),
		Ifindex: uint32(ifi.Index),
		QueueID: s.cfg.QueueID,
	}
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Munmap(umem)
		unix.Close(fd)
		return fmt.Errorf("capture: xdp bind queue %d: %w", s.cfg.QueueID, err)
	}

	s.fd = fd
	s.umem = umem
	s.fill, s.comp, s.rx, s.tx = fill, comp, rx, tx
	s.frames = make(chan uint64, s.cfg.FrameCount)
	for i := uint32(0); i < s.cfg.FrameCount; i++ {
		s.frames <- uint64(i) * uint64(s.cfg.FrameSize)
	}
	s.fillAll()
	return nil
}

// fillAll pushes every currently-free UMEM frame onto the fill ring so the
// kernel has somewhere to land the next batch of rx descriptors.
func (s *xdpSource) fillAll() {
	for {
		select {
		case addr := <-s.frames:
			idx := s.fill.prod()
			*(*uint64)(s.fill.descPtr(idx, 8)) = addr
			atomic.AddUint32(s.fill.producer, 1)
		default:
			return
		}
	}
}

func (s *xdpSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return fmt.Errorf("capture: xdp start called before initialize")
	}
	s.running = true
	return nil
}

func (s *xdpSource) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Receive drains up to max descriptors from the rx ring, copies each frame
// out of the UMEM (so the caller can hold onto it past the next fill
// cycle), and immediately recycles the UMEM frame back onto the fill ring.
func (s *xdpSource) Receive(max int) []flow.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.fd < 0 {
		return nil
	}

	const descSize = sizeofXDPDesc
	frames := make([]flow.Frame, 0, max)
	cons := s.rx.cons()
	prod := s.rx.prod()
	n := prod - cons
	if n > uint32(max) {
		n = uint32(max)
	}
	for i := uint32(0); i < n; i++ {
		desc := (*unix.XDPDesc)(s.rx.descPtr(cons+i, descSize))
		if int(desc.Addr)+int(desc.Len) > len(s.umem) {
			s.stats.Increment("xdp.invalid_desc")
			continue
		}
		data := append([]byte(nil), s.umem[desc.Addr:desc.Addr+uint64(desc.Len)]...)
		frames = append(frames, flow.Frame{
			Data:        data,
			TimestampUs: time.Now().UnixMicro(),
			IngressQ:    int(s.cfg.QueueID),
		})
		s.rxPackets.Add(1)
		s.rxBytes.Add(uint64(desc.Len))
		s.frames <- desc.Addr
	}
	if n > 0 {
		atomic.AddUint32(s.rx.consumer, n)
		s.stats.Add("pcap.rx_packets", uint64(n))
	}
	s.drainCompletion()
	s.fillAll()
	return frames
}

func (s *xdpSource) drainCompletion() {
	cons := s.comp.cons()
	prod := s.comp.prod()
	n := prod - cons
	for i := uint32(0); i < n; i++ {
		addr := *(*uint64)(s.comp.descPtr(cons+i, 8))
		s.frames <- addr
	}
	if n > 0 {
		atomic.AddUint32(s.comp.consumer, n)
	}
}

func (s *xdpSource) Send(payloads [][]byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.fd < 0 {
		return 0
	}
	const descSize = sizeofXDPDesc
	s.drainCompletion()

	sent := 0
	prod := s.tx.prod()
	for _, p := range payloads {
		if len(p) > int(s.cfg.FrameSize) {
			continue
		}
		var addr uint64
		select {
		case addr = <-s.frames:
		default:
			continue
		}
		copy(s.umem[addr:addr+uint64(len(p))], p)
		desc := (*unix.XDPDesc)(s.tx.descPtr(prod, descSize))
		desc.Addr = addr
		desc.Len = uint32(len(p))
		prod++
		sent++
		s.txPackets.Add(1)
		s.txBytes.Add(uint64(len(p)))
	}
	if sent > 0 {
		atomic.AddUint32(s.tx.producer, uint32(sent))
		unix.Sendto(s.fd, nil, unix.MSG_DONTWAIT, nil)
		s.stats.Add("pcap.tx_packets", uint64(sent))
	}
	return sent
}

func (s *xdpSource) SnapshotStats() CaptureStats {
	return s.atomicStats.snapshot()
}

func (s *xdpSource) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.fill != nil {
		unix.Munmap(s.fill.mem)
	}
	if s.comp != nil {
		unix.Munmap(s.comp.mem)
	}
	if s.rx != nil {
		unix.Munmap(s.rx.mem)
	}
	if s.tx != nil {
		unix.Munmap(s.tx.mem)
	}
	if s.fd >= 0 {
		unix.Close(s.fd)
		s.fd = -1
	}
	if s.umem != nil {
		unix.Munmap(s.umem)
		s.umem = nil
	}
}

// mmapRing maps one ring at pgoff, using the producer/consumer/desc byte
// offsets reported for it in XDP_MMAP_OFFSETS. Each ring entry is either an
// 8-byte UMEM address (Fill/Completion) or a fixed-size xdp_desc (Rx/Tx).
func mmapRing(fd int, pgoff int64, off unix.XDPRingOffset, numEntries uint32, entrySize uintptr) (*xdpRing, error) {
	size := off.Desc + uint64(numEntries)*uint64(entrySize)
	mem, err := unix.Mmap(fd, pgoff, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return nil, err
	}
	return &xdpRing{
		mem:      mem,
		mask:     numEntries - 1,
		producer: (*uint32)(unsafe.Pointer(&mem[off.Producer])),
		consumer: (*uint32)(unsafe.Pointer(&mem[off.Consumer])),
		descOff:  uint32(off.Desc),
	}, nil
}
