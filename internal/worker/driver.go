// Package worker implements the worker-pool driver that ties the capture,
// demux, reassembly and sink layers together (spec §4.6).
package worker

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/minorway/dnsobserve/internal/capture"
	"github.com/minorway/dnsobserve/internal/config"
	"github.com/minorway/dnsobserve/internal/demux"
	"github.com/minorway/dnsobserve/internal/dnswire"
	"github.com/minorway/dnsobserve/internal/flow"
	"github.com/minorway/dnsobserve/internal/reassembly"
	"github.com/minorway/dnsobserve/internal/sink"
	"github.com/minorway/dnsobserve/internal/stats"
)

// ErrAlreadyRunning is returned by Start when the driver is already running.
var ErrAlreadyRunning = errors.New("driver: already running")

const framesPerPoll = 10

// Driver owns the one shared Frame Source, demultiplexer, set of transport
// reassemblers, sink façade and stats registry for a process, and spawns
// the worker pool plus the stats thread on Start (spec §4.6).
type Driver struct {
	cfg     config.Config
	source  capture.Source
	demux   *demux.Demultiplexer
	sinks   *sink.Facade
	regstry *stats.Registry

	tcp *reassembly.TCPReassembler
	dot *reassembly.DoTReassembler
	doh *reassembly.DoHSessionReassembler
	doq *reassembly.DoQReassembler

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Driver wiring cfg's reassembly parameters into one
// reassembler per transport, all sharing regstry for stats reporting.
func New(cfg config.Config, source capture.Source, sinks *sink.Facade, regstry *stats.Registry) *Driver {
	r := cfg.Reassembly
	return &Driver{
		cfg:     cfg,
		source:  source,
		demux:   demux.New(),
		sinks:   sinks,
		regstry: regstry,
		tcp:     reassembly.NewTCPReassembler(r.MaxPacketSize, r.MaxSessions, r.SessionTimeoutMs, regstry),
		dot:     reassembly.NewDoTReassembler(r.MaxPacketSize, r.MaxSessions, r.SessionTimeoutMs, regstry),
		doh:     reassembly.NewDoHSessionReassembler(r.MaxPacketSize, r.MaxSessions, r.SessionTimeoutMs, regstry),
		doq:     reassembly.NewDoQReassembler(r.MaxPacketSize, r.MaxSessions, r.SessionTimeoutMs, regstry),
	}
}

// Start initializes and starts capture, then spawns the stats thread and W
// worker goroutines. It refuses to run twice.
func (d *Driver) Start() error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if err := d.source.Initialize(); err != nil {
		d.running.Store(false)
		return err
	}
	if err := d.source.Start(); err != nil {
		d.running.Store(false)
		return err
	}

	workers := d.cfg.Driver.WorkerThreads
	if workers <= 0 {
		workers = 1
	}
	d.printStartupBanner(workers)

	d.stopCh = make(chan struct{})

	d.wg.Add(1)
	go d.statsLoop()

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}

	return nil
}

// printStartupBanner prints the single diagnostic block a dnsobserve run
// starts with: capture mode/interface/filter/promiscuity, worker count,
// and, on macOS, a reminder that live capture needs elevated privileges.
func (d *Driver) printStartupBanner(workers int) {
	event := log.Info().
		Str("mode", string(d.cfg.Capture.Mode)).
		Str("interface", d.cfg.Capture.Interface).
		Str("filter", d.cfg.Capture.Filter).
		Bool("promiscuous", d.cfg.Capture.Promiscuous).
		Int("workers", workers)
	if runtime.GOOS == "darwin" {
		event = event.Str("hint", "live capture on macOS requires running as root or granting the binary cap_net_raw-equivalent access (sudo)")
	}
	event.Msg("dnsobserve starting")
}

// Stop flips the shared running flag and closes stopCh; Start's goroutines
// observe stopCh at the top of their next loop iteration and exit. Stop is
// idempotent.
func (d *Driver) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.stopCh)
	d.wg.Wait()
	d.source.Shutdown()
}

func (d *Driver) statsLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	interval := time.Duration(d.cfg.Driver.StatsIntervalSeconds) * time.Second
	last := time.Now()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if time.Since(last) >= interval {
				d.regstry.PrintAndReset()
				last = time.Now()
			}
		}
	}
}

func (d *Driver) workerLoop(id int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		frames := d.source.Receive(framesPerPoll)
		if len(frames) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}

		nowMs := time.Now().UnixMilli()
		for _, f := range frames {
			d.processFrame(f, nowMs)
		}
	}
}

func (d *Driver) processFrame(f flow.Frame, nowMs int64) {
	key, payload, ok := parseSegment(f.Data)
	if !ok {
		return
	}

	classification := d.demux.Classify(key)

	var msgs []*dnswire.Message
	switch classification.Transport {
	case demux.TransportTCP:
		msgs = d.tcp.ProcessSegment(key, payload, nowMs)
	case demux.TransportDoT:
		msgs = d.dot.ProcessSegment(key, payload, nowMs)
	case demux.TransportDoQ:
		msgs = d.doq.ProcessSegment(key, payload, nowMs)
	case demux.TransportDoH:
		if msg := d.doh.ProcessSegment(key, payload, nowMs); msg != nil {
			msgs = []*dnswire.Message{msg}
		}
	default:
		if msg, err := dnswire.Decode(payload, d.cfg.Reassembly.MaxPacketSize, d.regstry); err == nil {
			msg.TimestampUs = f.TimestampUs
			msgs = []*dnswire.Message{msg}
		}
	}

	for _, msg := range msgs {
		if msg.TimestampUs == 0 {
			msg.TimestampUs = f.TimestampUs
		}
		if err := d.sinks.Output(msg); err != nil {
			log.Warn().Err(err).Msg("sink output failed")
		}
	}
}

// UpdateTime advances every reassembler's idle-eviction clock. Exposed for
// tests and for a caller that wants a dedicated ticking goroutine distinct
// from the worker pool's own per-frame nowMs sampling.
func (d *Driver) UpdateTime(nowMs int64) {
	d.tcp.UpdateTime(nowMs)
	d.dot.UpdateTime(nowMs)
	d.doh.UpdateTime(nowMs)
	d.doq.UpdateTime(nowMs)
}
