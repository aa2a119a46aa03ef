// Package config defines the typed configuration surface recognized by
// dnsobserve (spec §6's Configuration surface table) and loads it from
// YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CaptureMode selects which Frame Source backend to construct.
type CaptureMode string

const (
	ModePcap CaptureMode = "pcap"
	ModeXDP  CaptureMode = "xdp"
	ModeDPDK CaptureMode = "dpdk"
)

// Capture holds the Frame Source configuration, common fields plus the
// backend-specific sub-configs.
type Capture struct {
	Mode         CaptureMode `yaml:"mode"`
	Interface    string      `yaml:"interface"`
	Filter       string      `yaml:"filter"`
	Promiscuous  bool        `yaml:"promiscuous"`
	Snaplen      int32       `yaml:"snaplen"`
	TimeoutMs    int32       `yaml:"timeout_ms"`
	BufferSize   int32       `yaml:"buffer_size"`
	DPDK         DPDKConfig  `yaml:"dpdk"`
	XDP          XDPConfig   `yaml:"xdp"`
}

// DPDKConfig is the DPDK backend's sub-config.
type DPDKConfig struct {
	EALArgs       []string `yaml:"eal_args"`
	PortIDs       []uint16 `yaml:"port_ids"`
	RxQueues      uint16   `yaml:"rx_queues"`
	TxQueues      uint16   `yaml:"tx_queues"`
	MempoolSize   uint32   `yaml:"mempool_size"`
	MempoolCache  uint32   `yaml:"mempool_cache_size"`
	MbufSize      uint16   `yaml:"mbuf_size"`
}

// XDPConfig is the AF_XDP backend's sub-config.
type XDPConfig struct {
	ObjectPath    string `yaml:"object_path"`
	ProgramSec    string `yaml:"program_section"`
	AttachFlags   uint32 `yaml:"attach_flags"`
	QueueID       uint32 `yaml:"queue_id"`
	FrameSize     uint32 `yaml:"frame_size"`
	FrameCount    uint32 `yaml:"frame_count"`
	FillRingSize  uint32 `yaml:"fill_ring_size"`
	CompRingSize  uint32 `yaml:"comp_ring_size"`
	RxRingSize    uint32 `yaml:"rx_ring_size"`
	TxRingSize    uint32 `yaml:"tx_ring_size"`
}

// Driver holds the worker pool / stats-thread configuration.
type Driver struct {
	StatsIntervalSeconds int `yaml:"stats_interval"`
	WorkerThreads        int `yaml:"worker_threads"`
}

// Reassembly holds the per-flow session-table configuration shared by all
// transport reassemblers.
type Reassembly struct {
	MaxPacketSize    int   `yaml:"max_packet_size"`
	MaxSessions      int   `yaml:"max_sessions"`
	SessionTimeoutMs int64 `yaml:"session_timeout_ms"`
}

// Sinks holds the enable flags and sub-configs for every output collaborator.
type Sinks struct {
	Console ConsoleSink `yaml:"console"`
	File    FileSink    `yaml:"file"`
	Kafka   KafkaSink   `yaml:"kafka"`
	StatsD  StatsDSink  `yaml:"statsd"`
}

type ConsoleSink struct {
	Enabled bool `yaml:"enabled"`
	Color   bool `yaml:"color"`
}

type FileSink struct {
	Enabled          bool   `yaml:"enabled"`
	OutputDir        string `yaml:"output_dir"`
	FilePrefix       string `yaml:"file_prefix"`
	FileSuffix       string `yaml:"file_suffix"`
	RotationInterval int    `yaml:"rotation_interval"`
}

type KafkaSink struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type StatsDSink struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    uint16 `yaml:"port"`
	Prefix  string `yaml:"prefix"`
}

// Config is the root configuration document.
type Config struct {
	Capture    Capture    `yaml:"capture"`
	Driver     Driver     `yaml:"driver"`
	Reassembly Reassembly `yaml:"reassembly"`
	Sinks      Sinks      `yaml:"sinks"`
}

// Default returns a Config populated with spec §6's documented defaults.
func Default() Config {
	return Config{
		Capture: Capture{
			Mode:        ModePcap,
			Interface:   "eth0",
			Filter:      "udp port 53 or tcp port 53",
			Promiscuous: true,
			Snaplen:     65535,
			TimeoutMs:   1000,
			BufferSize:  16 * 1024 * 1024,
			DPDK: DPDKConfig{
				EALArgs:      []string{"dnsobserve"},
				PortIDs:      []uint16{0},
				RxQueues:     1,
				TxQueues:     1,
				MempoolSize:  8192,
				MempoolCache: 256,
				MbufSize:     2048,
			},
			XDP: XDPConfig{
				ObjectPath:   "xdp/dns_filter.o",
				ProgramSec:   "dns_filter",
				FrameSize:    2048,
				FrameCount:   8192,
				FillRingSize: 4096,
				CompRingSize: 4096,
				RxRingSize:   4096,
				TxRingSize:   4096,
			},
		},
		Driver: Driver{
			StatsIntervalSeconds: 10,
			WorkerThreads:        4,
		},
		Reassembly: Reassembly{
			MaxPacketSize:    65535,
			MaxSessions:      10000,
			SessionTimeoutMs: int64(30 * time.Second / time.Millisecond),
		},
		Sinks: Sinks{
			Console: ConsoleSink{Enabled: true, Color: true},
		},
	}
}

// Load reads a YAML document from path, applies it on top of Default, and
// validates the result. Any failure here is a Config error and is fatal at
// startup (spec §7).
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configuration that would make the driver's invariants
// impossible to uphold.
func (c Config) Validate() error {
	switch c.Capture.Mode {
	case ModePcap, ModeXDP, ModeDPDK:
	default:
		return fmt.Errorf("config: unknown capture mode %q", c.Capture.Mode)
	}
	if c.Capture.Interface == "" {
		return fmt.Errorf("config: capture.interface is required")
	}
	if c.Driver.WorkerThreads <= 0 {
		return fmt.Errorf("config: driver.worker_threads must be > 0")
	}
	if c.Driver.StatsIntervalSeconds <= 0 {
		return fmt.Errorf("config: driver.stats_interval must be > 0")
	}
	if c.Reassembly.MaxPacketSize < headerMinSize {
		return fmt.Errorf("config: reassembly.max_packet_size must be >= %d", headerMinSize)
	}
	if c.Reassembly.MaxSessions <= 0 {
		return fmt.Errorf("config: reassembly.max_sessions must be > 0")
	}
	if c.Sinks.Kafka.Enabled && (len(c.Sinks.Kafka.Brokers) == 0 || c.Sinks.Kafka.Topic == "") {
		return fmt.Errorf("config: sinks.kafka requires brokers and topic")
	}
	if c.Sinks.File.Enabled && c.Sinks.File.OutputDir == "" {
		return fmt.Errorf("config: sinks.file requires output_dir")
	}
	if c.Sinks.StatsD.Enabled && c.Sinks.StatsD.Host == "" {
		return fmt.Errorf("config: sinks.statsd requires host")
	}
	return nil
}

const headerMinSize = 12
