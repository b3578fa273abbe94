// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `meter:` root key in YAML.
type GlobalConfig struct {
	Capture    CaptureConfig    `mapstructure:"capture"`
	Identify   IdentifyConfig   `mapstructure:"identify"`
	Reassembly ReassemblyConfig `mapstructure:"reassembly"`
	Frame      FrameConfig      `mapstructure:"frame"`
	Fragment   FragmentConfig   `mapstructure:"fragment"`
	Encounter  EncounterConfig  `mapstructure:"encounter"`
	Phase      PhaseConfig      `mapstructure:"phase"`
	Emit       EmitConfig       `mapstructure:"emit"`
	Persist    PersistConfig    `mapstructure:"persist"`
	GameData   GameDataConfig   `mapstructure:"gamedata"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Control    ControlConfig    `mapstructure:"control"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// ─── Capture ───

// CaptureConfig selects and tunes the raw packet source.
type CaptureConfig struct {
	Source     string         `mapstructure:"source"` // pcap | afpacket | file
	Device     string         `mapstructure:"device"` // Empty = first usable device
	File       string         `mapstructure:"file"`   // Required for source=file
	SnapLen    int            `mapstructure:"snap_len"`
	Promisc    bool           `mapstructure:"promisc"`
	BPFFilter  string         `mapstructure:"bpf_filter"`
	BufferSize int            `mapstructure:"buffer_size"` // Raw packet channel capacity
	Restart    RestartConfig  `mapstructure:"restart"`
	Options    map[string]any `mapstructure:"options"` // Source specific, decoded by the source
}

// RestartConfig controls supervisor backoff after capture failures.
type RestartConfig struct {
	MinBackoff string `mapstructure:"min_backoff"` // e.g. "500ms"
	MaxBackoff string `mapstructure:"max_backoff"` // e.g. "10s"
}

// ─── Stream ───

// IdentifyConfig toggles the connection signatures.
type IdentifyConfig struct {
	SceneSignature bool `mapstructure:"scene_signature"`
	LoginSignature bool `mapstructure:"login_signature"`
	MaxScanFrames  int  `mapstructure:"max_scan_frames"`
}

// ReassemblyConfig bounds the TCP segment reassembler.
type ReassemblyConfig struct {
	MaxBufferedBytes int `mapstructure:"max_buffered_bytes"`
	RegressionReset  int `mapstructure:"regression_reset"` // Bytes behind the cursor that force a reset
}

// FrameConfig bounds the frame reassembler.
type FrameConfig struct {
	MaxFrameSize     int `mapstructure:"max_frame_size"`
	CompactThreshold int `mapstructure:"compact_threshold"`
}

// FragmentConfig bounds the fragment parser.
type FragmentConfig struct {
	ServiceID           uint64 `mapstructure:"service_id"`
	MaxDecompressedSize int    `mapstructure:"max_decompressed_size"`
	MaxDepth            int    `mapstructure:"max_depth"`
}

// ─── Encounter ───

// EncounterConfig tunes encounter bookkeeping and boss heuristics.
type EncounterConfig struct {
	OverworldScenes   []int   `mapstructure:"overworld_scenes"`
	BossMaxHPMin      int64   `mapstructure:"boss_max_hp_min"` // 0 = disabled
	LowHPPercent      float64 `mapstructure:"low_hp_percent"`
	LowHPHold         string  `mapstructure:"low_hp_hold"`
	DeathDedupe       string  `mapstructure:"death_dedupe"`
	RollbackThreshold float64 `mapstructure:"rollback_threshold"` // Fraction of max HP
	RollbackCooldown  string  `mapstructure:"rollback_cooldown"`
	DeadBossTeamDPS   float64 `mapstructure:"dead_boss_team_dps"`
	WipeDetection     bool    `mapstructure:"wipe_detection"`
	DungeonSegments   bool    `mapstructure:"dungeon_segments"`
	SegmentTimeout    string  `mapstructure:"segment_timeout"`
}

// PhaseConfig tunes the phase detector.
type PhaseConfig struct {
	Timeout string `mapstructure:"timeout"`
}

// ─── Emission ───

// EmitConfig configures the presentation boundary.
type EmitConfig struct {
	Throttle     string `mapstructure:"throttle"`
	Listen       string `mapstructure:"listen"` // Empty = no HTTP/WebSocket server
	WSPath       string `mapstructure:"ws_path"`
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// ─── Persistence ───

// PersistConfig configures the persistence task queue and sink.
type PersistConfig struct {
	QueueCapacity int             `mapstructure:"queue_capacity"`
	Sink          string          `mapstructure:"sink"` // none | jsonl | kafka
	JSONL         JSONLSinkConfig `mapstructure:"jsonl"`
	Kafka         KafkaSinkConfig `mapstructure:"kafka"`
}

// JSONLSinkConfig writes tasks to a rotated local file.
type JSONLSinkConfig struct {
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// KafkaSinkConfig publishes tasks to a Kafka topic.
type KafkaSinkConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	Topic        string   `mapstructure:"topic"`
	BatchTimeout string   `mapstructure:"batch_timeout"`
	Compression  string   `mapstructure:"compression"` // none | gzip | snappy | lz4 | zstd
}

// ─── Game Data ───

// GameDataConfig points at an optional lookup table override.
type GameDataConfig struct {
	Path string `mapstructure:"path"` // Empty = embedded tables
}

// ─── Pipeline ───

// PipelineConfig tunes the processing loop.
type PipelineConfig struct {
	ControlBuffer int    `mapstructure:"control_buffer"`
	TickInterval  string `mapstructure:"tick_interval"`
}

// ─── Control ───

// ControlConfig configures the command channels besides the WebSocket.
type ControlConfig struct {
	Socket string             `mapstructure:"socket"` // Empty = no local socket
	Kafka  ControlKafkaConfig `mapstructure:"kafka"`
}

// ControlKafkaConfig consumes remote commands from a Kafka topic.
type ControlKafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	GroupID    string   `mapstructure:"group_id"`
	Target     string   `mapstructure:"target"`      // Node name matched against a command's target
	CommandTTL string   `mapstructure:"command_ttl"` // Older commands are dropped
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `meter: ...`.
type configRoot struct {
	Meter GlobalConfig `mapstructure:"meter"`
}

// Load loads configuration from file.
// The YAML file uses `meter:` as root key; env vars map through the key replacer
// (e.g., key "meter.capture.device" → env "METER_CAPTURE_DEVICE").
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return load(v)
}

// Default returns the configuration used when no file is given.
// Environment overrides still apply.
func Default() (*GlobalConfig, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*GlobalConfig, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Meter

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "meter." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("meter.capture.source", "pcap")
	v.SetDefault("meter.capture.snap_len", 65535)
	v.SetDefault("meter.capture.promisc", false)
	v.SetDefault("meter.capture.bpf_filter", "not host 127.0.0.1 and ip and tcp")
	v.SetDefault("meter.capture.buffer_size", 4096)
	v.SetDefault("meter.capture.restart.min_backoff", "500ms")
	v.SetDefault("meter.capture.restart.max_backoff", "10s")

	// Stream defaults
	v.SetDefault("meter.identify.scene_signature", true)
	v.SetDefault("meter.identify.login_signature", true)
	v.SetDefault("meter.identify.max_scan_frames", 2000)
	v.SetDefault("meter.reassembly.max_buffered_bytes", 5*1024*1024)
	v.SetDefault("meter.reassembly.regression_reset", 2*1024*1024)
	v.SetDefault("meter.frame.max_frame_size", 10*1024*1024)
	v.SetDefault("meter.frame.compact_threshold", 4096)
	v.SetDefault("meter.fragment.service_id", uint64(0x0000000063335342))
	v.SetDefault("meter.fragment.max_decompressed_size", 16*1024*1024)
	v.SetDefault("meter.fragment.max_depth", 4)

	// Encounter defaults
	v.SetDefault("meter.encounter.overworld_scenes", []int{8})
	v.SetDefault("meter.encounter.boss_max_hp_min", 0)
	v.SetDefault("meter.encounter.low_hp_percent", 5.0)
	v.SetDefault("meter.encounter.low_hp_hold", "5s")
	v.SetDefault("meter.encounter.death_dedupe", "2s")
	v.SetDefault("meter.encounter.rollback_threshold", 0.95)
	v.SetDefault("meter.encounter.rollback_cooldown", "2s")
	v.SetDefault("meter.encounter.dead_boss_team_dps", 5000.0)
	v.SetDefault("meter.encounter.wipe_detection", true)
	v.SetDefault("meter.encounter.dungeon_segments", true)
	v.SetDefault("meter.encounter.segment_timeout", "15s")
	v.SetDefault("meter.phase.timeout", "15s")

	// Emission defaults
	v.SetDefault("meter.emit.throttle", "200ms")
	v.SetDefault("meter.emit.listen", "127.0.0.1:8787")
	v.SetDefault("meter.emit.ws_path", "/ws")
	v.SetDefault("meter.emit.snapshot_path", "/snapshot")

	// Persistence defaults
	v.SetDefault("meter.persist.queue_capacity", 8192)
	v.SetDefault("meter.persist.sink", "none")
	v.SetDefault("meter.persist.jsonl.path", "meter-tasks.jsonl")
	v.SetDefault("meter.persist.jsonl.rotation.max_size_mb", 100)
	v.SetDefault("meter.persist.jsonl.rotation.max_age_days", 30)
	v.SetDefault("meter.persist.jsonl.rotation.max_backups", 5)
	v.SetDefault("meter.persist.jsonl.rotation.compress", true)
	v.SetDefault("meter.persist.kafka.topic", "meter-tasks")
	v.SetDefault("meter.persist.kafka.batch_timeout", "1s")
	v.SetDefault("meter.persist.kafka.compression", "snappy")

	// Pipeline defaults
	v.SetDefault("meter.pipeline.control_buffer", 64)
	v.SetDefault("meter.pipeline.tick_interval", "250ms")

	// Control defaults
	v.SetDefault("meter.control.socket", "/tmp/meter.sock")
	v.SetDefault("meter.control.kafka.enabled", false)
	v.SetDefault("meter.control.kafka.topic", "meter-commands")
	v.SetDefault("meter.control.kafka.group_id", "meter")
	v.SetDefault("meter.control.kafka.command_ttl", "5m")

	// Metrics defaults
	v.SetDefault("meter.metrics.enabled", false)
	v.SetDefault("meter.metrics.listen", "127.0.0.1:9091")
	v.SetDefault("meter.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("meter.log.level", "info")
	v.SetDefault("meter.log.format", "text")
	v.SetDefault("meter.log.outputs.file.enabled", false)
	v.SetDefault("meter.log.outputs.file.path", "meter.log")
	v.SetDefault("meter.log.outputs.file.rotation.max_size_mb", 50)
	v.SetDefault("meter.log.outputs.file.rotation.max_age_days", 14)
	v.SetDefault("meter.log.outputs.file.rotation.max_backups", 3)
	v.SetDefault("meter.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Capture validation ──
	switch cfg.Capture.Source {
	case "pcap", "afpacket":
	case "file":
		if cfg.Capture.File == "" {
			return fmt.Errorf("capture.file is required when capture.source=file")
		}
	default:
		return fmt.Errorf("unsupported capture.source: %s (must be pcap/afpacket/file)", cfg.Capture.Source)
	}
	if cfg.Capture.BufferSize <= 0 {
		cfg.Capture.BufferSize = 4096
	}
	if cfg.Capture.SnapLen <= 0 {
		cfg.Capture.SnapLen = 65535
	}

	// ── Stream bounds ──
	if cfg.Frame.MaxFrameSize < 4 {
		return fmt.Errorf("frame.max_frame_size must be >= 4, got %d", cfg.Frame.MaxFrameSize)
	}
	if cfg.Reassembly.MaxBufferedBytes <= 0 {
		return fmt.Errorf("reassembly.max_buffered_bytes must be positive")
	}
	if cfg.Fragment.MaxDecompressedSize <= 0 {
		return fmt.Errorf("fragment.max_decompressed_size must be positive")
	}
	if cfg.Fragment.MaxDepth <= 0 {
		cfg.Fragment.MaxDepth = 1
	}

	// ── Durations ──
	durations := map[string]string{
		"capture.restart.min_backoff": cfg.Capture.Restart.MinBackoff,
		"capture.restart.max_backoff": cfg.Capture.Restart.MaxBackoff,
		"encounter.low_hp_hold":       cfg.Encounter.LowHPHold,
		"encounter.death_dedupe":      cfg.Encounter.DeathDedupe,
		"encounter.rollback_cooldown": cfg.Encounter.RollbackCooldown,
		"encounter.segment_timeout":   cfg.Encounter.SegmentTimeout,
		"phase.timeout":               cfg.Phase.Timeout,
		"emit.throttle":               cfg.Emit.Throttle,
		"pipeline.tick_interval":      cfg.Pipeline.TickInterval,
		"persist.kafka.batch_timeout": cfg.Persist.Kafka.BatchTimeout,
		"control.kafka.command_ttl":   cfg.Control.Kafka.CommandTTL,
	}
	for key, val := range durations {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	// ── Persistence validation ──
	switch cfg.Persist.Sink {
	case "none", "":
		cfg.Persist.Sink = "none"
	case "jsonl":
		if cfg.Persist.JSONL.Path == "" {
			return fmt.Errorf("persist.jsonl.path is required when persist.sink=jsonl")
		}
	case "kafka":
		if len(cfg.Persist.Kafka.Brokers) == 0 {
			return fmt.Errorf("persist.kafka.brokers is required when persist.sink=kafka")
		}
		if cfg.Persist.Kafka.Topic == "" {
			return fmt.Errorf("persist.kafka.topic is required when persist.sink=kafka")
		}
	default:
		return fmt.Errorf("unsupported persist.sink: %s (must be none/jsonl/kafka)", cfg.Persist.Sink)
	}
	if cfg.Persist.QueueCapacity <= 0 {
		cfg.Persist.QueueCapacity = 8192
	}

	if cfg.Pipeline.ControlBuffer <= 0 {
		cfg.Pipeline.ControlBuffer = 64
	}
	if cfg.Control.Kafka.Enabled {
		if len(cfg.Control.Kafka.Brokers) == 0 {
			return fmt.Errorf("control.kafka.brokers is required when control.kafka.enabled")
		}
		if cfg.Control.Kafka.Topic == "" || cfg.Control.Kafka.GroupID == "" {
			return fmt.Errorf("control.kafka.topic and group_id are required when control.kafka.enabled")
		}
	}

	return nil
}

// Duration parses a validated duration field, falling back to def when empty.
func Duration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}
