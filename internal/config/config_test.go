package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meter.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
meter:
  capture:
    source: file
    file: /tmp/session.pcap
  emit:
    throttle: 100ms
    listen: ":9000"
  persist:
    sink: jsonl
    jsonl:
      path: /tmp/tasks.jsonl
  log:
    level: debug
    format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Capture.Source)
	assert.Equal(t, "/tmp/session.pcap", cfg.Capture.File)
	assert.Equal(t, "100ms", cfg.Emit.Throttle)
	assert.Equal(t, ":9000", cfg.Emit.Listen)
	assert.Equal(t, "jsonl", cfg.Persist.Sink)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// untouched sections keep their defaults
	assert.Equal(t, "not host 127.0.0.1 and ip and tcp", cfg.Capture.BPFFilter)
	assert.Equal(t, 10*1024*1024, cfg.Frame.MaxFrameSize)
	assert.Equal(t, 5*1024*1024, cfg.Reassembly.MaxBufferedBytes)
	assert.Equal(t, uint64(0x63335342), cfg.Fragment.ServiceID)
	assert.Equal(t, "15s", cfg.Phase.Timeout)
	assert.Equal(t, []int{8}, cfg.Encounter.OverworldScenes)
	assert.True(t, cfg.Encounter.WipeDetection)
	assert.True(t, cfg.Encounter.DungeonSegments)
	assert.Equal(t, "15s", cfg.Encounter.SegmentTimeout)
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "pcap", cfg.Capture.Source)
	assert.Equal(t, "200ms", cfg.Emit.Throttle)
	assert.Equal(t, "none", cfg.Persist.Sink)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 4096, cfg.Frame.CompactThreshold)
}

func TestLoadInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
meter:
  log:
    level: loud
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestLoadFileSourceRequiresPath(t *testing.T) {
	path := writeConfig(t, `
meter:
  capture:
    source: file
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture.file")
}

func TestLoadKafkaSinkRequiresBrokers(t *testing.T) {
	path := writeConfig(t, `
meter:
  persist:
    sink: kafka
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist.kafka.brokers")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
meter:
  phase:
    timeout: soon
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phase.timeout")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("METER_LOG_LEVEL", "warn")
	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 15*time.Second, Duration("15s", time.Second))
	assert.Equal(t, time.Second, Duration("", time.Second))
	assert.Equal(t, time.Second, Duration("nope", time.Second))
}
