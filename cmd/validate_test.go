package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/meter/internal/capture"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunValidate(t *testing.T) {
	path := writeFile(t, `
meter:
  capture:
    source: afpacket
  persist:
    sink: jsonl
    jsonl:
      path: /tmp/tasks.jsonl
  emit:
    listen: ""
`)
	var buf bytes.Buffer
	require.NoError(t, runValidate(path, &buf))
	assert.Contains(t, buf.String(), "VALID:")
	assert.Contains(t, buf.String(), "capture afpacket")
	assert.Contains(t, buf.String(), "persist jsonl")
	assert.Contains(t, buf.String(), "emit off")
}

func TestRunValidate_Defaults(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runValidate("", &buf))
	assert.Contains(t, buf.String(), "(defaults)")
	assert.Contains(t, buf.String(), "capture pcap")
}

func TestRunValidate_Invalid(t *testing.T) {
	path := writeFile(t, `
meter:
  capture:
    source: file
`)
	var buf bytes.Buffer
	err := runValidate(path, &buf)
	assert.ErrorContains(t, err, "capture.file")
	assert.Empty(t, buf.String())
}

func TestRunReplay_PrintsSummary(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, runReplay(context.Background(), cfg, capture.NewMemory(), &buf))

	var out struct {
		Summary struct {
			TotalDamage int64 `json:"total_damage"`
		} `json:"summary"`
		Stats struct {
			Received uint64 `json:"received"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Zero(t, out.Summary.TotalDamage)
	assert.Zero(t, out.Stats.Received)
}

func TestRunReplay_MissingFile(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	src := capture.NewFile(filepath.Join(t.TempDir(), "missing.pcap"), "")
	err = runReplay(context.Background(), cfg, src, &bytes.Buffer{})
	assert.Error(t, err)
}
