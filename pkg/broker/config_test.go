package broker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "crossbar", cfg.NATS.Name)
	assert.Equal(t, "crossbar.fanout", cfg.NATS.Subject)
	assert.Equal(t, 30*time.Second, cfg.NATS.Timeout)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crossbar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 8
queue_depth: 512
nats:
  url: nats://broker-1:4222
  name: edge
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 512, cfg.QueueDepth)
	assert.Equal(t, "nats://broker-1:4222", cfg.NATS.URL)
	assert.Equal(t, "edge", cfg.NATS.Name)
	assert.Equal(t, "crossbar.fanout", cfg.NATS.Subject, "defaults survive partial files")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: [not an int"), 0o644))
	_, err := LoadConfig(path)
	require.Error(t, err)
}
