package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strzcam.com/framecast/segment"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "shape", cfg.Stream.ShapeName)
	assert.Equal(t, "frame", cfg.Stream.FrameName)
	assert.Equal(t, "/dev/shm", cfg.ShmDir)
	assert.Equal(t, 10*time.Millisecond, cfg.Viewer.Interval)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "framecast.yaml", `
log_level: debug
stream:
  shape_name: cam_shape
  frame_name: cam_frame
producer:
  device: "2"
  width: 320
  height: 240
  convert_rgb: true
viewer:
  interval: 25ms
  no_copy: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "cam_shape", cfg.Stream.ShapeName)
	assert.Equal(t, "cam_frame", cfg.Stream.FrameName)
	assert.Equal(t, "2", cfg.Producer.Device)
	assert.Equal(t, 320, cfg.Producer.Width)
	assert.True(t, cfg.Producer.ConvertRGB)
	assert.Equal(t, 25*time.Millisecond, cfg.Viewer.Interval)
	assert.True(t, cfg.Viewer.NoCopy)
	// untouched keys keep their defaults
	assert.Equal(t, 30, cfg.Producer.FPS)
	assert.Equal(t, "bgr24", cfg.Producer.PixelFormat)
}

func TestLoadEmptyYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "producer:\n  resolution: 4k\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "framecast.yaml", "producer:\n  width: 320\n")
	t.Setenv("FRAMECAST_WIDTH", "800")
	t.Setenv("FRAMECAST_FRAME_NAME", "other_frame")
	t.Setenv("FRAMECAST_CONVERT_RGB", "true")
	t.Setenv("FRAMECAST_INTERVAL", "50ms")
	t.Setenv("FRAMECAST_REAL_TIME", "1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.Producer.Width)
	assert.Equal(t, "other_frame", cfg.Stream.FrameName)
	assert.True(t, cfg.Producer.ConvertRGB)
	assert.Equal(t, 50*time.Millisecond, cfg.Viewer.Interval)
	assert.True(t, cfg.Producer.RealTime)
}

func TestEnvMalformed(t *testing.T) {
	t.Setenv("FRAMECAST_FPS", "fast")
	_, err := Load("")
	assert.ErrorContains(t, err, "FRAMECAST_FPS")
}

func TestDotEnvFile(t *testing.T) {
	env := writeFile(t, ".env", "FRAMECAST_SHAPE_NAME=dotenv_shape\n")
	t.Cleanup(func() { os.Unsetenv("FRAMECAST_SHAPE_NAME") })

	cfg, err := Load("", env)
	require.NoError(t, err)
	assert.Equal(t, "dotenv_shape", cfg.Stream.ShapeName)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"empty shm dir", func(c *Config) { c.ShmDir = "" }},
		{"slash in name", func(c *Config) { c.Stream.ShapeName = "a/b" }},
		{"empty name", func(c *Config) { c.Stream.FrameName = "" }},
		{"same names", func(c *Config) { c.Stream.FrameName = c.Stream.ShapeName }},
		{"zero width", func(c *Config) { c.Producer.Width = 0 }},
		{"negative fps", func(c *Config) { c.Producer.FPS = -1 }},
		{"zero interval", func(c *Config) { c.Viewer.Interval = 0 }},
		{"quality", func(c *Config) { c.Viewer.Quality = 101 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestApply(t *testing.T) {
	old := segment.Dir
	t.Cleanup(func() {
		segment.Dir = old
		golog.SetAllLoggers(golog.LevelInfo)
	})

	cfg := Default()
	cfg.ShmDir = t.TempDir()
	cfg.LogLevel = "error"
	require.NoError(t, cfg.Apply())
	assert.Equal(t, cfg.ShmDir, segment.Dir)
}

func TestExists(t *testing.T) {
	assert.True(t, Exists(writeFile(t, "x.yaml", "")))
	assert.False(t, Exists(filepath.Join(t.TempDir(), "nope.yaml")))
}
