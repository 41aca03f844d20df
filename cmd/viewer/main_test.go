package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFlags(t *testing.T) {
	cfg, err := loadConfig([]string{
		"--shape-name", "cam_shape",
		"--frame-name", "cam_frame",
		"--no-copy",
		"--rgb",
		"--interval", "40ms",
		"--listen", "127.0.0.1:9000",
	})
	require.NoError(t, err)
	assert.Equal(t, "cam_shape", cfg.Stream.ShapeName)
	assert.Equal(t, "cam_frame", cfg.Stream.FrameName)
	assert.True(t, cfg.Viewer.NoCopy)
	assert.True(t, cfg.Viewer.RGB)
	assert.Equal(t, 40*time.Millisecond, cfg.Viewer.Interval)
	assert.Equal(t, "127.0.0.1:9000", cfg.Viewer.Listen)
	assert.False(t, cfg.Viewer.Wait)
}

func TestLoadConfigRejectsZeroInterval(t *testing.T) {
	_, err := loadConfig([]string{"--interval", "0s"})
	assert.Error(t, err)
}

func TestRunWithoutProvider(t *testing.T) {
	t.Setenv("FRAMECAST_SHM_DIR", t.TempDir())
	id := uuid.NewString()
	code := run([]string{
		"--shape-name", "shape-" + id,
		"--frame-name", "frame-" + id,
		"--listen", "",
		"--log-level", "error",
	})
	assert.Equal(t, 1, code)
}
