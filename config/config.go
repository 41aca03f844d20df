// Package config loads provider and viewer settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// FRAMECAST_* environment variables (a .env file is loaded into the
// environment first when present). Commands apply their flags last.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"strzcam.com/framecast/consumer"
	"strzcam.com/framecast/frame"
	"strzcam.com/framecast/preview"
	"strzcam.com/framecast/segment"
)

var log = golog.Logger("framecast/config")

// DefaultPath is read when no config file is named and it exists.
const DefaultPath = "framecast.yaml"

type Config struct {
	LogLevel string       `yaml:"log_level"`
	ShmDir   string       `yaml:"shm_dir"`
	Stream   StreamConfig `yaml:"stream"`
	Producer Producer     `yaml:"producer"`
	Viewer   Viewer       `yaml:"viewer"`
}

// StreamConfig names the two segments of a stream.
type StreamConfig struct {
	ShapeName string `yaml:"shape_name"`
	FrameName string `yaml:"frame_name"`
}

type Producer struct {
	Device      string `yaml:"device"`
	InputFormat string `yaml:"input_format"`
	PixelFormat string `yaml:"pixel_format"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FPS         int    `yaml:"fps"`
	ConvertRGB  bool   `yaml:"convert_rgb"`
	FFmpeg      string `yaml:"ffmpeg"`
	// RealTime throttles file inputs to their native frame rate.
	RealTime bool `yaml:"real_time"`
	// Demo publishes a synthetic gradient instead of opening a device.
	Demo bool `yaml:"demo"`
}

type Viewer struct {
	NoCopy   bool          `yaml:"no_copy"`
	RGB      bool          `yaml:"rgb"`
	Interval time.Duration `yaml:"interval"`
	Listen   string        `yaml:"listen"`
	Quality  int           `yaml:"quality"`
	Wait     bool          `yaml:"wait"`
}

func Default() *Config {
	return &Config{
		LogLevel: "info",
		ShmDir:   "/dev/shm",
		Stream: StreamConfig{
			ShapeName: frame.DefaultShapeName,
			FrameName: frame.DefaultFrameName,
		},
		Producer: Producer{
			Device:      "0",
			InputFormat: "v4l2",
			PixelFormat: "bgr24",
			Width:       640,
			Height:      480,
			FPS:         30,
			FFmpeg:      "ffmpeg",
		},
		Viewer: Viewer{
			Interval: consumer.DefaultInterval,
			Listen:   preview.DefaultAddr,
			Quality:  preview.DefaultQuality,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment. envFiles default to ".env".
func Load(path string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		log.Debugw("no env file loaded", "err", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"FRAMECAST_LOG_LEVEL":    &c.LogLevel,
		"FRAMECAST_SHM_DIR":      &c.ShmDir,
		"FRAMECAST_SHAPE_NAME":   &c.Stream.ShapeName,
		"FRAMECAST_FRAME_NAME":   &c.Stream.FrameName,
		"FRAMECAST_DEVICE":       &c.Producer.Device,
		"FRAMECAST_INPUT_FORMAT": &c.Producer.InputFormat,
		"FRAMECAST_PIXEL_FORMAT": &c.Producer.PixelFormat,
		"FRAMECAST_FFMPEG":       &c.Producer.FFmpeg,
		"FRAMECAST_LISTEN":       &c.Viewer.Listen,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"FRAMECAST_WIDTH":   &c.Producer.Width,
		"FRAMECAST_HEIGHT":  &c.Producer.Height,
		"FRAMECAST_FPS":     &c.Producer.FPS,
		"FRAMECAST_QUALITY": &c.Viewer.Quality,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"FRAMECAST_CONVERT_RGB": &c.Producer.ConvertRGB,
		"FRAMECAST_DEMO":        &c.Producer.Demo,
		"FRAMECAST_REAL_TIME":   &c.Producer.RealTime,
		"FRAMECAST_NO_COPY":     &c.Viewer.NoCopy,
		"FRAMECAST_RGB":         &c.Viewer.RGB,
		"FRAMECAST_WAIT":        &c.Viewer.Wait,
	}
	for key, dst := range bools {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	if v, ok := os.LookupEnv("FRAMECAST_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FRAMECAST_INTERVAL: %w", err)
		}
		c.Viewer.Interval = d
	}
	return nil
}

// Validate checks the settings both commands depend on.
func (c *Config) Validate() error {
	if _, err := golog.LevelFromString(c.LogLevel); err != nil {
		return fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	if c.ShmDir == "" {
		return errors.New("shm_dir is empty")
	}
	for _, name := range []string{c.Stream.ShapeName, c.Stream.FrameName} {
		if _, err := segment.Path(name); err != nil {
			return err
		}
	}
	if c.Stream.ShapeName == c.Stream.FrameName {
		return fmt.Errorf("shape and frame segment share the name %q", c.Stream.ShapeName)
	}
	if c.Producer.Width <= 0 || c.Producer.Height <= 0 {
		return fmt.Errorf("invalid capture size %dx%d", c.Producer.Width, c.Producer.Height)
	}
	if c.Producer.FPS < 0 {
		return fmt.Errorf("invalid fps %d", c.Producer.FPS)
	}
	if c.Viewer.Interval <= 0 {
		return fmt.Errorf("invalid poll interval %s", c.Viewer.Interval)
	}
	if c.Viewer.Quality < 1 || c.Viewer.Quality > 100 {
		return fmt.Errorf("invalid jpeg quality %d", c.Viewer.Quality)
	}
	return nil
}

// Apply points the segment package at ShmDir and sets every logger to
// LogLevel.
func (c *Config) Apply() error {
	lvl, err := golog.LevelFromString(c.LogLevel)
	if err != nil {
		return err
	}
	golog.SetAllLoggers(lvl)
	segment.Dir = c.ShmDir
	return nil
}

// Exists reports whether a config file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
