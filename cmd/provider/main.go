// Command provider captures frames from a camera and publishes them to a pair
// of shared memory segments until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	golog "github.com/ipfs/go-log/v2"

	"strzcam.com/framecast/capture"
	"strzcam.com/framecast/config"
	"strzcam.com/framecast/frame"
	"strzcam.com/framecast/producer"
	"strzcam.com/framecast/segment"
)

var log = golog.Logger("framecast/provider")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := loadConfig(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "provider: %v\n", err)
		return 1
	}
	if err := cfg.Apply(); err != nil {
		fmt.Fprintf(os.Stderr, "provider: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, err := openDevice(ctx, cfg.Producer)
	if err != nil {
		log.Errorw("open device", "device", cfg.Producer.Device, "err", err)
		fmt.Fprintf(os.Stderr, "Unable to open camera device %s\n", cfg.Producer.Device)
		return 1
	}
	defer dev.Close()

	p := producer.New(cfg.Stream.ShapeName, cfg.Stream.FrameName)
	err = p.Run(ctx, dev, producer.RunOptions{ConvertRGB: cfg.Producer.ConvertRGB})
	switch {
	case errors.Is(err, capture.ErrDeviceUnavailable):
		log.Errorw("capture failed", "device", cfg.Producer.Device, "err", err)
		fmt.Fprintf(os.Stderr, "Unable to open camera device %s\n", cfg.Producer.Device)
		return 1
	case errors.Is(err, segment.ErrNameConflict):
		fmt.Fprintf(os.Stderr, "Shared memory segments %q/%q already exist. Is another provider running?\n",
			cfg.Stream.ShapeName, cfg.Stream.FrameName)
		return 1
	case err != nil:
		log.Errorw("provider stopped", "err", err)
		return 1
	}
	log.Infow("provider exited", "published", p.Published())
	return 0
}

func openDevice(ctx context.Context, c config.Producer) (capture.Device, error) {
	if c.Demo {
		shape := frame.Shape{Height: int32(c.Height), Width: int32(c.Width), Channels: 3}
		seq := capture.NewSequence(capture.Gradient(shape, 64)...)
		seq.Loop = true
		if c.FPS > 0 {
			seq.Delay = time.Second / time.Duration(c.FPS)
		}
		return seq, nil
	}
	dev, err := capture.OpenFFmpeg(ctx, capture.FFmpegConfig{
		Device:      c.Device,
		InputFormat: c.InputFormat,
		PixelFormat: c.PixelFormat,
		Width:       c.Width,
		Height:      c.Height,
		FPS:         c.FPS,
		Binary:      c.FFmpeg,
		RealTime:    c.RealTime,
	})
	if err != nil {
		return nil, err
	}
	log.Infow("device opened", "device", c.Device, "dims", dev.Shape().String())
	return dev, nil
}

// loadConfig parses the command line, loads the config it points at and
// applies the flags that were given explicitly.
func loadConfig(args []string) (*config.Config, error) {
	d := config.Default()
	fs := flag.NewFlagSet("provider", flag.ContinueOnError)
	var (
		configPath  = fs.String("config", "", "YAML config file (default "+config.DefaultPath+" when present)")
		device      = fs.String("device", d.Producer.Device, "camera device index, path or ffmpeg input")
		shapeName   = fs.String("shape-name", d.Stream.ShapeName, "shape segment name")
		frameName   = fs.String("frame-name", d.Stream.FrameName, "frame segment name")
		convertRGB  = fs.Bool("convert-rgb", d.Producer.ConvertRGB, "publish RGB instead of BGR")
		width       = fs.Int("width", d.Producer.Width, "capture width")
		height      = fs.Int("height", d.Producer.Height, "capture height")
		fps         = fs.Int("fps", d.Producer.FPS, "capture frame rate")
		inputFormat = fs.String("input-format", d.Producer.InputFormat, "ffmpeg input format")
		pixelFormat = fs.String("pixel-format", d.Producer.PixelFormat, "raw pixel format: bgr24, rgb24, gray, bgra")
		realTime    = fs.Bool("real-time", d.Producer.RealTime, "read file inputs at their native rate")
		demo        = fs.Bool("demo", false, "publish a synthetic gradient instead of a camera")
		logLevel    = fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	path := *configPath
	if path == "" && config.Exists(config.DefaultPath) {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			cfg.Producer.Device = *device
		case "shape-name":
			cfg.Stream.ShapeName = *shapeName
		case "frame-name":
			cfg.Stream.FrameName = *frameName
		case "convert-rgb":
			cfg.Producer.ConvertRGB = *convertRGB
		case "width":
			cfg.Producer.Width = *width
		case "height":
			cfg.Producer.Height = *height
		case "fps":
			cfg.Producer.FPS = *fps
		case "input-format":
			cfg.Producer.InputFormat = *inputFormat
		case "pixel-format":
			cfg.Producer.PixelFormat = *pixelFormat
		case "real-time":
			cfg.Producer.RealTime = *realTime
		case "demo":
			cfg.Producer.Demo = *demo
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	return cfg, cfg.Validate()
}
