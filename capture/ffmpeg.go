package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	golog "github.com/ipfs/go-log/v2"

	"strzcam.com/framecast/frame"
)

var log = golog.Logger("framecast/capture")

// FFmpegConfig describes an ffmpeg input decoded to raw frames.
type FFmpegConfig struct {
	// Device is a device id ("0"), a device path or any ffmpeg input.
	Device      string
	InputFormat string
	// PixelFormat is one of bgr24, rgb24, gray, bgra.
	PixelFormat string
	Width       int
	Height      int
	FPS         int
	// Binary defaults to "ffmpeg".
	Binary string
	// RealTime reads the input at its native rate (-re), for file inputs.
	RealTime bool
}

// stderrGrace bounds how long a failed start waits for ffmpeg's last words.
const stderrGrace = time.Second

// FFmpeg reads raw frames from an ffmpeg child process.
type FFmpeg struct {
	cfg    FFmpegConfig
	shape  frame.Shape
	cmd    *exec.Cmd
	stdout io.ReadCloser
	frames int

	stderrDone chan struct{}
	mu         sync.Mutex
	lastLine   string

	closeOnce sync.Once
	closeErr  error
}

// DevicePath maps a bare device index to its v4l2 node.
func DevicePath(device string) string {
	if _, err := strconv.Atoi(device); err == nil {
		return "/dev/video" + device
	}
	return device
}

func pixelChannels(format string) (int, error) {
	switch format {
	case "gray":
		return 1, nil
	case "bgr24", "rgb24":
		return 3, nil
	case "bgra", "rgba":
		return 4, nil
	}
	return 0, fmt.Errorf("unsupported pixel format %q", format)
}

func (c FFmpegConfig) args() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if c.RealTime {
		args = append(args, "-re")
	}
	if c.InputFormat != "" {
		args = append(args, "-f", c.InputFormat)
	}
	if c.InputFormat == "v4l2" {
		if c.FPS > 0 {
			args = append(args, "-framerate", strconv.Itoa(c.FPS))
		}
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height))
	}
	args = append(args, "-i", DevicePath(c.Device))
	if c.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(c.FPS))
	}
	return append(args,
		"-f", "rawvideo",
		"-pix_fmt", c.PixelFormat,
		"-s", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-",
	)
}

// OpenFFmpeg starts ffmpeg on the configured input. A missing v4l2 device or
// ffmpeg binary fails with ErrDeviceUnavailable, and so does the first Read
// when ffmpeg exits without producing a frame.
func OpenFFmpeg(ctx context.Context, cfg FFmpegConfig) (*FFmpeg, error) {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.PixelFormat == "" {
		cfg.PixelFormat = "bgr24"
	}
	channels, err := pixelChannels(cfg.PixelFormat)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid capture size %dx%d", cfg.Width, cfg.Height)
	}

	if cfg.InputFormat == "v4l2" {
		if _, err := os.Stat(DevicePath(cfg.Device)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
	}
	bin, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	cmd := exec.CommandContext(ctx, bin, cfg.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrDeviceUnavailable, err)
	}

	f := &FFmpeg{
		cfg: cfg,
		shape: frame.Shape{
			Height:   int32(cfg.Height),
			Width:    int32(cfg.Width),
			Channels: int32(channels),
		},
		cmd:        cmd,
		stdout:     stdout,
		stderrDone: make(chan struct{}),
	}
	go f.scanStderr(stderr)

	log.Infow("capture started",
		"device", DevicePath(cfg.Device),
		"format", cfg.PixelFormat,
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
	)
	return f, nil
}

func (f *FFmpeg) scanStderr(r io.Reader) {
	defer close(f.stderrDone)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		log.Warnw("ffmpeg", "line", line)
		f.mu.Lock()
		f.lastLine = line
		f.mu.Unlock()
	}
}

// startFailed reports an ffmpeg that exited before producing a frame, which
// means the input never opened.
func (f *FFmpeg) startFailed() error {
	select {
	case <-f.stderrDone:
	case <-time.After(stderrGrace):
	}
	_ = f.Close()

	f.mu.Lock()
	reason := f.lastLine
	f.mu.Unlock()
	if reason == "" {
		reason = "ffmpeg exited before the first frame"
	}
	return fmt.Errorf("%w: %s: %s", ErrDeviceUnavailable, DevicePath(f.cfg.Device), reason)
}

// Shape is the shape of every frame the device yields.
func (f *FFmpeg) Shape() frame.Shape {
	return f.shape
}

func (f *FFmpeg) Read(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return Capture{}, err
	}
	buf := make([]byte, f.shape.Len())
	_, err := io.ReadFull(f.stdout, buf)
	switch {
	case err == nil:
		f.frames++
		return Capture{OK: true, Image: frame.Frame{Shape: f.shape, Data: buf}}, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		log.Debugw("short read from ffmpeg")
		return Capture{}, nil
	case errors.Is(err, os.ErrClosed):
		return Capture{}, io.EOF
	case errors.Is(err, io.EOF):
		if f.frames == 0 {
			return Capture{}, f.startFailed()
		}
		return Capture{}, io.EOF
	}
	return Capture{}, fmt.Errorf("read frame: %w", err)
}

// Close stops ffmpeg and waits for it to exit.
func (f *FFmpeg) Close() error {
	f.closeOnce.Do(func() {
		if f.cmd.Process != nil {
			_ = f.cmd.Process.Kill()
		}
		// exit status after a kill is expected
		if err := f.cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				f.closeErr = err
			}
		}
	})
	return f.closeErr
}
