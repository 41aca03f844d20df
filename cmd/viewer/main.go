// Command viewer attaches to a stream published by provider and serves it as
// a live preview over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	golog "github.com/ipfs/go-log/v2"

	"strzcam.com/framecast/config"
	"strzcam.com/framecast/consumer"
	"strzcam.com/framecast/frame"
	"strzcam.com/framecast/preview"
	"strzcam.com/framecast/segment"
	"strzcam.com/framecast/watcher"
)

var log = golog.Logger("framecast/viewer")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := loadConfig(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "viewer: %v\n", err)
		return 1
	}
	if err := cfg.Apply(); err != nil {
		fmt.Fprintf(os.Stderr, "viewer: %v\n", err)
		return 1
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	names := []string{cfg.Stream.ShapeName, cfg.Stream.FrameName}
	w, err := watcher.New(names...)
	if err != nil {
		log.Warnw("segment watcher unavailable", "err", err)
	} else {
		defer w.Close()
	}

	if cfg.Viewer.Wait && w != nil {
		if err := w.WaitForSegments(ctx); err != nil {
			return 0
		}
	}

	client, err := consumer.Attach(cfg.Stream.ShapeName, cfg.Stream.FrameName,
		consumer.WithCopy(!cfg.Viewer.NoCopy))
	if err != nil {
		if errors.Is(err, segment.ErrNotFound) {
			fmt.Fprintln(os.Stderr, "Shared memory segments not found. Ensure the provider is running first.")
		} else {
			fmt.Fprintf(os.Stderr, "viewer: %v\n", err)
		}
		return 1
	}
	defer client.Close()

	if w != nil {
		go func() {
			select {
			case <-w.Removed():
				log.Infow("provider removed the stream")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	var sink consumer.Sink = consumer.LogSink{}
	serverDone := make(chan error, 1)
	if cfg.Viewer.Listen != "" {
		order := frame.BGR
		if cfg.Viewer.RGB {
			order = frame.RGB
		}
		srv := preview.New(preview.Options{
			Addr:    cfg.Viewer.Listen,
			Order:   order,
			Quality: cfg.Viewer.Quality,
		})
		sink = srv
		go func() {
			err := srv.Start(ctx)
			if err != nil {
				log.Errorw("preview server", "err", err)
				cancel()
			}
			serverDone <- err
		}()
	} else {
		serverDone <- nil
	}

	if err := client.Poll(ctx, cfg.Viewer.Interval, sink); err != nil {
		log.Errorw("viewer stopped", "err", err)
		cancel()
		<-serverDone
		return 1
	}
	cancel()
	if err := <-serverDone; err != nil {
		return 1
	}
	log.Infow("viewer exited")
	return 0
}

func loadConfig(args []string) (*config.Config, error) {
	d := config.Default()
	fs := flag.NewFlagSet("viewer", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "YAML config file (default "+config.DefaultPath+" when present)")
		shapeName  = fs.String("shape-name", d.Stream.ShapeName, "shape segment name")
		frameName  = fs.String("frame-name", d.Stream.FrameName, "frame segment name")
		noCopy     = fs.Bool("no-copy", d.Viewer.NoCopy, "read frames in place instead of copying them")
		rgb        = fs.Bool("rgb", d.Viewer.RGB, "frames are RGB (provider runs with --convert-rgb)")
		listen     = fs.String("listen", d.Viewer.Listen, "preview listen address, empty to only log frames")
		interval   = fs.Duration("interval", d.Viewer.Interval, "poll interval")
		wait       = fs.Bool("wait", d.Viewer.Wait, "wait for the provider instead of failing")
		logLevel   = fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
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
		case "shape-name":
			cfg.Stream.ShapeName = *shapeName
		case "frame-name":
			cfg.Stream.FrameName = *frameName
		case "no-copy":
			cfg.Viewer.NoCopy = *noCopy
		case "rgb":
			cfg.Viewer.RGB = *rgb
		case "listen":
			cfg.Viewer.Listen = *listen
		case "interval":
			cfg.Viewer.Interval = *interval
		case "wait":
			cfg.Viewer.Wait = *wait
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	return cfg, cfg.Validate()
}
