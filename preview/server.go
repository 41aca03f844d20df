// Package preview serves the frames a viewer reads over HTTP: a multipart
// MJPEG stream for browsers and a websocket carrying one JPEG per message.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	golog "github.com/ipfs/go-log/v2"

	"strzcam.com/framecast/frame"
)

var log = golog.Logger("framecast/preview")

const (
	DefaultAddr    = ":8080"
	DefaultQuality = 80
)

type Options struct {
	Addr string
	// Order is the channel order of the frames passed to Show.
	Order   frame.ChannelOrder
	Quality int
}

type client struct {
	id   string
	send chan []byte
}

type Server struct {
	opts       Options
	engine     *gin.Engine
	httpServer *http.Server

	mu      sync.RWMutex
	clients map[string]*client
	latest  []byte
	shape   frame.Shape
	shown   uint64
	shownAt *circularBuffer[time.Time]
	started time.Time
	closing bool
}

func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		opts:    opts,
		engine:  gin.New(),
		clients: make(map[string]*client),
		shownAt: newCircularBuffer[time.Time](30),
		started: time.Now(),
	}
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/api/status", s.handleStatus)
	s.engine.GET("/stream", s.serveStream)
	s.engine.GET("/ws", s.serveWebSocket)
}

// Handler exposes the routes without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Show encodes f as JPEG and hands it to every subscriber. Subscribers that
// have not taken the previous frame yet lose it. Frames that cannot be
// rendered are logged and dropped.
func (s *Server) Show(f frame.Frame) error {
	img, err := frame.DecodeRawFrame(f, s.opts.Order)
	if err != nil {
		log.Debugw("frame not shown", "dims", f.Shape.String(), "err", err)
		return nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.opts.Quality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	data := buf.Bytes()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = data
	if f.Shape != s.shape {
		s.shownAt.Clear()
	}
	s.shape = f.Shape
	s.shown++
	s.shownAt.Add(time.Now())
	for _, c := range s.clients {
		offer(c.send, data)
	}
	return nil
}

// offer sends data without blocking, replacing a frame still queued.
func offer(ch chan []byte, data []byte) {
	for {
		select {
		case ch <- data:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// subscribe registers a client primed with the latest frame. The returned
// func unregisters it and closes its channel.
func (s *Server) subscribe() (*client, func()) {
	c := &client{id: uuid.NewString(), send: make(chan []byte, 1)}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		close(c.send)
		return c, func() {}
	}
	if s.latest != nil {
		c.send <- s.latest
	}
	s.clients[c.id] = c
	n := len(s.clients)
	s.mu.Unlock()
	log.Infow("client connected", "id", c.id, "clients", n)

	return c, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.clients[c.id]; ok {
			delete(s.clients, c.id)
			close(c.send)
			log.Infow("client disconnected", "id", c.id, "clients", len(s.clients))
		}
	}
}

// dropClients closes every subscriber so long-lived handlers return.
func (s *Server) dropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for id, c := range s.clients {
		delete(s.clients, id)
		close(c.send)
	}
}

// Clients is the number of connected subscribers.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleRoot(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(`<!DOCTYPE html>
<html>
<head>
    <title>framecast</title>
</head>
<body>
    <h1>framecast preview</h1>
    <img src="/stream" alt="live stream">
    <p><a href="/api/status">status</a></p>
</body>
</html>`))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{
		"status":  "running",
		"shape":   s.shape.String(),
		"frames":  s.shown,
		"fps":     frameRate(s.shownAt),
		"clients": len(s.clients),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

// frameRate is the mean rate over the recorded frame times.
func frameRate(times *circularBuffer[time.Time]) float64 {
	if times.Size() < 2 {
		return 0
	}
	all := times.GetAll()
	span := all[len(all)-1].Sub(all[0])
	if span <= 0 {
		return 0
	}
	return float64(len(all)-1) / span.Seconds()
}

// Start serves until ctx is cancelled, then shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("preview listening", "addr", s.opts.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("preview server: %w", err)
	}
	return s.shutdown()
}

func (s *Server) shutdown() error {
	s.dropClients()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown preview server: %w", err)
	}
	log.Infow("preview stopped")
	return nil
}
