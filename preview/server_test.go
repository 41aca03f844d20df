package preview

import (
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strzcam.com/framecast/frame"
)

func redFrame(t *testing.T) frame.Frame {
	t.Helper()
	data := make([]byte, 4*4*3)
	for i := 0; i < len(data); i += 3 {
		data[i+2] = 255 // BGR red
	}
	f, err := frame.New(4, 4, 3, data)
	require.NoError(t, err)
	return f
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(New(Options{}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestRootPage(t *testing.T) {
	srv := httptest.NewServer(New(Options{}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(page), `src="/stream"`)
}

func TestStatusCountsFrames(t *testing.T) {
	p := New(Options{})
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	require.NoError(t, p.Show(redFrame(t)))
	require.NoError(t, p.Show(redFrame(t)))

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Shape   string `json:"shape"`
		Frames  int    `json:"frames"`
		Clients int    `json:"clients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "4x4x3", body.Shape)
	assert.Equal(t, 2, body.Frames)
	assert.Equal(t, 0, body.Clients)
}

func TestShowResetsRateWindowOnNewShape(t *testing.T) {
	p := New(Options{})
	require.NoError(t, p.Show(redFrame(t)))
	require.NoError(t, p.Show(redFrame(t)))
	assert.Equal(t, 2, p.shownAt.Size())

	gray, err := frame.New(2, 2, 1, make([]byte, 4))
	require.NoError(t, err)
	require.NoError(t, p.Show(gray))
	assert.Equal(t, 1, p.shownAt.Size())
	assert.Equal(t, uint64(3), p.shown)
}

func TestShowSkipsUnrenderableFrames(t *testing.T) {
	p := New(Options{})
	f := frame.Frame{Shape: frame.Shape{Height: 1, Width: 1, Channels: 2}, Data: []byte{1, 2}}
	assert.NoError(t, p.Show(f))
}

func TestMJPEGStream(t *testing.T) {
	p := New(Options{Order: frame.BGR})
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	require.NoError(t, p.Show(redFrame(t)))

	resp, err := http.Get(srv.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	assert.Equal(t, "frame", params["boundary"])

	part, err := multipart.NewReader(resp.Body, "frame").NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))

	img, err := jpeg.Decode(part)
	require.NoError(t, err)
	r, g, b, _ := img.At(1, 1).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(60))
	assert.Less(t, b>>8, uint32(60))
}

func TestWebSocketReceivesFrames(t *testing.T) {
	p := New(Options{})
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return p.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Show(redFrame(t)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	_, err = jpeg.Decode(bytes.NewReader(data))
	assert.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return p.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestOfferKeepsLatest(t *testing.T) {
	ch := make(chan []byte, 1)
	offer(ch, []byte("old"))
	offer(ch, []byte("new"))
	assert.Equal(t, []byte("new"), <-ch)
}

func TestStartStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	p := New(Options{Addr: addr})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}
