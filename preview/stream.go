package preview

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) serveStream(c *gin.Context) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "close")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)

	mw := multipart.NewWriter(c.Writer)
	if err := mw.SetBoundary("frame"); err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	cl, unsubscribe := s.subscribe()
	defer unsubscribe()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case data, ok := <-cl.send:
			if !ok {
				return
			}
			if err := writeJPEGFrame(mw, data); err != nil {
				log.Debugw("stream write", "id", cl.id, "err", err)
				return
			}
			c.Writer.Flush()
		}
	}
}

func writeJPEGFrame(mw *multipart.Writer, data []byte) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", fmt.Sprintf("%d", len(data)))

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

func (s *Server) serveWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnw("websocket upgrade", "err", err)
		return
	}
	cl, unsubscribe := s.subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-closed:
			return
		case data, ok := <-cl.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readUntilClosed drains client messages so pongs and close frames are
// processed, and closes done when the connection fails.
func readUntilClosed(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
