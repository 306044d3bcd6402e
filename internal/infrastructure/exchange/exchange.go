package exchange

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// WSHelper provides common WebSocket functionality
type WSHelper struct {
	URL string
}

// DialWS creates a WebSocket connection with timeout
func (w *WSHelper) DialWS(ctx context.Context) (*websocket.Conn, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(cctx, w.URL, nil)
	return conn, err
}

// ReadWithPing reads WebSocket messages with periodic pings.
// 读取成功会刷新 read deadline，60 秒无数据视为断线
func (w *WSHelper) ReadWithPing(ctx context.Context, conn *websocket.Conn, onMessage func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			onMessage(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

// MinDuration returns the minimum of two durations
func MinDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// BytesTrimSpace trims whitespace from byte slice
func BytesTrimSpace(b []byte) []byte {
	i := 0
	j := len(b) - 1
	for i <= j && (b[i] == ' ' || b[i] == '\n' || b[i] == '\r' || b[i] == '\t') {
		i++
	}
	for j >= i && (b[j] == ' ' || b[j] == '\n' || b[j] == '\r' || b[j] == '\t') {
		j--
	}
	if i > j {
		return []byte{}
	}
	return b[i : j+1]
}
