// Package transport connects the engine to the execution backend over a
// websocket. It owns the only blocking I/O in the system: the engine pulls
// raw messages from here and never blocks anywhere else.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultDialTimeout = 15 * time.Second
	closeGracePeriod   = time.Second
)

// WS is a single websocket connection to the execution backend.
type WS struct {
	conn *websocket.Conn
	log  *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Dial opens a connection to the backend endpoint. The endpoint is injected
// by the caller; nothing here is hardcoded.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*WS, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (http %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	logger.Debug("backend connected", zap.String("url", url))
	return &WS{conn: conn, log: logger}, nil
}

// Send writes the initial execution request.
func (w *WS) Send(ctx context.Context, payload []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(deadline)
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

// Next blocks until the next raw message arrives. Cancellation is realized
// by Close: a closed connection makes the pending read return an error, which
// the engine maps to either a cancel or a transport failure.
func (w *WS) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, raw, err := w.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	return raw, nil
}

// Close tears the connection down, sending a best-effort close frame first.
// Safe to call concurrently and more than once.
func (w *WS) Close() error {
	w.closeOnce.Do(func() {
		deadline := time.Now().Add(closeGracePeriod)
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		w.closeErr = w.conn.Close()
		w.log.Debug("backend connection closed")
	})
	return w.closeErr
}
