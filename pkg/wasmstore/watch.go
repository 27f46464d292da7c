package wasmstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dylibso/wasmstore_sdk_go/internal/httpx"
	"github.com/dylibso/wasmstore_sdk_go/internal/wasmstoreapi"
)

const closeGracePeriod = time.Second

// WatchURL returns the websocket address of the change feed: the versioned
// base with http rewritten to ws (https to wss) plus /watch. When the session
// has a branch it is also passed as a query parameter.
func (c *Client) WatchURL() string {
	u, err := url.Parse(c.session.URL + wasmstoreapi.RouteWatch)
	if err != nil {
		return c.session.URL + wasmstoreapi.RouteWatch
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if c.session.Branch != "" {
		q := u.Query()
		q.Set(wasmstoreapi.BranchQuery, c.session.Branch)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Watch opens the change feed and calls handler once per event, in arrival
// order, from a single goroutine. ctx bounds the handshake only; the caller
// owns the returned connection and must Close it. The client does not
// reconnect. A rejected handshake is reported as *HTTPError.
func (c *Client) Watch(ctx context.Context, handler func(Event)) (*WatchConn, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	target := c.WatchURL()
	ws, resp, err := c.dialer.DialContext(ctx, target, sessionHeader(c.session.Auth, c.session.Branch))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wasmstore: watch handshake: status %d: %w", resp.StatusCode, httpx.NewHTTPError(resp))
		}
		return nil, fmt.Errorf("wasmstore: watch: %w", err)
	}
	c.logger.Debug("watch connected", "url", target)

	w := &WatchConn{
		conn: ws,
		done: make(chan struct{}),
	}
	go w.readLoop(handler)
	return w, nil
}

// WatchConn is a live change-feed connection.
type WatchConn struct {
	conn *websocket.Conn
	done chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func (w *WatchConn) readLoop(handler func(Event)) {
	defer close(w.done)
	for {
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			if !w.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.setErr(err)
			}
			_ = w.conn.Close()
			return
		}

		var value any
		if err := json.Unmarshal(msg, &value); err != nil {
			w.setErr(fmt.Errorf("wasmstore: decode watch event: %w", err))
			_ = w.conn.Close()
			return
		}
		if w.closed.Load() {
			return
		}
		handler(Event{Raw: json.RawMessage(msg), Value: value})
	}
}

func (w *WatchConn) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// Done is closed once the connection has stopped delivering events.
func (w *WatchConn) Done() <-chan struct{} {
	return w.done
}

// Err reports why the connection ended. It is nil while the connection is
// live and after a normal close.
func (w *WatchConn) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Wait blocks until the connection ends and returns Err.
func (w *WatchConn) Wait() error {
	<-w.done
	return w.Err()
}

// Close sends a close frame and tears the connection down. No handler call
// starts after Close; one already running may still be in progress, so use
// Done or Wait to synchronise. Close is safe to call from the handler.
func (w *WatchConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			select {
			case <-w.done:
			default:
				err = werr
			}
		}
		_ = w.conn.Close()
	})
	return err
}
