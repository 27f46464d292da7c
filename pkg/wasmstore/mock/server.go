package mock

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// URL is the base address of every in-memory Server. The host is never
// resolved; connections go straight to the server's listener.
const URL = "http://wasmstore.mock"

// Server runs a Handler on an in-memory listener, so mock clients exercise the
// real HTTP and websocket paths without opening a socket.
type Server struct {
	Store *Store

	listener *pipeListener
	srv      *http.Server
	served   chan struct{}
}

// NewServer starts serving store. Close releases it.
func NewServer(store *Store, opts ...HandlerOption) *Server {
	if store == nil {
		store = NewStore()
	}
	l := newPipeListener()
	s := &Server{
		Store:    store,
		listener: l,
		srv: &http.Server{
			Handler:           NewHandler(store, opts...),
			ReadHeaderTimeout: 10 * time.Second,
		},
		served: make(chan struct{}),
	}
	go func() {
		defer close(s.served)
		if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Default().Debug("mock wasmstore server stopped", "error", err)
		}
	}()
	return s
}

// URL returns the server's base address.
func (s *Server) URL() string { return URL }

// HTTPClient returns a client whose connections reach this server.
func (s *Server) HTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:     s.listener.DialContext,
			MaxIdleConns:    16,
			IdleConnTimeout: 30 * time.Second,
		},
		Timeout: 30 * time.Second,
	}
}

// Dialer returns a websocket dialer whose connections reach this server.
func (s *Server) Dialer() *websocket.Dialer {
	return &websocket.Dialer{
		NetDialContext:   s.listener.DialContext,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Close ends watch subscriptions and stops the server.
func (s *Server) Close() error {
	s.Store.Close()
	err := s.srv.Close()
	<-s.served
	return err
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "wasmstore.mock" }

// pipeListener hands out the server ends of net.Pipe pairs created by
// DialContext.
type pipeListener struct {
	conns chan net.Conn
	done  chan struct{}
	once  sync.Once
}

func newPipeListener() *pipeListener {
	return &pipeListener{
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
}

func (l *pipeListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *pipeListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *pipeListener) Addr() net.Addr { return pipeAddr{} }

// DialContext ignores network and addr.
func (l *pipeListener) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	client, server := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-ctx.Done():
		_ = client.Close()
		_ = server.Close()
		return nil, ctx.Err()
	case <-l.done:
		_ = client.Close()
		_ = server.Close()
		return nil, net.ErrClosed
	}
}
