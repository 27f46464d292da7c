package wasmstore_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
)

type testServer struct {
	URL      string
	listener net.Listener
	server   *http.Server
}

func (s *testServer) Close() {
	_ = s.server.Shutdown(context.Background())
	_ = s.listener.Close()
}

func newLocalHTTPServer(t *testing.T, handler http.Handler) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("network disabled for tests: %v", err)
	}
	srv := &http.Server{Handler: handler}
	ts := &testServer{
		URL:      "http://" + ln.Addr().String(),
		listener: ln,
		server:   srv,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.Logf("test server serve error: %v", err)
		}
	}()
	return ts
}

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// recorder answers every request with a fixed status and body and keeps a
// copy of what it received.
type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest

	status int
	body   string
	header http.Header
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec.mu.Lock()
	rec.requests = append(rec.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.EscapedPath(),
		Header: r.Header.Clone(),
		Body:   body,
	})
	status, respBody, header := rec.status, rec.body, rec.header
	rec.mu.Unlock()

	for k, v := range header {
		w.Header()[k] = v
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, respBody)
	}
}

func (rec *recorder) last(t *testing.T) recordedRequest {
	t.Helper()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.requests) == 0 {
		t.Fatalf("no request recorded")
	}
	return rec.requests[len(rec.requests)-1]
}

func (rec *recorder) count() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.requests)
}

func (rec *recorder) respond(status int, body string) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.status, rec.body = status, body
}
