package mock_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dylibso/wasmstore_sdk_go/pkg/wasmstore/mock"
)

func do(t *testing.T, srv *mock.Server, method, path string, body string, header http.Header) (*http.Response, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL()+path, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := srv.HTTPClient().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(data)
}

func TestHandlerModuleLifecycle(t *testing.T) {
	srv := mock.NewServer(nil)
	defer srv.Close()

	resp, hash := do(t, srv, http.MethodPost, "/api/v1/module/math/add.wasm", "wasm-bytes", nil)
	if resp.StatusCode != http.StatusOK || hash == "" {
		t.Fatalf("add: %d %q", resp.StatusCode, hash)
	}

	resp, body := do(t, srv, http.MethodGet, "/api/v1/module/math/add.wasm", "", nil)
	if resp.StatusCode != http.StatusOK || body != "wasm-bytes" {
		t.Fatalf("find: %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Wasmstore-Hash"); got != hash {
		t.Fatalf("expected Wasmstore-Hash %q, got %q", hash, got)
	}

	resp, body = do(t, srv, http.MethodGet, "/api/v1/hash/math/add.wasm", "", nil)
	if resp.StatusCode != http.StatusOK || body != hash {
		t.Fatalf("hash: %d %q", resp.StatusCode, body)
	}

	resp, _ = do(t, srv, http.MethodHead, "/api/v1/module/math/add.wasm", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("contains: %d", resp.StatusCode)
	}

	resp, body = do(t, srv, http.MethodGet, "/api/v1/modules/", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", resp.StatusCode)
	}
	var list map[string]string
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list["math/add.wasm"] != hash {
		t.Fatalf("unexpected list: %v", list)
	}

	resp, _ = do(t, srv, http.MethodPost, "/api/v1/hash/"+hash+"/copy.wasm", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set: %d", resp.StatusCode)
	}

	resp, _ = do(t, srv, http.MethodDelete, "/api/v1/module/math/add.wasm", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp, _ = do(t, srv, http.MethodGet, "/api/v1/module/math/add.wasm", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
	resp, _ = do(t, srv, http.MethodHead, "/api/v1/module/math/add.wasm", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected HEAD 404 after delete, got %d", resp.StatusCode)
	}
}

func TestHandlerAuth(t *testing.T) {
	srv := mock.NewServer(nil, mock.WithAuthToken("secret"))
	defer srv.Close()

	resp, _ := do(t, srv, http.MethodGet, "/api/v1/branches", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp, body := do(t, srv, http.MethodGet, "/api/v1/branches", "", http.Header{"Wasmstore-Auth": {"secret"}})
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(body) != `["main"]` {
		t.Fatalf("branches: %d %q", resp.StatusCode, body)
	}
}

func TestHandlerBranchHeader(t *testing.T) {
	srv := mock.NewServer(nil)
	defer srv.Close()

	resp, _ := do(t, srv, http.MethodPost, "/api/v1/branch/dev", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create branch: %d", resp.StatusCode)
	}
	resp, _ = do(t, srv, http.MethodPost, "/api/v1/branch/dev", "", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate branch, got %d", resp.StatusCode)
	}

	dev := http.Header{"Wasmstore-Branch": {"dev"}}
	do(t, srv, http.MethodPost, "/api/v1/module/x.wasm", "x", dev)

	resp, _ = do(t, srv, http.MethodHead, "/api/v1/module/x.wasm", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("module leaked into main: %d", resp.StatusCode)
	}
	resp, _ = do(t, srv, http.MethodHead, "/api/v1/module/x.wasm", "", dev)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("module missing on dev: %d", resp.StatusCode)
	}

	resp, _ = do(t, srv, http.MethodDelete, "/api/v1/branch/main", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 deleting main, got %d", resp.StatusCode)
	}
}

func TestHandlerHistory(t *testing.T) {
	srv := mock.NewServer(nil)
	defer srv.Close()

	_, h1 := do(t, srv, http.MethodPost, "/api/v1/module/m.wasm", "one", nil)
	_, snap := do(t, srv, http.MethodGet, "/api/v1/snapshot", "", nil)
	_, h2 := do(t, srv, http.MethodPost, "/api/v1/module/m.wasm", "two", nil)

	_, body := do(t, srv, http.MethodGet, "/api/v1/versions/m.wasm", "", nil)
	var versions [][2]string
	if err := json.Unmarshal([]byte(body), &versions); err != nil {
		t.Fatalf("decode versions: %v", err)
	}
	if len(versions) != 2 || versions[0][0] != h1 || versions[1][0] != h2 {
		t.Fatalf("unexpected versions: %v", versions)
	}

	resp, _ := do(t, srv, http.MethodPost, "/api/v1/restore/"+snap, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restore: %d", resp.StatusCode)
	}
	_, got := do(t, srv, http.MethodGet, "/api/v1/hash/m.wasm", "", nil)
	if got != h1 {
		t.Fatalf("expected %s after restore, got %s", h1, got)
	}

	resp, body = do(t, srv, http.MethodGet, "/api/v1/commit/"+snap, "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"hash":"`+snap+`"`) {
		t.Fatalf("commit: %d %s", resp.StatusCode, body)
	}

	resp, _ = do(t, srv, http.MethodPost, "/api/v1/rollback/", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rollback: %d", resp.StatusCode)
	}
	resp, _ = do(t, srv, http.MethodPost, "/api/v1/gc", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("gc: %d", resp.StatusCode)
	}
}

func TestHandlerWatch(t *testing.T) {
	srv := mock.NewServer(nil)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := srv.Dialer().DialContext(ctx, "ws://wasmstore.mock/api/v1/watch?branch=main", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for srv.Store.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hash, err := srv.Store.Add("main", "w.wasm", []byte("w"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev mock.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Event != "add" || ev.Path != "w.wasm" || ev.Hash != hash || ev.Branch != "main" {
		t.Fatalf("unexpected event: %#v", ev)
	}

	srv.Store.Close()
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

func TestHandlerWatchOverflowClose(t *testing.T) {
	store := mock.NewStore(mock.WithSubscriberLimit(4))
	srv := mock.NewServer(store)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := srv.Dialer().DialContext(ctx, "ws://wasmstore.mock/api/v1/watch", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for store.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	for i := 0; i < 50; i++ {
		if _, err := store.Add("main", "a.wasm", []byte{byte(i)}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy-violation close, got %v", err)
	}
}

func TestHandlerWatchUnknownBranch(t *testing.T) {
	srv := mock.NewServer(nil)
	defer srv.Close()

	_, resp, err := srv.Dialer().Dial("ws://wasmstore.mock/api/v1/watch?branch=nope", nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %#v", resp)
	}
}
