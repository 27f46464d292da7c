package wasmstore_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/dylibso/wasmstore_sdk_go/pkg/wasmstore"
)

func newRecordingClient(t *testing.T, opts ...wasmstore.Option) (*wasmstore.Client, *recorder, func()) {
	t.Helper()
	rec := &recorder{}
	srv := newLocalHTTPServer(t, rec)
	client, err := wasmstore.New(srv.URL, opts...)
	if err != nil {
		srv.Close()
		t.Fatalf("New: %v", err)
	}
	return client, rec, srv.Close
}

func TestNewDefaults(t *testing.T) {
	client, err := wasmstore.New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := client.Session()
	if s.URL != "http://127.0.0.1:6384/api/v1" {
		t.Fatalf("unexpected versioned URL %q", s.URL)
	}
	if s.Version != "v1" || s.Auth != "" || s.Branch != "" {
		t.Fatalf("unexpected session defaults: %#v", s)
	}
}

func TestNewVersionedURL(t *testing.T) {
	cases := []struct {
		base    string
		version string
		want    string
	}{
		{"http://h:1", "", "http://h:1/api/v1"},
		{"http://h:1/", "", "http://h:1/api/v1"},
		{"https://h/prefix", "v2", "https://h/prefix/api/v2"},
	}
	for _, tc := range cases {
		client, err := wasmstore.New(tc.base, wasmstore.WithVersion(tc.version))
		if err != nil {
			t.Fatalf("New(%q): %v", tc.base, err)
		}
		if got := client.Session().URL; got != tc.want {
			t.Fatalf("New(%q, %q): URL %q, want %q", tc.base, tc.version, got, tc.want)
		}
	}
}

func TestNewRejectsRelativeURL(t *testing.T) {
	if _, err := wasmstore.New("not-a-url"); err == nil {
		t.Fatalf("expected error for relative URL")
	}
}

func TestSessionHeaders(t *testing.T) {
	cases := []struct {
		name   string
		auth   string
		branch string
	}{
		{"none", "", ""},
		{"auth only", "tok", ""},
		{"branch only", "", "dev"},
		{"both", "tok", "dev"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var opts []wasmstore.Option
			if tc.auth != "" {
				opts = append(opts, wasmstore.WithAuth(tc.auth))
			}
			if tc.branch != "" {
				opts = append(opts, wasmstore.WithBranch(tc.branch))
			}
			client, rec, stop := newRecordingClient(t, opts...)
			defer stop()

			if _, err := client.GC(context.Background()); err != nil {
				t.Fatalf("GC: %v", err)
			}
			h := rec.last(t).Header
			if _, ok := h["Wasmstore-Auth"]; ok != (tc.auth != "") {
				t.Fatalf("Wasmstore-Auth presence = %v, want %v", ok, tc.auth != "")
			}
			if _, ok := h["Wasmstore-Branch"]; ok != (tc.branch != "") {
				t.Fatalf("Wasmstore-Branch presence = %v, want %v", ok, tc.branch != "")
			}
			if h.Get("Wasmstore-Auth") != tc.auth || h.Get("Wasmstore-Branch") != tc.branch {
				t.Fatalf("unexpected headers: %v", h)
			}
		})
	}
}

func TestRoutes(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		call   func(c *wasmstore.Client) error
		method string
		path   string
	}{
		{"find", func(c *wasmstore.Client) error { _, _, err := c.Find(ctx, "a", "b.wasm"); return err }, http.MethodGet, "/api/v1/module/a/b.wasm"},
		{"find string", func(c *wasmstore.Client) error { _, _, err := c.Find(ctx, "a/b.wasm"); return err }, http.MethodGet, "/api/v1/module/a/b.wasm"},
		{"hash", func(c *wasmstore.Client) error { _, _, err := c.Hash(ctx, "x.wasm"); return err }, http.MethodGet, "/api/v1/hash/x.wasm"},
		{"add", func(c *wasmstore.Client) error { _, err := c.Add(ctx, strings.NewReader("d"), "x.wasm"); return err }, http.MethodPost, "/api/v1/module/x.wasm"},
		{"snapshot", func(c *wasmstore.Client) error { _, err := c.Snapshot(ctx); return err }, http.MethodGet, "/api/v1/snapshot"},
		{"restore", func(c *wasmstore.Client) error { _, err := c.Restore(ctx, "abc123"); return err }, http.MethodPost, "/api/v1/restore/abc123"},
		{"restore empty path", func(c *wasmstore.Client) error { _, err := c.Restore(ctx, "abc123", []string{}...); return err }, http.MethodPost, "/api/v1/restore/abc123"},
		{"restore path", func(c *wasmstore.Client) error { _, err := c.Restore(ctx, "abc123", "foo/bar"); return err }, http.MethodPost, "/api/v1/restore/abc123/foo/bar"},
		{"rollback", func(c *wasmstore.Client) error { _, err := c.Rollback(ctx); return err }, http.MethodPost, "/api/v1/rollback/"},
		{"rollback path", func(c *wasmstore.Client) error { _, err := c.Rollback(ctx, "x.wasm"); return err }, http.MethodPost, "/api/v1/rollback/x.wasm"},
		{"gc", func(c *wasmstore.Client) error { _, err := c.GC(ctx); return err }, http.MethodPost, "/api/v1/gc"},
		{"versions", func(c *wasmstore.Client) error { _, err := c.Versions(ctx, "x.wasm"); return err }, http.MethodGet, "/api/v1/versions/x.wasm"},
		{"list", func(c *wasmstore.Client) error { _, err := c.List(ctx); return err }, http.MethodGet, "/api/v1/modules/"},
		{"list prefix", func(c *wasmstore.Client) error { _, err := c.List(ctx, "math"); return err }, http.MethodGet, "/api/v1/modules/math"},
		{"branches", func(c *wasmstore.Client) error { _, err := c.Branches(ctx); return err }, http.MethodGet, "/api/v1/branches"},
		{"create branch", func(c *wasmstore.Client) error { _, err := c.CreateBranch(ctx, "dev"); return err }, http.MethodPost, "/api/v1/branch/dev"},
		{"delete branch", func(c *wasmstore.Client) error { _, err := c.DeleteBranch(ctx, "dev"); return err }, http.MethodDelete, "/api/v1/branch/dev"},
		{"set", func(c *wasmstore.Client) error { _, err := c.Set(ctx, "h1", "a", "b"); return err }, http.MethodPost, "/api/v1/hash/h1/a/b"},
		{"delete", func(c *wasmstore.Client) error { _, err := c.Delete(ctx, "x.wasm"); return err }, http.MethodDelete, "/api/v1/module/x.wasm"},
		{"contains", func(c *wasmstore.Client) error { _, err := c.Contains(ctx, "x.wasm"); return err }, http.MethodHead, "/api/v1/module/x.wasm"},
		{"commit", func(c *wasmstore.Client) error { _, err := c.CommitInfo(ctx, "c1"); return err }, http.MethodGet, "/api/v1/commit/c1"},
		{"merge", func(c *wasmstore.Client) error { _, err := c.Merge(ctx, "dev"); return err }, http.MethodPost, "/api/v1/merge/dev"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, rec, stop := newRecordingClient(t)
			defer stop()
			rec.respond(http.StatusOK, "{}")

			if err := tc.call(client); err != nil {
				t.Fatalf("call: %v", err)
			}
			got := rec.last(t)
			if got.Method != tc.method || got.Path != tc.path {
				t.Fatalf("got %s %s, want %s %s", got.Method, got.Path, tc.method, tc.path)
			}
		})
	}
}

func TestFindAndHashNotFound(t *testing.T) {
	client, rec, stop := newRecordingClient(t)
	defer stop()
	rec.respond(http.StatusNotFound, "missing")
	ctx := context.Background()

	module, found, err := client.Find(ctx, "x.wasm")
	if err != nil || found || module != nil {
		t.Fatalf("Find 404: module=%v found=%v err=%v", module, found, err)
	}
	hash, found, err := client.Hash(ctx, "x.wasm")
	if err != nil || found || hash != "" {
		t.Fatalf("Hash 404: hash=%q found=%v err=%v", hash, found, err)
	}
}

func TestFindAndHashServerError(t *testing.T) {
	client, rec, stop := newRecordingClient(t)
	defer stop()
	rec.respond(http.StatusInternalServerError, "boom")
	ctx := context.Background()

	_, _, err := client.Find(ctx, "x.wasm")
	var httpErr *wasmstore.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected HTTPError 500 from Find, got %v", err)
	}
	if string(httpErr.Body) != "boom" {
		t.Fatalf("expected body preserved, got %q", httpErr.Body)
	}
	if _, _, err := client.Hash(ctx, "x.wasm"); !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError from Hash, got %v", err)
	}
}

func TestFindReturnsBytesAndHash(t *testing.T) {
	rec := &recorder{
		body:   "\x00asm\x01\x00\x00\x00",
		header: http.Header{"Wasmstore-Hash": {"deadbeef"}},
	}
	srv := newLocalHTTPServer(t, rec)
	defer srv.Close()
	client, err := wasmstore.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	module, found, err := client.Find(context.Background(), "x.wasm")
	if err != nil || !found {
		t.Fatalf("Find: found=%v err=%v", found, err)
	}
	if string(module.Data) != "\x00asm\x01\x00\x00\x00" {
		t.Fatalf("unexpected data %q", module.Data)
	}
	if module.Hash != "deadbeef" {
		t.Fatalf("unexpected hash %q", module.Hash)
	}
}

func TestTextResultsAreTrimmed(t *testing.T) {
	client, rec, stop := newRecordingClient(t)
	defer stop()
	rec.respond(http.StatusOK, "abc123\n")
	ctx := context.Background()

	hash, err := client.Add(ctx, strings.NewReader("wasm"), "x.wasm")
	if err != nil || hash != "abc123" {
		t.Fatalf("Add: %q %v", hash, err)
	}
	if body := string(rec.last(t).Body); body != "wasm" {
		t.Fatalf("body not passed through: %q", body)
	}
	snap, err := client.Snapshot(ctx)
	if err != nil || snap != "abc123" {
		t.Fatalf("Snapshot: %q %v", snap, err)
	}
	hash, found, err := client.Hash(ctx, "x.wasm")
	if err != nil || !found || hash != "abc123" {
		t.Fatalf("Hash: %q %v %v", hash, found, err)
	}
}

func TestTextResultError(t *testing.T) {
	client, rec, stop := newRecordingClient(t)
	defer stop()
	rec.respond(http.StatusUnauthorized, "bad token")

	_, err := client.Snapshot(context.Background())
	var httpErr *wasmstore.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected HTTPError 401, got %v", err)
	}
}

func TestStatusPassThrough(t *testing.T) {
	ctx := context.Background()
	ops := map[string]func(c *wasmstore.Client) (wasmstore.Status, error){
		"restore":       func(c *wasmstore.Client) (wasmstore.Status, error) { return c.Restore(ctx, "h") },
		"rollback":      func(c *wasmstore.Client) (wasmstore.Status, error) { return c.Rollback(ctx) },
		"gc":            func(c *wasmstore.Client) (wasmstore.Status, error) { return c.GC(ctx) },
		"create branch": func(c *wasmstore.Client) (wasmstore.Status, error) { return c.CreateBranch(ctx, "b") },
		"delete branch": func(c *wasmstore.Client) (wasmstore.Status, error) { return c.DeleteBranch(ctx, "b") },
		"set":           func(c *wasmstore.Client) (wasmstore.Status, error) { return c.Set(ctx, "h", "p") },
		"delete":        func(c *wasmstore.Client) (wasmstore.Status, error) { return c.Delete(ctx, "p") },
		"contains":      func(c *wasmstore.Client) (wasmstore.Status, error) { return c.Contains(ctx, "p") },
		"merge":         func(c *wasmstore.Client) (wasmstore.Status, error) { return c.Merge(ctx, "b") },
	}
	statuses := []struct {
		code int
		kind wasmstore.Kind
	}{
		{http.StatusOK, wasmstore.KindNone},
		{http.StatusNoContent, wasmstore.KindNone},
		{http.StatusNotFound, wasmstore.KindNotFound},
		{http.StatusConflict, wasmstore.KindConflict},
		{http.StatusInternalServerError, wasmstore.KindServer},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			client, rec, stop := newRecordingClient(t)
			defer stop()
			for _, st := range statuses {
				rec.respond(st.code, "")
				status, err := op(client)
				if err != nil {
					t.Fatalf("status %d: unexpected error %v", st.code, err)
				}
				if status.Code != st.code {
					t.Fatalf("got code %d, want %d", status.Code, st.code)
				}
				if status.OK() != (st.code < 300) {
					t.Fatalf("OK() = %v for %d", status.OK(), st.code)
				}
				if status.Kind() != st.kind {
					t.Fatalf("Kind() = %v for %d, want %v", status.Kind(), st.code, st.kind)
				}
				if (status.Err() == nil) != status.OK() {
					t.Fatalf("Err() inconsistent with OK() for %d", st.code)
				}
			}
			if rec.count() != len(statuses) {
				t.Fatalf("expected one request per call, got %d", rec.count())
			}
		})
	}
}

func TestDocumentResults(t *testing.T) {
	client, rec, stop := newRecordingClient(t)
	defer stop()
	ctx := context.Background()

	rec.respond(http.StatusOK, `{"a.wasm":"h1","b/c.wasm":"h2"}`)
	doc, err := client.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var modules wasmstore.ModuleList
	if err := doc.Decode(&modules); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if modules["b/c.wasm"] != "h2" {
		t.Fatalf("unexpected modules: %v", modules)
	}

	rec.respond(http.StatusOK, `[["h1","c1"],["h2","c2"]]`)
	doc, err = client.Versions(ctx, "a.wasm")
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	var versions []wasmstore.Version
	if err := doc.Decode(&versions); err != nil {
		t.Fatalf("Decode versions: %v", err)
	}
	if len(versions) != 2 || versions[1].Commit != "c2" {
		t.Fatalf("unexpected versions: %#v", versions)
	}

	rec.respond(http.StatusOK, "not json")
	if _, err := client.Branches(ctx); err == nil {
		t.Fatalf("expected decode error for invalid JSON")
	}

	rec.respond(http.StatusNotFound, `{"error":"no commit"}`)
	_, err = client.CommitInfo(ctx, "c9")
	var httpErr *wasmstore.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected HTTPError 404, got %v", err)
	}
}

func TestSessionIsImmutable(t *testing.T) {
	client, rec, stop := newRecordingClient(t, wasmstore.WithBranch("dev"), wasmstore.WithAuth("tok"))
	defer stop()

	s := client.Session()
	s.Branch = "other"
	s.Auth = ""

	if _, err := client.GC(context.Background()); err != nil {
		t.Fatalf("GC: %v", err)
	}
	h := rec.last(t).Header
	if h.Get("Wasmstore-Branch") != "dev" || h.Get("Wasmstore-Auth") != "tok" {
		t.Fatalf("session changed through copy: %v", h)
	}
	if client.Session().Branch != "dev" {
		t.Fatalf("Session() returned shared state")
	}
}

func TestWithDoer(t *testing.T) {
	var seen *http.Request
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		seen = req
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       http.NoBody,
			Request:    req,
		}, nil
	})
	client, err := wasmstore.New("http://store.test", wasmstore.WithDoer(doer), wasmstore.WithBranch("b"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status, err := client.GC(context.Background())
	if err != nil || !status.OK() {
		t.Fatalf("GC: %v %v", status, err)
	}
	if seen == nil || seen.URL.String() != "http://store.test/api/v1/gc" {
		t.Fatalf("unexpected request %v", seen)
	}
	if seen.Header.Get("Wasmstore-Branch") != "b" {
		t.Fatalf("missing branch header")
	}
}

func TestTransportError(t *testing.T) {
	boom := errors.New("boom")
	doer := doerFunc(func(*http.Request) (*http.Response, error) { return nil, boom })
	client, err := wasmstore.New("http://store.test", wasmstore.WithDoer(doer))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.GC(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, _, err := client.Find(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected transport error from Find, got %v", err)
	}
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }
