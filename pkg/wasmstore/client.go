package wasmstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dylibso/wasmstore_sdk_go/internal/httpx"
	"github.com/dylibso/wasmstore_sdk_go/internal/wasmstoreapi"
)

// DefaultURL is the address of a locally running wasmstore server.
const DefaultURL = wasmstoreapi.DefaultURL

// Doer sends a single HTTP request. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dialer opens websocket connections. *websocket.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Option configures a Client.
type Option func(*options)

type options struct {
	branch   string
	auth     string
	version  string
	httpOpts []httpx.Option
	dialer   Dialer
	logger   *slog.Logger
}

// WithBranch scopes every request to branch. Without it the server's default
// branch is used.
func WithBranch(branch string) Option {
	return func(o *options) { o.branch = branch }
}

// WithAuth sends token as Wasmstore-Auth on every request.
func WithAuth(token string) Option {
	return func(o *options) { o.auth = token }
}

// WithVersion selects the API version tag (default "v1").
func WithVersion(version string) Option {
	return func(o *options) {
		if version != "" {
			o.version = version
		}
	}
}

// WithHTTPClient sends requests through h.
func WithHTTPClient(h *http.Client) Option {
	return func(o *options) { o.httpOpts = append(o.httpOpts, httpx.WithHTTPClient(h)) }
}

// WithDoer sends requests through d instead of an *http.Client.
func WithDoer(d Doer) Option {
	return func(o *options) { o.httpOpts = append(o.httpOpts, httpx.WithDoer(d)) }
}

// WithDialer opens watch connections through d.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithLogger enables debug logging of requests.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
			o.httpOpts = append(o.httpOpts, httpx.WithLogger(l))
		}
	}
}

// WithMetrics records request counts and latencies in reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		if reg != nil {
			o.httpOpts = append(o.httpOpts, httpx.WithMetrics(reg))
		}
	}
}

// Client provides access to a wasmstore server. It is safe for concurrent
// use; its session is fixed at construction.
type Client struct {
	http    *httpx.Client
	session Session
	dialer  Dialer
	logger  *slog.Logger
	closer  io.Closer
}

// New constructs a Client for the server at baseURL (DefaultURL when empty).
// The versioned base baseURL + "/api/" + version is computed once here and
// reused by every request and by Watch.
func New(baseURL string, opts ...Option) (*Client, error) {
	o := options{
		version: wasmstoreapi.DefaultVersion,
		dialer:  websocket.DefaultDialer,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultURL
	}
	versioned := strings.TrimSuffix(baseURL, "/") + wasmstoreapi.APIBase(o.version)

	cl, err := httpx.NewClient(versioned, o.httpOpts...)
	if err != nil {
		return nil, fmt.Errorf("wasmstore: %w", err)
	}

	return &Client{
		http: cl,
		session: Session{
			URL:     versioned,
			Version: o.version,
			Auth:    o.auth,
			Branch:  o.branch,
		},
		dialer: o.dialer,
		logger: o.logger,
	}, nil
}

// Close releases resources the client owns. Only clients returned by
// NewFromEnv in mock mode own anything (their in-memory server); for every
// other client Close is a no-op.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Session returns a copy of the client's request context.
func (c *Client) Session() Session {
	return c.session
}

// Find fetches the module at path. found is false when the server reports
// 404. Any other non-2xx status is returned as *HTTPError rather than handed
// back as a successful result, so the caller never mistakes an error body
// for module bytes. A module hash may be passed in place of a path.
func (c *Client) Find(ctx context.Context, path ...string) (module *Module, found bool, err error) {
	route := wasmstoreapi.RouteModule + WireString(path)
	resp, err := c.send(ctx, http.MethodGet, route, nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		httpx.Discard(resp)
		return nil, false, nil
	}
	if !httpx.Success(resp.StatusCode) {
		return nil, false, httpx.NewHTTPError(resp)
	}
	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("wasmstore: read module: %w", err)
	}
	return &Module{
		Data:   data,
		Hash:   Hash(resp.Header.Get(wasmstoreapi.HeaderHash)),
		Header: resp.Header.Clone(),
	}, true, nil
}

// Hash returns the hash of the module at path. found is false when the server
// reports 404. Like Find, any other non-2xx status is returned as *HTTPError
// instead of being read as a hash.
func (c *Client) Hash(ctx context.Context, path ...string) (hash Hash, found bool, err error) {
	route := wasmstoreapi.RouteHash + WireString(path)
	resp, err := c.send(ctx, http.MethodGet, route, nil)
	if err != nil {
		return "", false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		httpx.Discard(resp)
		return "", false, nil
	}
	if !httpx.Success(resp.StatusCode) {
		return "", false, httpx.NewHTTPError(resp)
	}
	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("wasmstore: read hash: %w", err)
	}
	return Hash(wasmstoreapi.ExtractText(data)), true, nil
}

// Add uploads data to path and returns the hash the server assigned.
func (c *Client) Add(ctx context.Context, data io.Reader, path ...string) (Hash, error) {
	h, err := c.text(ctx, http.MethodPost, wasmstoreapi.RouteModule+WireString(path), data)
	return Hash(h), err
}

// Snapshot returns the hash of the branch's current commit.
func (c *Client) Snapshot(ctx context.Context) (Hash, error) {
	h, err := c.text(ctx, http.MethodGet, wasmstoreapi.RouteSnapshot, nil)
	return Hash(h), err
}

// Restore resets the branch to the commit hash. When path is given only that
// subtree is restored; otherwise the path segment is left out of the route.
func (c *Client) Restore(ctx context.Context, hash Hash, path ...string) (Status, error) {
	route := wasmstoreapi.RouteRestore + string(hash)
	if len(path) > 0 {
		route += "/" + Normalize(path...)
	}
	return c.status(ctx, http.MethodPost, route)
}

// Rollback reverts path (or the whole tree when path is absent) to its
// previous version.
func (c *Client) Rollback(ctx context.Context, path ...string) (Status, error) {
	return c.status(ctx, http.MethodPost, wasmstoreapi.RouteRollback+WireString(path))
}

// GC asks the server to collect unreferenced objects.
func (c *Client) GC(ctx context.Context) (Status, error) {
	return c.status(ctx, http.MethodPost, wasmstoreapi.RouteGC)
}

// Versions lists the historical versions of the module at path.
func (c *Client) Versions(ctx context.Context, path ...string) (Document, error) {
	return c.document(ctx, wasmstoreapi.RouteVersions+WireString(path))
}

// List enumerates modules under path, or the whole tree when path is absent.
func (c *Client) List(ctx context.Context, path ...string) (Document, error) {
	return c.document(ctx, wasmstoreapi.RouteModules+WireString(path))
}

// Branches lists the branches known to the server.
func (c *Client) Branches(ctx context.Context) (Document, error) {
	return c.document(ctx, wasmstoreapi.RouteBranches)
}

// CreateBranch creates a branch named name.
func (c *Client) CreateBranch(ctx context.Context, name string) (Status, error) {
	return c.status(ctx, http.MethodPost, wasmstoreapi.RouteBranch+name)
}

// DeleteBranch deletes the branch named name.
func (c *Client) DeleteBranch(ctx context.Context, name string) (Status, error) {
	return c.status(ctx, http.MethodDelete, wasmstoreapi.RouteBranch+name)
}

// Set points path at an existing module hash.
func (c *Client) Set(ctx context.Context, hash Hash, path ...string) (Status, error) {
	return c.status(ctx, http.MethodPost, wasmstoreapi.RouteHash+string(hash)+"/"+WireString(path))
}

// Delete removes the module at path.
func (c *Client) Delete(ctx context.Context, path ...string) (Status, error) {
	return c.status(ctx, http.MethodDelete, wasmstoreapi.RouteModule+WireString(path))
}

// Contains checks for a module at path without downloading it.
func (c *Client) Contains(ctx context.Context, path ...string) (Status, error) {
	return c.status(ctx, http.MethodHead, wasmstoreapi.RouteModule+WireString(path))
}

// CommitInfo describes the commit hash.
func (c *Client) CommitInfo(ctx context.Context, hash Hash) (Document, error) {
	return c.document(ctx, wasmstoreapi.RouteCommit+string(hash))
}

// Merge merges branch into the session's branch.
func (c *Client) Merge(ctx context.Context, branch string) (Status, error) {
	return c.status(ctx, http.MethodPost, wasmstoreapi.RouteMerge+branch)
}
