package wasmstore

import (
	"fmt"
	"os"
	"strings"

	"github.com/dylibso/wasmstore_sdk_go/internal/devseed"
	"github.com/dylibso/wasmstore_sdk_go/pkg/wasmstore/mock"
)

const (
	envMode     = "WASMSTORE_RUNTIME_MODE"
	envURL      = "WASMSTORE_URL"
	envAuth     = "WASMSTORE_AUTH"
	envBranch   = "WASMSTORE_BRANCH"
	envVersion  = "WASMSTORE_API_VERSION"
	envMockSeed = "WASMSTORE_MOCK_SEED"

	modeAuto = "auto"
	modeHTTP = "http"
	modeMock = "mock"
)

// NewFromEnv initialises a Client from WASMSTORE_* environment variables and
// returns the resolved mode ("http" or "mock"). In auto mode (the default) a
// set WASMSTORE_URL selects http; otherwise an in-memory server is started,
// optionally seeded from WASMSTORE_MOCK_SEED. opts are applied after the
// environment.
func NewFromEnv(opts ...Option) (client *Client, mode string, err error) {
	mode = strings.ToLower(strings.TrimSpace(os.Getenv(envMode)))
	baseURL := strings.TrimSpace(os.Getenv(envURL))

	switch mode {
	case "", modeAuto:
		if baseURL != "" {
			return newHTTPClient(baseURL, opts)
		}
		return newMockClient(opts)
	case modeHTTP:
		if baseURL == "" {
			return nil, "", fmt.Errorf("wasmstore: HTTP mode requires %s", envURL)
		}
		return newHTTPClient(baseURL, opts)
	case modeMock:
		return newMockClient(opts)
	default:
		return nil, "", fmt.Errorf("wasmstore: unsupported %s value %q", envMode, mode)
	}
}

func envOptions() []Option {
	var opts []Option
	if v := os.Getenv(envAuth); v != "" {
		opts = append(opts, WithAuth(v))
	}
	if v := strings.TrimSpace(os.Getenv(envBranch)); v != "" {
		opts = append(opts, WithBranch(v))
	}
	if v := strings.TrimSpace(os.Getenv(envVersion)); v != "" {
		opts = append(opts, WithVersion(v))
	}
	return opts
}

func newHTTPClient(baseURL string, extra []Option) (*Client, string, error) {
	client, err := New(baseURL, append(envOptions(), extra...)...)
	if err != nil {
		return nil, "", fmt.Errorf("wasmstore: init HTTP client: %w", err)
	}
	return client, modeHTTP, nil
}

func newMockClient(extra []Option) (*Client, string, error) {
	store := mock.NewStore()
	if path := strings.TrimSpace(os.Getenv(envMockSeed)); path != "" {
		entries, err := devseed.LoadModuleSeed(path)
		if err != nil {
			return nil, "", fmt.Errorf("wasmstore: load mock seed: %w", err)
		}
		if err := store.Seed(entries); err != nil {
			return nil, "", fmt.Errorf("wasmstore: apply mock seed: %w", err)
		}
	}

	envOpts := envOptions()
	var handlerOpts []mock.HandlerOption
	if v := os.Getenv(envAuth); v != "" {
		handlerOpts = append(handlerOpts, mock.WithAuthToken(v))
	}
	if v := strings.TrimSpace(os.Getenv(envVersion)); v != "" {
		handlerOpts = append(handlerOpts, mock.WithVersion(v))
	}
	srv := mock.NewServer(store, handlerOpts...)

	opts := append(envOpts,
		WithHTTPClient(srv.HTTPClient()),
		WithDialer(srv.Dialer()),
	)
	client, err := New(srv.URL(), append(opts, extra...)...)
	if err != nil {
		_ = srv.Close()
		return nil, "", fmt.Errorf("wasmstore: init mock client: %w", err)
	}
	client.closer = srv
	return client, modeMock, nil
}
