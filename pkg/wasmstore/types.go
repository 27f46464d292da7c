package wasmstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dylibso/wasmstore_sdk_go/internal/httpx"
	"github.com/dylibso/wasmstore_sdk_go/internal/wasmstoreapi"
)

// Hash is the content address of a module version or a commit.
type Hash string

func (h Hash) String() string { return string(h) }

// Module is the content of a module returned by Find.
type Module struct {
	Data []byte
	// Hash is taken from the Wasmstore-Hash response header and is empty when
	// the server does not send it.
	Hash   Hash
	Header http.Header
}

// Session is the immutable request context of a Client.
type Session struct {
	// URL is the versioned base, e.g. http://127.0.0.1:6384/api/v1.
	URL     string
	Version string
	Auth    string
	Branch  string
}

// Status is the outcome of an operation whose only success signal is the
// response status.
type Status struct {
	Code int
	Body []byte
}

// OK reports whether the server answered with a 2xx status.
func (s Status) OK() bool {
	return httpx.Success(s.Code)
}

// Kind classifies the status.
func (s Status) Kind() Kind {
	switch {
	case s.OK():
		return KindNone
	case s.Code == http.StatusUnauthorized || s.Code == http.StatusForbidden:
		return KindUnauthorized
	case s.Code == http.StatusNotFound:
		return KindNotFound
	case s.Code == http.StatusConflict:
		return KindConflict
	case s.Code >= 400 && s.Code <= 499:
		return KindBadRequest
	case s.Code >= 500 && s.Code <= 599:
		return KindServer
	default:
		return KindUnknown
	}
}

// Err returns nil for a successful status and an *HTTPError otherwise.
func (s Status) Err() error {
	if s.OK() {
		return nil
	}
	return &HTTPError{StatusCode: s.Code, Body: s.Body}
}

// Kind is a coarse failure category derived from a status code.
type Kind int

const (
	KindNone Kind = iota
	KindUnauthorized
	KindNotFound
	KindConflict
	KindBadRequest
	KindServer
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad request"
	case KindServer:
		return "server error"
	default:
		return "unknown"
	}
}

// HTTPError is returned when an operation with a structured result receives a
// non-2xx response. The body is kept verbatim.
type HTTPError = httpx.HTTPError

// Document is an undecoded JSON response. The client does not interpret the
// shape; Decode into CommitInfo, []Version, ModuleList or BranchList when the
// server's shape is known.
type Document json.RawMessage

// Decode unmarshals the document into out.
func (d Document) Decode(out any) error {
	return wasmstoreapi.DecodeJSON(d, out)
}

// Value decodes the document into generic JSON values.
func (d Document) Value() (any, error) {
	var v any
	if err := d.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// MarshalJSON returns the document unchanged.
func (d Document) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

func (d Document) String() string { return string(d) }

// CommitInfo is the shape of a /commit response.
type CommitInfo struct {
	Hash    Hash   `json:"hash"`
	Parents []Hash `json:"parents"`
	Date    int64  `json:"date"`
	Author  string `json:"author"`
	Message string `json:"message"`
}

// Version is one entry of a /versions response, sent as a [hash, commit]
// pair.
type Version struct {
	Hash   Hash
	Commit Hash
}

func (v *Version) UnmarshalJSON(data []byte) error {
	var pair []Hash
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("wasmstore: decode version: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("wasmstore: decode version: expected [hash, commit], got %d elements", len(pair))
	}
	v.Hash, v.Commit = pair[0], pair[1]
	return nil
}

func (v Version) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]Hash{v.Hash, v.Commit})
}

// ModuleList maps module paths to their hashes, the shape of /modules.
type ModuleList map[string]Hash

// BranchList is the shape of /branches.
type BranchList []string

// Event is a change notification received on a watch connection.
type Event struct {
	// Raw is the message exactly as received.
	Raw json.RawMessage
	// Value is Raw decoded into generic JSON values.
	Value any
}

// Decode unmarshals the event into out.
func (e Event) Decode(out any) error {
	return json.Unmarshal(e.Raw, out)
}

var (
	// ErrUnsupportedMethod is returned for verbs the store API does not use.
	ErrUnsupportedMethod = errors.New("wasmstore: unsupported HTTP method")
	// ErrNilHandler is returned by Watch when no handler is supplied.
	ErrNilHandler = errors.New("wasmstore: watch handler is nil")
)
