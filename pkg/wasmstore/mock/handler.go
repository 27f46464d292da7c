package mock

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dylibso/wasmstore_sdk_go/internal/wasmstoreapi"
)

const watchWriteTimeout = 5 * time.Second

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAuthToken requires every request to carry token in Wasmstore-Auth.
func WithAuthToken(token string) HandlerOption {
	return func(h *Handler) { h.auth = token }
}

// WithVersion mounts the API under /api/{version} (default "v1").
func WithVersion(version string) HandlerOption {
	return func(h *Handler) {
		if version != "" {
			h.version = version
		}
	}
}

// WithLogger logs every handled request at debug level.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// Handler serves the wasmstore HTTP and websocket API from a Store.
type Handler struct {
	store    *Store
	auth     string
	version  string
	logger   *slog.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// NewHandler builds a Handler over store.
func NewHandler(store *Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:   store,
		version: wasmstoreapi.DefaultVersion,
		logger:  slog.New(slog.DiscardHandler),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.routes()
	return h
}

func (h *Handler) routes() {
	base := wasmstoreapi.APIBase(h.version)
	h.mux = http.NewServeMux()
	handle := func(method, route string, fn http.HandlerFunc) {
		h.mux.HandleFunc(method+" "+base+route, fn)
	}

	handle(http.MethodGet, "/module/{path...}", h.handleFind)
	handle(http.MethodHead, "/module/{path...}", h.handleContains)
	handle(http.MethodPost, "/module/{path...}", h.handleAdd)
	handle(http.MethodDelete, "/module/{path...}", h.handleDelete)
	handle(http.MethodGet, "/modules/{path...}", h.handleList)
	handle(http.MethodGet, "/hash/{path...}", h.handleHash)
	handle(http.MethodPost, "/hash/{hash}/{path...}", h.handleSet)
	handle(http.MethodGet, "/snapshot", h.handleSnapshot)
	handle(http.MethodPost, "/restore/{hash}", h.handleRestore)
	handle(http.MethodPost, "/restore/{hash}/{path...}", h.handleRestore)
	handle(http.MethodPost, "/rollback/{path...}", h.handleRollback)
	handle(http.MethodPost, "/gc", h.handleGC)
	handle(http.MethodGet, "/versions/{path...}", h.handleVersions)
	handle(http.MethodGet, "/branches", h.handleBranches)
	handle(http.MethodPost, "/branch/{name}", h.handleCreateBranch)
	handle(http.MethodDelete, "/branch/{name}", h.handleDeleteBranch)
	handle(http.MethodGet, "/commit/{hash}", h.handleCommit)
	handle(http.MethodPost, "/merge/{branch}", h.handleMerge)
	handle(http.MethodGet, "/watch", h.handleWatch)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("mock request", "method", r.Method, "path", r.URL.Path, "branch", branchOf(r))
	if h.auth != "" && r.Header.Get(wasmstoreapi.HeaderAuth) != h.auth {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	h.mux.ServeHTTP(w, r)
}

// branchOf resolves the request branch: header first, then the watch query
// parameter, then the default branch.
func branchOf(r *http.Request) string {
	if b := r.Header.Get(wasmstoreapi.HeaderBranch); b != "" {
		return b
	}
	if b := r.URL.Query().Get(wasmstoreapi.BranchQuery); b != "" {
		return b
	}
	return wasmstoreapi.DefaultBranch
}

func (h *Handler) handleFind(w http.ResponseWriter, r *http.Request) {
	data, hash, err := h.store.Find(branchOf(r), r.PathValue("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set(wasmstoreapi.HeaderHash, hash)
	w.Header().Set("Content-Type", "application/wasm")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (h *Handler) handleContains(w http.ResponseWriter, r *http.Request) {
	hash, err := h.store.Hash(branchOf(r), r.PathValue("path"))
	if err != nil {
		w.WriteHeader(statusFor(err))
		return
	}
	w.Header().Set(wasmstoreapi.HeaderHash, hash)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hash, err := h.store.Add(branchOf(r), r.PathValue("path"), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeText(w, hash)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, h.store.Remove(branchOf(r), r.PathValue("path")))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	modules, err := h.store.List(branchOf(r), r.PathValue("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, modules)
}

func (h *Handler) handleHash(w http.ResponseWriter, r *http.Request) {
	hash, err := h.store.Hash(branchOf(r), r.PathValue("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeText(w, hash)
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, h.store.Set(branchOf(r), r.PathValue("path"), r.PathValue("hash")))
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	hash, err := h.store.Snapshot(branchOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeText(w, hash)
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, h.store.Restore(branchOf(r), r.PathValue("hash"), r.PathValue("path")))
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, h.store.Rollback(branchOf(r), r.PathValue("path")))
}

func (h *Handler) handleGC(w http.ResponseWriter, r *http.Request) {
	removed := h.store.GC()
	h.logger.Debug("mock gc", "removed", removed)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.store.Versions(branchOf(r), r.PathValue("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	if versions == nil {
		versions = [][2]string{}
	}
	writeJSON(w, versions)
}

func (h *Handler) handleBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.store.Branches()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, branches)
}

func (h *Handler) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, h.store.CreateBranch(branchOf(r), r.PathValue("name")))
}

func (h *Handler) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, h.store.DeleteBranch(r.PathValue("name")))
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.Commit(r.PathValue("hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, info)
}

func (h *Handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, h.store.Merge(branchOf(r), r.PathValue("branch")))
}

func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	branch := branchOf(r)
	if !h.store.HasBranch(branch) {
		http.Error(w, "unknown branch", http.StatusNotFound)
		return
	}
	// Subscribe before the handshake completes so no event published after
	// the client's dial returns is missed.
	sub := h.store.Subscribe(branch)
	defer sub.Cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("mock watch upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var clientGone atomic.Bool
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				clientGone.Store(true)
				sub.Cancel()
				return
			}
		}
	}()

	for data := range sub.Events() {
		_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	if clientGone.Load() {
		return
	}
	code, reason := websocket.CloseGoingAway, "watch ended"
	if err := sub.Err(); err != nil {
		h.logger.Debug("mock watch overflow", "branch", branch, "error", err)
		code, reason = websocket.ClosePolicyViolation, "watch backlog overflow"
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteTimeout))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func writeStatus(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, text)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
