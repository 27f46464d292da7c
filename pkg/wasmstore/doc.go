// Package wasmstore provides a client for the wasmstore module store, a
// content-addressed store that keeps compiled modules under hierarchical
// paths with branch-scoped history. The HTTP surface mirrors the server's
// /api/{version} routes: every Client method issues exactly one request that
// carries the session's Wasmstore-Auth and Wasmstore-Branch headers, and
// Watch subscribes to the server's change feed over a websocket.
//
// Absence is not an error: Find and Hash report a missing module through
// their found result. Mutating operations return a Status whose OK method is
// the boolean success signal; transport failures are the only errors they
// return. The client never retries.
package wasmstore
