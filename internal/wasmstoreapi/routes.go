// Package wasmstoreapi holds the wire-level vocabulary shared by the wasmstore
// client and the in-memory mock server: header names, route prefixes, and
// response body helpers.
package wasmstoreapi

const (
	// HeaderAuth carries the session's auth token.
	HeaderAuth = "Wasmstore-Auth"
	// HeaderBranch selects the branch a request operates on.
	HeaderBranch = "Wasmstore-Branch"
	// HeaderHash is set on module responses to the module's content hash.
	HeaderHash = "Wasmstore-Hash"

	// DefaultURL is where a local wasmstore server listens.
	DefaultURL = "http://127.0.0.1:6384"
	// DefaultVersion is the API version tag appended to the base URL.
	DefaultVersion = "v1"
	// DefaultBranch is the branch the server uses when none is requested.
	DefaultBranch = "main"

	// BranchQuery is the query parameter equivalent of HeaderBranch on the
	// watch endpoint.
	BranchQuery = "branch"
)

// Route prefixes relative to the versioned base ({url}/api/{version}).
const (
	RouteModule   = "/module/"
	RouteModules  = "/modules/"
	RouteHash     = "/hash/"
	RouteSnapshot = "/snapshot"
	RouteRestore  = "/restore/"
	RouteRollback = "/rollback/"
	RouteGC       = "/gc"
	RouteVersions = "/versions/"
	RouteBranches = "/branches"
	RouteBranch   = "/branch/"
	RouteCommit   = "/commit/"
	RouteMerge    = "/merge/"
	RouteWatch    = "/watch"
)

// APIBase returns the path prefix for the given version, e.g. "/api/v1".
func APIBase(version string) string {
	if version == "" {
		version = DefaultVersion
	}
	return "/api/" + version
}
