package mock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dylibso/wasmstore_sdk_go/internal/devseed"
	"github.com/dylibso/wasmstore_sdk_go/internal/wasmstoreapi"
)

var (
	// ErrNotFound reports a missing module, hash, commit or branch.
	ErrNotFound = errors.New("mock wasmstore: not found")
	// ErrConflict reports a branch that already exists.
	ErrConflict = errors.New("mock wasmstore: conflict")
	// ErrInvalid reports a request the store cannot apply.
	ErrInvalid = errors.New("mock wasmstore: invalid request")
)

// CommitInfo mirrors the JSON the server returns from /commit.
type CommitInfo struct {
	Hash    string   `json:"hash"`
	Parents []string `json:"parents"`
	Date    int64    `json:"date"`
	Author  string   `json:"author"`
	Message string   `json:"message"`
}

// Event mirrors a message on the /watch feed.
type Event struct {
	Event  string `json:"event"`
	Branch string `json:"branch"`
	Path   string `json:"path,omitempty"`
	Hash   string `json:"hash,omitempty"`
	Commit string `json:"commit,omitempty"`
}

type commit struct {
	info CommitInfo
	tree map[string]string
}

// Store is an in-memory, branch-aware module store. Trees map paths to blob
// hashes; every mutation creates a commit on the branch.
type Store struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	commits map[string]*commit
	heads   map[string]string
	seq     int
	now     func() time.Time
	author  string
	logger  *slog.Logger

	subscriberLimit int
	hub             *hub
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the clock used for commit dates (useful in tests).
func WithClock(fn func() time.Time) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithAuthor sets the author recorded on commits.
func WithAuthor(author string) StoreOption {
	return func(s *Store) {
		if author != "" {
			s.author = author
		}
	}
}

// WithSubscriberLimit caps the undelivered events a watch subscriber may
// hold (DefaultSubscriberLimit when unset). A subscriber over the cap is
// ended with ErrSlowSubscriber.
func WithSubscriberLimit(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.subscriberLimit = n
		}
	}
}

// WithStoreLogger sets the logger for store-internal failures.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore constructs a store with an empty default branch.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		blobs:   make(map[string][]byte),
		commits: make(map[string]*commit),
		heads:   map[string]string{wasmstoreapi.DefaultBranch: ""},
		now:     func() time.Time { return time.Now().UTC() },
		author:  "wasmstore",
		logger:  slog.New(slog.DiscardHandler),

		subscriberLimit: DefaultSubscriberLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.subscriberLimit)
	return s
}

// Seed loads modules from seed entries, creating branches as needed.
func (s *Store) Seed(entries []devseed.ModuleSeedEntry) error {
	for _, e := range entries {
		branch := e.Branch
		if branch == "" {
			branch = wasmstoreapi.DefaultBranch
		}
		s.mu.Lock()
		if _, ok := s.heads[branch]; !ok {
			s.heads[branch] = s.heads[wasmstoreapi.DefaultBranch]
		}
		s.mu.Unlock()
		if _, err := s.Add(branch, e.Path, e.Data); err != nil {
			return fmt.Errorf("mock wasmstore: seed %s: %w", e.Path, err)
		}
	}
	return nil
}

// Subscribe registers for events on branch ("" for all branches).
func (s *Store) Subscribe(branch string) *Subscription {
	return s.hub.subscribe(branch)
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int {
	return s.hub.count()
}

// Close ends every watch subscription.
func (s *Store) Close() {
	s.hub.close()
}

// Add stores data at path and returns its hash.
func (s *Store) Add(branch, path string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: module path is required", ErrInvalid)
	}
	hash := blobHash(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	tree, err := s.treeLocked(branch)
	if err != nil {
		return "", err
	}
	s.blobs[hash] = append([]byte(nil), data...)
	tree[path] = hash
	c := s.commitLocked(branch, tree, "Add "+path)
	s.publishLocked(Event{Event: "add", Branch: branch, Path: path, Hash: hash, Commit: c})
	return hash, nil
}

// Find returns the module at path, or the blob whose hash equals path.
func (s *Store) Find(branch, path string) (data []byte, hash string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tree, err := s.viewLocked(branch)
	if err != nil {
		return nil, "", err
	}
	if h, ok := tree[path]; ok {
		return append([]byte(nil), s.blobs[h]...), h, nil
	}
	if blob, ok := s.blobs[path]; ok {
		return append([]byte(nil), blob...), path, nil
	}
	return nil, "", ErrNotFound
}

// Hash returns the hash of the module at path.
func (s *Store) Hash(branch, path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tree, err := s.viewLocked(branch)
	if err != nil {
		return "", err
	}
	h, ok := tree[path]
	if !ok {
		return "", ErrNotFound
	}
	return h, nil
}

// Set points path at an existing blob.
func (s *Store) Set(branch, path, hash string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: module path is required", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[hash]; !ok {
		return fmt.Errorf("%w: hash %s", ErrNotFound, hash)
	}
	tree, err := s.treeLocked(branch)
	if err != nil {
		return err
	}
	tree[path] = hash
	c := s.commitLocked(branch, tree, "Set "+path)
	s.publishLocked(Event{Event: "add", Branch: branch, Path: path, Hash: hash, Commit: c})
	return nil
}

// Remove deletes the module at path, or every module below it.
func (s *Store) Remove(branch, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, err := s.treeLocked(branch)
	if err != nil {
		return err
	}
	removed := 0
	for p := range tree {
		if under(p, path) {
			delete(tree, p)
			removed++
		}
	}
	if removed == 0 {
		return ErrNotFound
	}
	c := s.commitLocked(branch, tree, "Remove "+path)
	s.publishLocked(Event{Event: "remove", Branch: branch, Path: path, Commit: c})
	return nil
}

// Contains reports whether a module exists at path.
func (s *Store) Contains(branch, path string) bool {
	_, err := s.Hash(branch, path)
	return err == nil
}

// List returns path → hash for modules under prefix ("" for all).
func (s *Store) List(branch, prefix string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tree, err := s.viewLocked(branch)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for p, h := range tree {
		if under(p, prefix) {
			out[p] = h
		}
	}
	return out, nil
}

// Versions returns [hash, commit] pairs for every change to path on the
// branch, oldest first.
func (s *Store) Versions(branch, path string) ([][2]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	head, ok := s.heads[branch]
	if !ok {
		return nil, fmt.Errorf("%w: branch %s", ErrNotFound, branch)
	}
	var out [][2]string
	for c := s.commits[head]; c != nil; c = s.parentLocked(c) {
		h, ok := c.tree[path]
		if !ok {
			continue
		}
		prev := ""
		if p := s.parentLocked(c); p != nil {
			prev = p.tree[path]
		}
		if h != prev {
			out = append(out, [2]string{h, c.info.Hash})
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Snapshot returns the branch's head commit, creating an empty commit for a
// branch without history.
func (s *Store) Snapshot(branch string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, ok := s.heads[branch]
	if !ok {
		return "", fmt.Errorf("%w: branch %s", ErrNotFound, branch)
	}
	if head != "" {
		return head, nil
	}
	return s.commitLocked(branch, map[string]string{}, "Snapshot"), nil
}

// Restore resets the branch, or only path within it, to the tree of commit.
func (s *Store) Restore(branch, commitHash, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.commits[commitHash]
	if !ok {
		return fmt.Errorf("%w: commit %s", ErrNotFound, commitHash)
	}
	tree, err := s.treeLocked(branch)
	if err != nil {
		return err
	}
	replaceSubtree(tree, target.tree, path)
	c := s.commitLocked(branch, tree, "Restore "+commitHash)
	s.publishLocked(Event{Event: "restore", Branch: branch, Path: path, Commit: c})
	return nil
}

// Rollback reverts the whole branch to its previous commit, or path to the
// value it had before its most recent change.
func (s *Store) Rollback(branch, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, ok := s.heads[branch]
	if !ok {
		return fmt.Errorf("%w: branch %s", ErrNotFound, branch)
	}
	current := s.commits[head]
	if current == nil {
		return fmt.Errorf("%w: branch %s has no history", ErrInvalid, branch)
	}

	var previous *commit
	if path == "" {
		previous = s.parentLocked(current)
	} else {
		for c := s.parentLocked(current); c != nil; c = s.parentLocked(c) {
			if !sameSubtree(c.tree, current.tree, path) {
				previous = c
				break
			}
		}
	}
	if previous == nil {
		return fmt.Errorf("%w: nothing to roll back", ErrInvalid)
	}

	tree := copyTree(current.tree)
	replaceSubtree(tree, previous.tree, path)
	c := s.commitLocked(branch, tree, "Rollback "+path)
	s.publishLocked(Event{Event: "rollback", Branch: branch, Path: path, Commit: c})
	return nil
}

// GC drops blobs and commits no longer reachable from any branch and returns
// the number of blobs removed.
func (s *Store) GC() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	liveCommits := make(map[string]bool)
	liveBlobs := make(map[string]bool)
	var mark func(hash string)
	mark = func(hash string) {
		c, ok := s.commits[hash]
		if !ok || liveCommits[hash] {
			return
		}
		liveCommits[hash] = true
		for _, h := range c.tree {
			liveBlobs[h] = true
		}
		for _, p := range c.info.Parents {
			mark(p)
		}
	}
	for _, head := range s.heads {
		mark(head)
	}

	for h := range s.commits {
		if !liveCommits[h] {
			delete(s.commits, h)
		}
	}
	removed := 0
	for h := range s.blobs {
		if !liveBlobs[h] {
			delete(s.blobs, h)
			removed++
		}
	}
	return removed
}

// Branches returns branch names in sorted order.
func (s *Store) Branches() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.heads))
	for name := range s.heads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateBranch forks name from the head of from.
func (s *Store) CreateBranch(from, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: branch name is required", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.heads[name]; exists {
		return fmt.Errorf("%w: branch %s exists", ErrConflict, name)
	}
	head, ok := s.heads[from]
	if !ok {
		return fmt.Errorf("%w: branch %s", ErrNotFound, from)
	}
	s.heads[name] = head
	s.publishLocked(Event{Event: "create_branch", Branch: name})
	return nil
}

// DeleteBranch removes name. The default branch cannot be deleted.
func (s *Store) DeleteBranch(name string) error {
	if name == wasmstoreapi.DefaultBranch {
		return fmt.Errorf("%w: cannot delete %s", ErrInvalid, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.heads[name]; !ok {
		return fmt.Errorf("%w: branch %s", ErrNotFound, name)
	}
	delete(s.heads, name)
	s.publishLocked(Event{Event: "delete_branch", Branch: name})
	return nil
}

// Merge applies the tree of from onto into, with from winning on conflicts.
func (s *Store) Merge(into, from string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fromHead, ok := s.heads[from]
	if !ok {
		return fmt.Errorf("%w: branch %s", ErrNotFound, from)
	}
	tree, err := s.treeLocked(into)
	if err != nil {
		return err
	}
	var parents []string
	if c := s.commits[fromHead]; c != nil {
		for p, h := range c.tree {
			tree[p] = h
		}
		parents = append(parents, fromHead)
	}
	c := s.commitLocked(into, tree, "Merge "+from, parents...)
	s.publishLocked(Event{Event: "merge", Branch: into, Commit: c})
	return nil
}

// Commit returns the metadata of a commit.
func (s *Store) Commit(hash string) (CommitInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.commits[hash]
	if !ok {
		return CommitInfo{}, fmt.Errorf("%w: commit %s", ErrNotFound, hash)
	}
	info := c.info
	info.Parents = append([]string{}, c.info.Parents...)
	return info, nil
}

// HasBranch reports whether branch exists.
func (s *Store) HasBranch(branch string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.heads[branch]
	return ok
}

// treeLocked returns a mutable copy of the branch's head tree.
func (s *Store) treeLocked(branch string) (map[string]string, error) {
	tree, err := s.viewLocked(branch)
	if err != nil {
		return nil, err
	}
	return copyTree(tree), nil
}

// viewLocked returns the branch's head tree without copying it.
func (s *Store) viewLocked(branch string) (map[string]string, error) {
	head, ok := s.heads[branch]
	if !ok {
		return nil, fmt.Errorf("%w: branch %s", ErrNotFound, branch)
	}
	if c := s.commits[head]; c != nil {
		return c.tree, nil
	}
	return map[string]string{}, nil
}

func (s *Store) parentLocked(c *commit) *commit {
	if len(c.info.Parents) == 0 {
		return nil
	}
	return s.commits[c.info.Parents[0]]
}

func (s *Store) commitLocked(branch string, tree map[string]string, message string, extraParents ...string) string {
	var parents []string
	if head := s.heads[branch]; head != "" {
		parents = append(parents, head)
	}
	parents = append(parents, extraParents...)

	s.seq++
	date := s.now().Unix()
	hash := commitHash(parents, tree, message, s.seq)
	s.commits[hash] = &commit{
		info: CommitInfo{
			Hash:    hash,
			Parents: parents,
			Date:    date,
			Author:  s.author,
			Message: message,
		},
		tree: tree,
	}
	s.heads[branch] = hash
	return hash
}

// marshalEvent encodes events for the watch feed.
var marshalEvent = json.Marshal

func (s *Store) publishLocked(e Event) {
	data, err := marshalEvent(e)
	if err != nil {
		s.logger.Debug("mock event not published", "event", e.Event, "path", e.Path, "error", err)
		return
	}
	s.hub.publish(e.Branch, data)
}

func blobHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func commitHash(parents []string, tree map[string]string, message string, seq int) string {
	h := sha256.New()
	for _, p := range parents {
		h.Write([]byte("parent " + p + "\n"))
	}
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		h.Write([]byte(p + " " + tree[p] + "\n"))
	}
	h.Write([]byte(message + "\n" + strconv.Itoa(seq)))
	return hex.EncodeToString(h.Sum(nil))
}

// under reports whether p is prefix itself or lies below it. An empty prefix
// matches everything.
func under(p, prefix string) bool {
	if prefix == "" {
		return true
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func copyTree(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// replaceSubtree makes the entries of dst under prefix equal to those of src.
func replaceSubtree(dst, src map[string]string, prefix string) {
	for p := range dst {
		if under(p, prefix) {
			delete(dst, p)
		}
	}
	for p, h := range src {
		if under(p, prefix) {
			dst[p] = h
		}
	}
}

func sameSubtree(a, b map[string]string, prefix string) bool {
	count := 0
	for p, h := range a {
		if !under(p, prefix) {
			continue
		}
		count++
		if b[p] != h {
			return false
		}
	}
	for p := range b {
		if under(p, prefix) {
			count--
		}
	}
	return count == 0
}
