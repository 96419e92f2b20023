// Package store implements the State Store: a durable, shardable local
// cache of versioned objects, dynamic-field entries, package versions, and
// the transaction-digest-to-checkpoint index. All writes are atomic
// (write-to-temp, then rename); reads tolerate partial or corrupted data by
// skipping malformed lines rather than failing outright. Path and key
// layout follows the same "short constant, one-line doc comment describing
// the exact byte/line shape" convention as the teacher's kv table
// constants.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/domain"
)

// ObjectVersion is a monotonically increasing per-object version counter.
type ObjectVersion = uint64

// Ownership enumerates how an object is owned. Aliased to domain.Ownership
// so store metadata and the in-memory Object model never drift apart.
type Ownership = domain.Ownership

const (
	OwnershipAddress          = domain.OwnershipAddress
	OwnershipObject           = domain.OwnershipObject
	OwnershipShared           = domain.OwnershipShared
	OwnershipImmutable        = domain.OwnershipImmutable
	OwnershipConsensusAddress = domain.OwnershipConsensusAddress
)

// ObjectMeta is the side-car metadata persisted next to an object's bytes.
type ObjectMeta struct {
	TypeTag          string    `json:"type_tag"`
	Owner            Ownership `json:"owner"`
	SharedInitialVer uint64    `json:"shared_initial_version,omitempty"`
	SourceCheckpoint *uint64   `json:"source_checkpoint,omitempty"`
}

// PackageIndexEntry is one line of a package's JSONL version index.
type PackageIndexEntry struct {
	Version    uint64 `json:"version"`
	Checkpoint uint64 `json:"checkpoint"`
	PrevTx     string `json:"prev_tx,omitempty"`
	// StorageID is the exact storage address to fetch bytecode from for
	// this version; not in the distilled wire format but necessary to
	// round-trip a resolver lookup into an actual fetch.
	StorageID string `json:"storage_id,omitempty"`
}

// DynamicFieldEntry records one parent-owned child object.
type DynamicFieldEntry struct {
	Parent           address.Address `json:"parent"`
	Child            address.Address `json:"child"`
	Version          uint64          `json:"version"`
	TypeTag          string          `json:"type_tag"`
	SourceCheckpoint *uint64         `json:"source_checkpoint,omitempty"`
}

// StoreIO wraps an unrecoverable I/O failure. It always propagates to the
// caller unchanged, per the error propagation policy.
type StoreIO struct {
	Path  string
	Cause error
}

func (e *StoreIO) Error() string {
	return fmt.Sprintf("store: io error at %s: %v", e.Path, e.Cause)
}

func (e *StoreIO) Unwrap() error { return e.Cause }

func wrapIO(path string, cause error) error {
	return &StoreIO{Path: path, Cause: errors.WithStack(cause)}
}

// Store is the C1 State Store: a filesystem-backed cache rooted at a single
// directory, fronted by a bounded in-process read cache.
type Store struct {
	fs   afero.Fs
	root string

	objectCache *lru.Cache[string, cachedObject]

	mu sync.Mutex // guards append-only JSONL writes; filesystem rename provides cross-process atomicity, this guards in-process interleaving.
}

type cachedObject struct {
	bytes []byte
	meta  ObjectMeta
}

// New opens (without necessarily creating) a Store rooted at root on fs.
// cacheSize bounds the in-process object read cache; values below 1 are
// raised to 1, so the cache cannot be turned off.
func New(fs afero.Fs, root string, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	c, err := lru.New[string, cachedObject](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{fs: fs, root: root, objectCache: c}, nil
}

func (s *Store) path(parts ...string) string {
	return filepath.Join(append([]string{s.root}, parts...)...)
}

// shard returns the two-hex-byte shard prefix for an address, per the
// on-disk layout objects/<aa>/<bb>/<full-hex-id>/...
func shard(a address.Address) (string, string, string) {
	full := a.String()[2:] // strip "0x"
	return full[0:2], full[2:4], full
}

func objectCacheKey(id address.Address, v ObjectVersion) string {
	return fmt.Sprintf("%s/%d", id, v)
}

// GetObject returns the bytes and metadata for (id, version), or ok=false
// if absent. It never errors on a plain miss.
func (s *Store) GetObject(id address.Address, v ObjectVersion) ([]byte, ObjectMeta, bool, error) {
	key := objectCacheKey(id, v)
	if cached, ok := s.objectCache.Get(key); ok {
		return cached.bytes, cached.meta, true, nil
	}

	aa, bb, full := shard(id)
	dataPath := s.path("objects", aa, bb, full, fmt.Sprintf("%d.bcs", v))
	metaPath := s.path("objects", aa, bb, full, fmt.Sprintf("%d.meta.json", v))

	data, err := afero.ReadFile(s.fs, dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ObjectMeta{}, false, nil
		}
		return nil, ObjectMeta{}, false, wrapIO(dataPath, err)
	}
	metaRaw, err := afero.ReadFile(s.fs, metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ObjectMeta{}, false, nil
		}
		return nil, ObjectMeta{}, false, wrapIO(metaPath, err)
	}
	var meta ObjectMeta
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		// malformed metadata is skipped, not fatal: log-and-continue policy.
		return nil, ObjectMeta{}, false, nil
	}

	s.objectCache.Add(key, cachedObject{bytes: data, meta: meta})
	return data, meta, true, nil
}

// HasObject reports whether (id, version) exists without reading its bytes.
func (s *Store) HasObject(id address.Address, v ObjectVersion) bool {
	aa, bb, full := shard(id)
	dataPath := s.path("objects", aa, bb, full, fmt.Sprintf("%d.bcs", v))
	exists, err := afero.Exists(s.fs, dataPath)
	return err == nil && exists
}

// PutObject idempotently writes an object's bytes and metadata. It is a
// no-op if the (id, version) pair already exists, matching the object-store
// determinism invariant: the first successful write wins.
func (s *Store) PutObject(id address.Address, v ObjectVersion, data []byte, meta ObjectMeta) error {
	if s.HasObject(id, v) {
		return nil
	}
	aa, bb, full := shard(id)
	dir := s.path("objects", aa, bb, full)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return wrapIO(dir, err)
	}

	dataPath := filepath.Join(dir, fmt.Sprintf("%d.bcs", v))
	if err := atomicWrite(s.fs, dataPath, data); err != nil {
		return wrapIO(dataPath, err)
	}

	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	metaPath := filepath.Join(dir, fmt.Sprintf("%d.meta.json", v))
	if err := atomicWrite(s.fs, metaPath, metaRaw); err != nil {
		return wrapIO(metaPath, err)
	}

	s.objectCache.Add(objectCacheKey(id, v), cachedObject{bytes: data, meta: meta})
	return nil
}

// FindVersions lists the known versions of id by scanning its shard
// directory. Absent directories yield an empty, non-error result.
func (s *Store) FindVersions(id address.Address) ([]ObjectVersion, error) {
	aa, bb, full := shard(id)
	dir := s.path("objects", aa, bb, full)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wrapIO(dir, err)
	}
	var versions []ObjectVersion
	for _, e := range entries {
		var v uint64
		if _, err := fmt.Sscanf(e.Name(), "%d.bcs", &v); err == nil {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// GetCheckpointForTx returns the checkpoint a transaction digest was seen
// in, if recorded.
func (s *Store) GetCheckpointForTx(digest string) (uint64, bool, error) {
	aa, bb := digestShard(digest)
	path := s.path("tx-digests", aa, bb, digest+".json")
	raw, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, wrapIO(path, err)
	}
	var doc struct {
		Checkpoint uint64 `json:"checkpoint"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, false, nil
	}
	return doc.Checkpoint, true, nil
}

// RecordTxCheckpoint persists the checkpoint a digest was observed in.
func (s *Store) RecordTxCheckpoint(digest string, checkpoint uint64) error {
	aa, bb := digestShard(digest)
	dir := s.path("tx-digests", aa, bb)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return wrapIO(dir, err)
	}
	path := filepath.Join(dir, digest+".json")
	raw, err := json.Marshal(struct {
		Checkpoint uint64 `json:"checkpoint"`
	}{checkpoint})
	if err != nil {
		return err
	}
	if err := atomicWrite(s.fs, path, raw); err != nil {
		return wrapIO(path, err)
	}
	return nil
}

func digestShard(digest string) (string, string) {
	if len(digest) < 4 {
		return "__", "__"
	}
	return digest[0:2], digest[2:4]
}

// RecordPackageVersion appends one entry to a package's runtime-address
// JSONL index. Append-only; no compaction (see DESIGN.md Open Question 3).
func (s *Store) RecordPackageVersion(runtimeID address.Address, entry PackageIndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	aa, bb, full := shard(runtimeID)
	dir := s.path("packages", aa, bb)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return wrapIO(dir, err)
	}
	path := filepath.Join(dir, full+".jsonl")
	return appendJSONL(s.fs, path, entry)
}

// LatestPackageVersionAtOrBefore scans the per-package JSONL index and
// returns the entry with the greatest checkpoint <= target, tie-broken by
// the highest version.
func (s *Store) LatestPackageVersionAtOrBefore(runtimeID address.Address, checkpoint uint64) (PackageIndexEntry, bool, error) {
	aa, bb, full := shard(runtimeID)
	path := s.path("packages", aa, bb, full+".jsonl")
	var best PackageIndexEntry
	found := false

	err := scanJSONL(s.fs, path, func(line []byte) error {
		var e PackageIndexEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil // malformed line: skip, log-and-continue.
		}
		if e.Checkpoint > checkpoint {
			return nil
		}
		if !found || e.Checkpoint > best.Checkpoint || (e.Checkpoint == best.Checkpoint && e.Version > best.Version) {
			best = e
			found = true
		}
		return nil
	})
	if err != nil {
		return PackageIndexEntry{}, false, err
	}
	return best, found, nil
}

// RecordDynamicField appends an entry to the parent's dynamic-field JSONL.
func (s *Store) RecordDynamicField(entry DynamicFieldEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	aa, bb, full := shard(entry.Parent)
	dir := s.path("dynamic-fields", aa, bb)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return wrapIO(dir, err)
	}
	path := filepath.Join(dir, full+".jsonl")
	return appendJSONL(s.fs, path, entry)
}

// ChildrenOf returns all recorded dynamic-field children of parent,
// de-duplicated by child address keeping the last-seen (highest-offset)
// entry, since the index is append-only with no compaction.
func (s *Store) ChildrenOf(parent address.Address) ([]DynamicFieldEntry, error) {
	aa, bb, full := shard(parent)
	path := s.path("dynamic-fields", aa, bb, full+".jsonl")

	byChild := map[address.Address]DynamicFieldEntry{}
	var order []address.Address
	err := scanJSONL(s.fs, path, func(line []byte) error {
		var e DynamicFieldEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil
		}
		if _, seen := byChild[e.Child]; !seen {
			order = append(order, e.Child)
		}
		byChild[e.Child] = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]DynamicFieldEntry, 0, len(order))
	for _, c := range order {
		out = append(out, byChild[c])
	}
	return out, nil
}

// atomicWrite writes data to a temp file in the same directory as path,
// then renames it into place, so readers never observe a partial write.
func atomicWrite(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", filepath.Base(path), os.Getpid()))
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fs.Rename(tmp, path)
}

// appendJSONL appends one JSON-encoded line to path, creating it if absent.
func appendJSONL(fs afero.Fs, path string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return wrapIO(path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return wrapIO(path, err)
	}
	return nil
}

// scanJSONL calls fn with each line of path, skipping a missing file
// entirely (not an error: an empty index is a valid starting state).
func scanJSONL(fs afero.Fs, path string, fn func(line []byte) error) error {
	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return wrapIO(path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return wrapIO(path, err)
	}
	return nil
}
