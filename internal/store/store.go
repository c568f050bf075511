// Package store persists the tracked-file registry and the snapshot history.
//
// Registry entries and history rows live in SQLite; snapshot payloads are
// content addressed zstd blobs on disk, so identical content captured from
// any number of files is stored once. Every capture still appends its own
// history row. All access goes through one RWMutex: writes are exclusive,
// reads run concurrently with each other.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/fwatch/internal/digest"
	fwerrors "github.com/conneroisu/fwatch/internal/errors"
	"github.com/conneroisu/fwatch/internal/types"
)

// MatchAll is the List pattern selecting every registry entry.
const MatchAll = "*"

// Store is the snapshot store and tracked-file registry.
type Store struct {
	mu    sync.RWMutex
	db    *sql.DB
	blobs *blobStore
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads (or creates) the store with its database at dbPath and blobs
// under objectsDir.
func Open(dbPath, objectsDir string, opts ...Option) (*Store, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeWriteFailed, dbPath, "open snapshot database")
	}

	blobs, err := newBlobStore(objectsDir)
	if err != nil {
		db.Close()
		return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeWriteFailed, objectsDir, "open object store")
	}

	s := &Store{db: db, blobs: blobs, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database and codec resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs.close()
	return s.db.Close()
}

// Track registers f, replacing the policies of an existing entry. History
// is kept. The stored entry is returned.
func (s *Store) Track(f types.TrackedFile) (types.TrackedFile, error) {
	if err := validatePath(f.Path); err != nil {
		return types.TrackedFile{}, err
	}
	if f.TrackedAt.IsZero() {
		f.TrackedAt = s.now()
	}
	f.TrackedAt = f.TrackedAt.UTC()
	f.Active = true

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO tracked_files (path, alias_kind, alias_script, action_kind, action_script, tracked_at, active)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(path) DO UPDATE SET
			alias_kind = excluded.alias_kind,
			alias_script = excluded.alias_script,
			action_kind = excluded.action_kind,
			action_script = excluded.action_script,
			tracked_at = excluded.tracked_at,
			active = 1`,
		f.Path, int(f.Alias.Kind), f.Alias.Script, int(f.Action.Kind), f.Action.Script, f.TrackedAt.UnixNano())
	if err != nil {
		return types.TrackedFile{}, fwerrors.WrapIO(err, fwerrors.ErrCodeWriteFailed, f.Path, "register tracked file")
	}

	return f, nil
}

// Untrack deactivates path. Its history stays selectable.
func (s *Store) Untrack(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE tracked_files SET active = 0 WHERE path = ? AND active = 1`, p)
	if err != nil {
		return fwerrors.WrapIO(err, fwerrors.ErrCodeWriteFailed, p, "untrack file")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fwerrors.ErrPathNotTracked(p)
	}
	return nil
}

// Get returns the registry entry for path, active or not.
func (s *Store) Get(p string) (types.TrackedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.get(p)
}

func (s *Store) get(p string) (types.TrackedFile, error) {
	row := s.db.QueryRow(`
		SELECT path, alias_kind, alias_script, action_kind, action_script, tracked_at, active
		FROM tracked_files WHERE path = ?`, p)

	f, err := scanTracked(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.TrackedFile{}, fwerrors.ErrPathNotTracked(p)
	}
	if err != nil {
		return types.TrackedFile{}, fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, p, "load tracked file")
	}
	return f, nil
}

// Tracked returns the active registry entries ordered by path.
func (s *Store) Tracked() ([]types.TrackedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT path, alias_kind, alias_script, action_kind, action_script, tracked_at, active
		FROM tracked_files WHERE active = 1 ORDER BY path`)
	if err != nil {
		return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, "", "list tracked files")
	}
	defer rows.Close()

	var files []types.TrackedFile
	for rows.Next() {
		f, err := scanTracked(rows)
		if err != nil {
			return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, "", "list tracked files")
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, "", "list tracked files")
	}
	return files, nil
}

// Append records a snapshot of payload for path. The blob is durable before
// the history row is committed. Paths that were never tracked are refused.
func (s *Store) Append(p string, payload []byte) (types.Snapshot, error) {
	hash := digest.Sum(payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(p); err != nil {
		return types.Snapshot{}, err
	}

	if err := s.blobs.put(hash, payload); err != nil {
		return types.Snapshot{}, fwerrors.WrapIO(err, fwerrors.ErrCodeWriteFailed, p, "persist snapshot payload")
	}

	snap := types.Snapshot{
		Path:       p,
		Hash:       hash,
		Size:       int64(len(payload)),
		CapturedAt: s.now().UTC(),
		Payload:    payload,
	}

	err := withTx(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO snapshots (path, hash, size, captured_at) VALUES (?, ?, ?, ?)`,
			snap.Path, snap.Hash, snap.Size, snap.CapturedAt.UnixNano())
		if err != nil {
			return err
		}
		snap.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return types.Snapshot{}, fwerrors.WrapIO(err, fwerrors.ErrCodeWriteFailed, p, "record snapshot")
	}

	return snap, nil
}

// List returns a summary of every registry entry matching pattern, ordered
// by path. "*" and "" match everything; otherwise pattern matches a path
// literally, as a glob over the full path, or, when it has no slash, as a
// glob over the basename. The sequence is a fixed result set and may be
// ranged over any number of times.
func (s *Store) List(pattern string) (iter.Seq[types.Summary], error) {
	if err := validatePattern(pattern); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT t.path, t.active, COUNT(s.id), COALESCE(MAX(s.id), 0)
		FROM tracked_files t LEFT JOIN snapshots s ON s.path = t.path
		GROUP BY t.path ORDER BY t.path`)
	if err != nil {
		return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, "", "list snapshots")
	}

	var summaries []types.Summary
	var latest []int64
	for rows.Next() {
		var sum types.Summary
		var id int64
		if err := rows.Scan(&sum.Path, &sum.Active, &sum.Count, &id); err != nil {
			rows.Close()
			return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, "", "list snapshots")
		}
		if !matches(pattern, sum.Path) {
			continue
		}
		summaries = append(summaries, sum)
		latest = append(latest, id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, "", "list snapshots")
	}

	for i, id := range latest {
		if id == 0 {
			continue
		}
		snap, err := scanSnapshot(s.db.QueryRow(
			`SELECT id, path, hash, size, captured_at FROM snapshots WHERE id = ?`, id))
		if err != nil {
			return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, summaries[i].Path, "load latest snapshot")
		}
		summaries[i].Latest = &snap
	}

	return func(yield func(types.Summary) bool) {
		for _, sum := range summaries {
			if !yield(sum) {
				return
			}
		}
	}, nil
}

// History returns the snapshot metadata of path in capture order.
func (s *Store) History(p string) ([]types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.get(p); err != nil {
		return nil, err
	}

	return s.snapshots(p, `SELECT id, path, hash, size, captured_at FROM snapshots WHERE path = ? ORDER BY id`, p)
}

// Select returns the snapshot of path whose digest starts with prefix, with
// its payload loaded. An empty prefix matches every snapshot. Records that
// share a digest are the same content, so the prefix is only ambiguous when
// it matches more than one distinct digest; the latest record wins.
func (s *Store) Select(p, prefix string) (types.Snapshot, error) {
	prefix = digest.NormalizePrefix(prefix)
	if prefix != "" && !digest.ValidPrefix(prefix) {
		return types.Snapshot{}, fwerrors.NewValidationError(fwerrors.ErrCodeInvalidPrefix,
			fmt.Sprintf("hash prefix %q is not hexadecimal", prefix)).WithPath(p)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.get(p); err != nil {
		return types.Snapshot{}, err
	}

	// substr keeps the match literal where LIKE would treat _ and % specially.
	found, err := s.snapshots(p, `
		SELECT id, path, hash, size, captured_at FROM snapshots
		WHERE path = ? AND substr(hash, 1, ?) = ?
		ORDER BY id DESC`, p, len(prefix), prefix)
	if err != nil {
		return types.Snapshot{}, err
	}
	if len(found) == 0 {
		return types.Snapshot{}, fwerrors.ErrSnapshotNotFound(p, prefix)
	}

	seen := make(map[string]bool)
	var distinct []string
	for _, snap := range found {
		if !seen[snap.Hash] {
			seen[snap.Hash] = true
			distinct = append(distinct, snap.Hash)
		}
	}
	if len(distinct) > 1 {
		sort.Strings(distinct)
		return types.Snapshot{}, fwerrors.ErrAmbiguousPrefix(p, prefix, distinct)
	}

	snap := found[0]
	snap.Payload, err = s.blobs.get(snap.Hash)
	if err != nil {
		return types.Snapshot{}, fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, p, "load snapshot payload")
	}
	return snap, nil
}

func (s *Store) snapshots(p, query string, args ...interface{}) ([]types.Snapshot, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, p, "load history")
	}
	defer rows.Close()

	var out []types.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, p, "load history")
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, p, "load history")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTracked(row scanner) (types.TrackedFile, error) {
	var f types.TrackedFile
	var aliasKind, actionKind int
	var trackedAt int64
	if err := row.Scan(&f.Path, &aliasKind, &f.Alias.Script, &actionKind, &f.Action.Script, &trackedAt, &f.Active); err != nil {
		return types.TrackedFile{}, err
	}
	f.Alias.Kind = types.AliasKind(aliasKind)
	f.Action.Kind = types.ActionKind(actionKind)
	f.TrackedAt = time.Unix(0, trackedAt).UTC()
	return f, nil
}

func scanSnapshot(row scanner) (types.Snapshot, error) {
	var snap types.Snapshot
	var capturedAt int64
	if err := row.Scan(&snap.ID, &snap.Path, &snap.Hash, &snap.Size, &capturedAt); err != nil {
		return types.Snapshot{}, err
	}
	snap.CapturedAt = time.Unix(0, capturedAt).UTC()
	return snap, nil
}

func matches(pattern, p string) bool {
	if pattern == "" || pattern == MatchAll || pattern == p {
		return true
	}
	if ok, _ := path.Match(pattern, p); ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		ok, _ := path.Match(pattern, path.Base(p))
		return ok
	}
	return false
}

func validatePattern(pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fwerrors.NewValidationError(fwerrors.ErrCodeInvalidPattern,
			fmt.Sprintf("invalid pattern %q: %v", pattern, err))
	}
	return nil
}

func validatePath(p string) error {
	switch {
	case p == "":
		return fwerrors.ErrInvalidPath(p, "empty path")
	case strings.ContainsRune(p, 0):
		return fwerrors.ErrInvalidPath(p, "path contains NUL byte")
	case !filepath.IsAbs(p):
		return fwerrors.ErrInvalidPath(p, "path must be absolute")
	case filepath.Clean(p) != p:
		return fwerrors.ErrInvalidPath(p, "path must be clean")
	}
	return nil
}
