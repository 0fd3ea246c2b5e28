package statestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/devicelab-dev/quern/internal/logx"
)

// Store is a single JSON file guarded by OS advisory locks: shared for
// reads, exclusive for read-modify-write. It is not a database — callers
// must not add locking beyond what Read/Update already provide (spec §9).
type Store struct {
	path string
	log  *slog.Logger
}

// New returns a Store backed by the file at path. Nothing is created here;
// the first Read or Update creates the file (empty) if its directory exists,
// and Update also creates the parent directory.
func New(path string) *Store {
	return &Store{path: path, log: logx.For("statestore")}
}

// Read loads the current state under a shared lock. A missing or corrupt
// file degrades silently to a fresh default state — it is never an error.
func (s *Store) Read() State {
	f, err := os.OpenFile(s.path, os.O_RDONLY|os.O_CREATE, 0o644) //#nosec G304 -- fixed config path
	if err != nil {
		s.log.Warn("state file open failed, using default state", "path", s.path, "err", err)
		return empty()
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH); err != nil {
		s.log.Warn("state file shared lock failed, using default state", "path", s.path, "err", err)
		return empty()
	}
	defer func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }()

	data, err := os.ReadFile(s.path) //#nosec G304 -- fixed config path
	if err != nil || len(data) == 0 {
		return empty()
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn("state file corrupt, degrading to default state", "path", s.path, "err", err)
		return empty()
	}
	if st.Installs == nil {
		st.Installs = make(map[string]InstallRecord)
	}
	if st.Runners == nil {
		st.Runners = make(map[string]DriverRecord)
	}
	return st
}

// Update performs a read-modify-write under a single exclusive lock: the
// mutate callback sees the current state (or a fresh default), mutates it
// in place, and the result is truncated-then-written before the lock is
// released. This is the only path that may write the file.
func (s *Store) Update(mutate func(*State)) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644) //#nosec G304 -- fixed config path
	if err != nil {
		return fmt.Errorf("opening state file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("acquiring exclusive state lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }()

	data, err := os.ReadFile(s.path) //#nosec G304 -- fixed config path
	var st State
	if err != nil || len(data) == 0 {
		st = empty()
	} else if jerr := json.Unmarshal(data, &st); jerr != nil {
		s.log.Warn("state file corrupt on write path, starting fresh", "path", s.path, "err", jerr)
		st = empty()
	}
	if st.Installs == nil {
		st.Installs = make(map[string]InstallRecord)
	}
	if st.Runners == nil {
		st.Runners = make(map[string]DriverRecord)
	}

	mutate(&st)

	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating state file: %w", err)
	}
	if _, err := f.WriteAt(out, 0); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return f.Sync()
}
