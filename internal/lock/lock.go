package lock

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrContention is returned when another live process holds the lock.
var ErrContention = errors.New("run lock held by another process")

// State is the content of a lock file.
type State struct {
	PID        int
	AcquiredAt time.Time
}

// RunLock is a file-based mutual exclusion between processes. The file
// holds the owner's pid and acquisition time; a lock older than StaleAfter
// is considered abandoned and may be reclaimed.
type RunLock struct {
	Path       string
	StaleAfter time.Duration

	now   func() time.Time
	pid   int
	state *State

	beforeReclaim func() // test hook between reading a stale lock and removing it
}

// New creates a RunLock for path.
func New(path string, staleAfter time.Duration) *RunLock {
	return &RunLock{Path: path, StaleAfter: staleAfter, now: time.Now, pid: os.Getpid()}
}

// Acquire takes the lock or returns an error wrapping ErrContention.
func (l *RunLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		err := l.create()
		if err == nil {
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock: %w", err)
		}
		seen, err := os.ReadFile(l.Path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read lock: %w", err)
		}
		// Unparsable content is treated as an abandoned lock.
		holder, perr := parse(seen)
		if perr == nil && !l.isStale(holder) {
			return fmt.Errorf("%w: pid %d since %s", ErrContention, holder.PID, holder.AcquiredAt.Format(time.RFC3339))
		}
		if l.beforeReclaim != nil {
			l.beforeReclaim()
		}
		if err := l.remove(seen); err != nil {
			return fmt.Errorf("reclaim stale lock: %w", err)
		}
	}
	return fmt.Errorf("%w: lost race while reclaiming", ErrContention)
}

// remove deletes the lock file only if it still holds expected. The file is
// first renamed aside so no other holder's lock can be deleted in between;
// a mismatch is linked back and reported as contention.
func (l *RunLock) remove(expected []byte) error {
	grave, err := os.CreateTemp(filepath.Dir(l.Path), "."+filepath.Base(l.Path)+".stale-*")
	if err != nil {
		return err
	}
	graveName := grave.Name()
	grave.Close()
	defer os.Remove(graveName)

	if err := os.Rename(l.Path, graveName); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	got, err := os.ReadFile(graveName)
	if err != nil {
		return err
	}
	if bytes.Equal(got, expected) {
		return nil
	}
	if err := os.Link(graveName, l.Path); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("restore lock: %w", err)
	}
	return fmt.Errorf("%w: lock replaced concurrently", ErrContention)
}

// create publishes a fully written lock file with a hard link, which fails
// with ErrExist if the path is taken. Readers never see a partial file.
func (l *RunLock) create() error {
	tmp, err := os.CreateTemp(filepath.Dir(l.Path), "."+filepath.Base(l.Path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	st := State{PID: l.pid, AcquiredAt: l.now().UTC()}
	_, werr := tmp.Write(st.content())
	if err := errors.Join(werr, tmp.Close()); err != nil {
		return err
	}
	if err := os.Link(tmp.Name(), l.Path); err != nil {
		return err
	}
	l.state = &st
	return nil
}

func (l *RunLock) isStale(s *State) bool {
	if l.StaleAfter <= 0 {
		return false
	}
	return l.now().Sub(s.AcquiredAt) > l.StaleAfter
}

// Release removes the lock if this RunLock still owns it. Releasing a lock
// that was never acquired is a no-op.
func (l *RunLock) Release() error {
	if l.state == nil {
		return nil
	}
	own := l.state.content()
	l.state = nil
	cur, err := os.ReadFile(l.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && !bytes.Equal(cur, own) {
		// Reclaimed by someone else after we went stale.
		return nil
	}
	if err := l.remove(own); err != nil && !errors.Is(err, ErrContention) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

// Held reports whether this RunLock currently owns the file.
func (l *RunLock) Held() bool {
	return l.state != nil
}

// Read parses a lock file.
func Read(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	st, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return st, nil
}

func parse(data []byte) (*State, error) {
	lines := strings.Fields(string(data))
	if len(lines) != 2 {
		return nil, errors.New("malformed lock file")
	}
	pid, err := strconv.Atoi(lines[0])
	if err != nil {
		return nil, fmt.Errorf("lock pid: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, lines[1])
	if err != nil {
		return nil, fmt.Errorf("lock timestamp: %w", err)
	}
	return &State{PID: pid, AcquiredAt: at}, nil
}

func (s State) content() []byte {
	return []byte(fmt.Sprintf("%d\n%s\n", s.PID, s.AcquiredAt.Format(time.RFC3339Nano)))
}
