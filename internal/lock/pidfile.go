// Package lock keeps two tfupload processes from building the same project
// at once, using a PID file per project.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrHeld matches any HeldError.
var ErrHeld = errors.New("lock held by another process")

// HeldError reports the live process holding a project lock.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("another tfupload process (pid %d) is already building this project", e.PID)
}

func (e *HeldError) Is(target error) bool { return target == ErrHeld }

// PIDFile is a lock file holding the PID of its owner.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// ForProject returns the lock for projectID under dir/locks.
func ForProject(dir, projectID string) *PIDFile {
	sum := sha256.Sum256([]byte(projectID))
	return NewPIDFile(filepath.Join(dir, "locks", hex.EncodeToString(sum[:8])+".pid"))
}

// Acquire creates the lock file for the current process. A lock left by a
// dead process is taken over; a live holder yields a *HeldError.
func (p *PIDFile) Acquire() (release func() error, err error) {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(p.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(p.Path)
				return nil, fmt.Errorf("write lock file: %w", werr)
			}
			return p.release, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		if pid, running := p.IsRunning(); running {
			return nil, &HeldError{Path: p.Path, PID: pid}
		}
		// Stale: the owner exited without cleaning up.
		if err := p.Remove(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("acquire %s: lock keeps reappearing", p.Path)
}

// release removes the lock if this process still owns it.
func (p *PIDFile) release() error {
	pid, err := p.Read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	return p.Remove()
}

// WritePID writes the given PID to the file.
func (p *PIDFile) WritePID(pid int) error {
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}
