// Package segment implements named POSIX shared memory segments.
//
// A name resolves to a file under Dir (/dev/shm on Linux), which is exactly
// where shm_open(3) places it, so segments interoperate with any other
// process using shm_open on the same host. Exactly one process creates and
// unlinks a given name; every other process only opens and closes it.
package segment

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	golog "github.com/ipfs/go-log/v2"
	"golang.org/x/sys/unix"
)

var log = golog.Logger("framecast/segment")

// Dir is the directory segment names resolve in.
var Dir = "/dev/shm"

var (
	ErrNotFound     = errors.New("shared memory segment not found")
	ErrNameConflict = errors.New("shared memory segment already exists")
	ErrInvalidName  = errors.New("invalid shared memory segment name")
)

// Segment is a mapping of a named shared memory segment into this process.
type Segment struct {
	name string

	mu   sync.Mutex
	data []byte
}

// Path returns the file backing the segment name. A leading slash, as used
// by shm_open, is accepted and ignored.
func Path(name string) (string, error) {
	n := strings.TrimPrefix(name, "/")
	if n == "" || n == "." || n == ".." || strings.ContainsAny(n, "/\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(Dir, n), nil
}

// Create makes a new segment of exactly size bytes and maps it read/write.
// It fails with ErrNameConflict when the name is already live and never
// adopts an existing segment.
func Create(name string, size int) (*Segment, error) {
	path, err := Path(name)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("create segment %q: size must be positive, got %d", name, size)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0o600)
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil, fmt.Errorf("create segment %q: %w", name, ErrNameConflict)
		}
		return nil, fmt.Errorf("create segment %q: %w", name, err)
	}
	// the mapping outlives the descriptor
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Unlink(path)
		return nil, fmt.Errorf("size segment %q: %w", name, err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Unlink(path)
		return nil, fmt.Errorf("map segment %q: %w", name, err)
	}

	log.Debugw("segment created", "name", name, "size", size)
	return &Segment{name: name, data: data}, nil
}

// Open maps an existing segment read-only. It fails with ErrNotFound when
// the name does not exist, or exists but has not been sized yet.
func Open(name string) (*Segment, error) {
	path, err := Path(name)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("open segment %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("open segment %q: %w", name, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("stat segment %q: %w", name, err)
	}
	size := int(st.Size)
	if size <= 0 {
		// created but not truncated yet
		return nil, fmt.Errorf("open segment %q: zero length: %w", name, ErrNotFound)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map segment %q: %w", name, err)
	}

	log.Debugw("segment opened", "name", name, "size", size)
	return &Segment{name: name, data: data}, nil
}

// Unlink removes the segment name. Mappings held by other processes stay
// valid until they close. A name that is already gone is not an error.
func Unlink(name string) error {
	path, err := Path(name)
	if err != nil {
		return err
	}
	if err := unix.Unlink(path); err != nil {
		if errors.Is(err, unix.ENOENT) {
			log.Debugw("segment already unlinked", "name", name)
			return nil
		}
		return fmt.Errorf("unlink segment %q: %w", name, err)
	}
	log.Debugw("segment unlinked", "name", name)
	return nil
}

// Exists reports whether the segment name is currently live.
func Exists(name string) bool {
	path, err := Path(name)
	if err != nil {
		return false
	}
	var st unix.Stat_t
	return unix.Stat(path, &st) == nil
}

func (s *Segment) Name() string {
	return s.name
}

// Size returns the mapped capacity in bytes, or 0 after Close.
func (s *Segment) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Bytes returns the mapped memory. The slice aliases the segment and must not
// be used after Close. Segments obtained from Open are mapped read-only and
// writing to them faults.
func (s *Segment) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Close unmaps the segment. It never unlinks the name. Closing twice is a
// no-op.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	if err != nil {
		return fmt.Errorf("unmap segment %q: %w", s.name, err)
	}
	return nil
}
