// Package secret holds credential material in memory that is kept out of
// swap and core dumps and is zeroed when released.
//
// A Buffer is allocated with an anonymous mmap outside the Go heap so the
// garbage collector never copies it. Provider keys fetched for a session
// live in a Buffer only for the duration of spawn setup.
package secret

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// Redacted is the placeholder printed or logged in place of secret bytes.
const Redacted = "[REDACTED]"

// Buffer holds sensitive data in locked, non-dumpable memory. A Buffer must
// not be copied after creation. Close releases it; reads after Close panic.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	length int
	locked bool
	closed bool
}

// New allocates a buffer of the given size. The region is mlock'd when the
// process limit allows it; Locked reports whether that succeeded.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}

	// RLIMIT_MEMLOCK is tiny in many containers; an unlocked buffer is still
	// off-heap and zeroed on close.
	locked := unix.Mlock(data) == nil

	if err := excludeFromCoreDump(data); err != nil {
		if locked {
			_ = unix.Munlock(data)
		}
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("secret: madvise failed: %w", err)
	}

	return &Buffer{data: data, length: size, locked: locked}, nil
}

// NewFromString copies s into a new Buffer.
func NewFromString(s string) (*Buffer, error) {
	if s == "" {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}
	b, err := New(len(s))
	if err != nil {
		return nil, err
	}
	copy(b.data, s)
	return b, nil
}

// NewFromBytes copies source into a new Buffer and zeroes source.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}
	b, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(b.data, source)
	for i := range source {
		source[i] = 0
	}
	return b, nil
}

// Bytes returns the secret data. The slice points into the mapped region and
// must not outlive the Buffer.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.data[:b.length]
}

// Reveal returns the secret as a heap string. Use only at boundaries that
// require a string, such as a child process environment entry.
func (b *Buffer) Reveal() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		panic("secret: read from closed buffer")
	}
	return string(b.data[:b.length])
}

// String never returns the secret.
func (b *Buffer) String() string {
	return Redacted
}

// GoString never returns the secret.
func (b *Buffer) GoString() string {
	return Redacted
}

// LogValue keeps the secret out of structured logs.
func (b *Buffer) LogValue() slog.Value {
	return slog.StringValue(Redacted)
}

// Len returns the size of the secret data, or zero once closed.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// Locked reports whether the region is pinned in RAM.
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Close zeroes, unlocks and unmaps the buffer. Close is idempotent and safe
// on a nil Buffer.
func (b *Buffer) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for i := range b.data {
		b.data[i] = 0
	}

	var firstErr error
	if b.locked {
		if err := unix.Munlock(b.data); err != nil {
			firstErr = fmt.Errorf("secret: munlock failed: %w", err)
		}
	}
	if err := unix.Munmap(b.data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("secret: munmap failed: %w", err)
	}
	b.data = nil
	b.length = 0
	return firstErr
}
