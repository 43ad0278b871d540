// Package file provides a backend.Storage implementation backed by a
// plain host-OS file, opened with one of SFVFS's container modes.
package file

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/welvet/sf-vfs/backend"
)

// Mode names a container open mode, matching spec.md §6's "rw / rwd / etc." options.
type Mode string

const (
	// ModeRead opens an existing container for reading only.
	ModeRead Mode = "r"
	// ModeReadWrite opens an existing (or about-to-be-created) container for reading and writing.
	ModeReadWrite Mode = "rw"
	// ModeReadWriteSync is ModeReadWrite with every write synced to the content (data+metadata) immediately.
	ModeReadWriteSync Mode = "rws"
	// ModeReadWriteDataSync is ModeReadWrite with every write synced immediately. It is opened with
	// O_SYNC, the same as ModeReadWriteSync, so metadata is synced along with the data.
	ModeReadWriteDataSync Mode = "rwd"
)

type rawBackend struct {
	storage  fs.File
	readOnly bool
}

// New creates a backend.Storage from a provided fs.File.
func New(f fs.File, readOnly bool) backend.Storage {
	return rawBackend{
		storage:  f,
		readOnly: readOnly,
	}
}

// OpenFromPath opens the container file at pathName under the given mode.
// The file must already exist; use CreateFromPath to make a new container.
func OpenFromPath(pathName string, mode Mode) (backend.Storage, error) {
	if pathName == "" {
		return nil, errors.New("must pass container path")
	}
	if _, err := os.Stat(pathName); os.IsNotExist(err) {
		return nil, fmt.Errorf("container %s does not exist", pathName)
	}

	openMode, readOnly, err := flagsForMode(mode)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(pathName, openMode, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open container %s with mode %s: %w", pathName, mode, err)
	}

	return rawBackend{
		storage:  f,
		readOnly: readOnly,
	}, nil
}

// CreateFromPath creates a brand-new, empty container file at pathName.
// Unlike a fixed-size disk image, an SFVFS container grows and shrinks one
// block group at a time, so no target size is requested up front.
func CreateFromPath(pathName string) (backend.Storage, error) {
	if pathName == "" {
		return nil, errors.New("must pass container path")
	}
	f, err := os.OpenFile(pathName, os.O_RDWR|os.O_EXCL|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not create container %s: %w", pathName, err)
	}

	return rawBackend{
		storage:  f,
		readOnly: false,
	}, nil
}

func flagsForMode(mode Mode) (int, bool, error) {
	switch mode {
	case ModeRead:
		return os.O_RDONLY, true, nil
	case ModeReadWrite:
		return os.O_RDWR, false, nil
	case ModeReadWriteSync:
		return os.O_RDWR | os.O_SYNC, false, nil
	case ModeReadWriteDataSync:
		return os.O_RDWR | os.O_SYNC, false, nil
	default:
		return 0, false, fmt.Errorf("unknown container mode %q", mode)
	}
}

// backend.Storage interface guard
var _ backend.Storage = (*rawBackend)(nil)

// Sys returns the underlying *os.File, if the backing fs.File is one.
func (f rawBackend) Sys() (*os.File, error) {
	if osFile, ok := f.storage.(*os.File); ok {
		return osFile, nil
	}
	return nil, backend.ErrNotSuitable
}

// Writable returns a WritableFile view of this backend, or
// backend.ErrIncorrectOpenMode if it was opened read-only.
func (f rawBackend) Writable() (backend.WritableFile, error) {
	if rwFile, ok := f.storage.(backend.WritableFile); ok {
		if !f.readOnly {
			return rwFile, nil
		}
		return nil, backend.ErrIncorrectOpenMode
	}
	return nil, backend.ErrNotSuitable
}

func (f rawBackend) Stat() (fs.FileInfo, error) {
	return f.storage.Stat()
}

func (f rawBackend) Read(b []byte) (int, error) {
	return f.storage.Read(b)
}

func (f rawBackend) Close() error {
	return f.storage.Close()
}

func (f rawBackend) ReadAt(p []byte, off int64) (n int, err error) {
	if readerAt, ok := f.storage.(io.ReaderAt); ok {
		return readerAt.ReadAt(p, off)
	}
	return -1, backend.ErrNotSuitable
}

func (f rawBackend) Seek(offset int64, whence int) (int64, error) {
	if seeker, ok := f.storage.(io.Seeker); ok {
		return seeker.Seek(offset, whence)
	}
	return -1, backend.ErrNotSuitable
}

// Truncate resizes the underlying container file, used by BlockStore to grow
// by one group on allocation and shrink by one group during compaction.
func Truncate(s backend.Storage, size int64) error {
	osFile, err := s.Sys()
	if err != nil {
		return fmt.Errorf("container does not support truncation: %w", err)
	}
	return osFile.Truncate(size)
}
