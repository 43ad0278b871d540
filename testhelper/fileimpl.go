// Package testhelper provides small backend.Storage stand-ins for unit
// tests that need to exercise BlockStore/Block logic without a real
// backing file.
package testhelper

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/welvet/sf-vfs/backend"
)

type Reader func(b []byte, offset int64) (int, error)
type Writer func(b []byte, offset int64) (int, error)

// FileImpl implements backend.Storage by delegating reads and writes to
// caller-supplied closures, letting a test stub out exactly the byte ranges
// it cares about.
type FileImpl struct {
	Reader Reader
	Writer Writer
}

func (f *FileImpl) Stat() (fs.FileInfo, error) {
	return nil, nil
}

func (f *FileImpl) Read(b []byte) (int, error) {
	return f.Reader(b, 0)
}

func (f *FileImpl) Close() error {
	return nil
}

// ReadAt reads at a particular offset.
func (f *FileImpl) ReadAt(b []byte, offset int64) (int, error) {
	return f.Reader(b, offset)
}

// WriteAt writes at a particular offset.
func (f *FileImpl) WriteAt(b []byte, offset int64) (int, error) {
	return f.Writer(b, offset)
}

//nolint:unused,revive // to implement the interface
func (f *FileImpl) Seek(offset int64, whence int) (int64, error) {
	return 0, fmt.Errorf("FileImpl does not implement Seek()")
}

func (f *FileImpl) Sys() (*os.File, error) {
	return nil, fmt.Errorf("FileImpl does not implement Sys()")
}

func (f *FileImpl) Writable() (backend.WritableFile, error) {
	return f, nil
}

var _ backend.Storage = (*FileImpl)(nil)
