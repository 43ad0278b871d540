package sfvfs

import "fmt"

// Sentinel errors, in the style of backend.ErrIncorrectOpenMode and
// filesystem.ErrNotSupported: callers that only care about the error class
// can compare with errors.Is against these instead of type-asserting.
var (
	ErrInvalidArgument = sentinel("invalid argument")
	ErrInvalidState    = sentinel("invalid state")
	ErrStaleHandle     = sentinel("stale block handle")
	ErrWrongOwner      = sentinel("wrong owner")
	ErrOutOfSpace      = sentinel("out of space")
	ErrIo              = sentinel("i/o error")
)

type sentinel string

func (s sentinel) Error() string { return string(s) }

// InvalidArgumentError reports a malformed address, position, name, or
// configuration value. Grounded on disk.UnknownFilesystemError's
// typed-struct-with-Error()-method shape.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string { return fmt.Sprintf("invalid argument: %s", e.Reason) }
func (e *InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

func invalidArgumentf(format string, args ...any) error {
	return &InvalidArgumentError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports a double free, a locked-inode conflict, deleting
// a non-empty directory, or adding a duplicate name.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string { return fmt.Sprintf("invalid state: %s", e.Reason) }
func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

func invalidStatef(format string, args ...any) error {
	return &InvalidStateError{Reason: fmt.Sprintf(format, args...)}
}

// StaleHandleError reports a Block handle used after a compaction bumped the
// mapping version.
type StaleHandleError struct {
	LogicalAddress  int32
	HandleVersion   uint64
	CurrentVersion  uint64
}

func (e *StaleHandleError) Error() string {
	return fmt.Sprintf("stale handle for logical address %d: handle version %d, current version %d",
		e.LogicalAddress, e.HandleVersion, e.CurrentVersion)
}
func (e *StaleHandleError) Is(target error) bool { return target == ErrStaleHandle }

// WrongOwnerError reports an attempt to open a container path that another
// live BlockStore in this process already holds.
type WrongOwnerError struct {
	Path string
}

func (e *WrongOwnerError) Error() string {
	return fmt.Sprintf("container %s is owned by another open handle", e.Path)
}
func (e *WrongOwnerError) Is(target error) bool { return target == ErrWrongOwner }

// OutOfSpaceError reports that all logical addresses in maxBlocks are in use.
type OutOfSpaceError struct {
	MaxBlocks int
}

func (e *OutOfSpaceError) Error() string {
	return fmt.Sprintf("out of space: all %d logical addresses are in use", e.MaxBlocks)
}
func (e *OutOfSpaceError) Is(target error) bool { return target == ErrOutOfSpace }

// IoError wraps an underlying I/O failure from the backing container file.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }
func (e *IoError) Is(target error) bool { return target == ErrIo }

func ioErrorf(op string, err error) error {
	return &IoError{Op: op, Err: err}
}
