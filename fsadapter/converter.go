// Package fsadapter wraps a *sfvfs.Container as a standard io/fs.FS, the
// way the teacher repo's converter package wraps its filesystem.FileSystem
// implementations for interop with code written against the standard
// library's file abstractions.
package fsadapter

import (
	"io"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/welvet/sf-vfs/sfvfs"
)

type containerFS struct {
	c *sfvfs.Container
}

// FS adapts c to io/fs.FS (and io/fs.ReadDirFS / io/fs.StatFS), so it can be
// passed to anything written against the standard library's file
// abstractions (fs.WalkDir, http.FileServer via http.FS, etc).
func FS(c *sfvfs.Container) fs.FS {
	return &containerFS{c: c}
}

func cleanPath(name string) string {
	if name == "." || name == "" {
		return ""
	}
	return name
}

func (cfs *containerFS) entryInfo(name string) (fileInfo, error) {
	e, err := cfs.c.Stat(cleanPath(name))
	if err != nil {
		return fileInfo{}, err
	}
	base := path.Base(name)
	if name == "." || name == "" {
		base = "."
	}
	return fileInfo{name: base, size: e.Size, isDir: e.IsDir}, nil
}

func (cfs *containerFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	info, err := cfs.entryInfo(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	if info.isDir {
		raw, err := cfs.c.List(cleanPath(name))
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		entries := make([]fs.DirEntry, len(raw))
		for i, e := range raw {
			entries[i] = dirEntry{fileInfo{name: e.Name, isDir: e.IsDir}}
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		return &openDir{info: info, entries: entries}, nil
	}

	data, err := cfs.c.ReadFile(cleanPath(name))
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &openFile{info: info, data: data}, nil
}

// ReadDir implements fs.ReadDirFS directly against the container, avoiding
// an Open/ReadDir round trip.
func (cfs *containerFS) ReadDir(name string) ([]fs.DirEntry, error) {
	f, err := cfs.Open(name)
	if err != nil {
		return nil, err
	}
	dir, ok := f.(fs.ReadDirFile)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	return dir.ReadDir(-1)
}

// Stat implements fs.StatFS.
func (cfs *containerFS) Stat(name string) (fs.FileInfo, error) {
	info, err := cfs.entryInfo(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return info, nil
}

type fileInfo struct {
	name  string
	size  int64
	isDir bool
}

func (i fileInfo) Name() string { return i.name }
func (i fileInfo) Size() int64  { return i.size }
func (i fileInfo) Mode() fs.FileMode {
	if i.isDir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

// ModTime is always the zero time: spec.md §1 excludes file attributes
// (times, permissions) from scope.
func (i fileInfo) ModTime() time.Time { return time.Time{} }
func (i fileInfo) IsDir() bool        { return i.isDir }
func (i fileInfo) Sys() any           { return nil }

type dirEntry struct {
	info fileInfo
}

func (d dirEntry) Name() string               { return d.info.name }
func (d dirEntry) IsDir() bool                { return d.info.isDir }
func (d dirEntry) Type() fs.FileMode          { return d.info.Mode().Type() }
func (d dirEntry) Info() (fs.FileInfo, error) { return d.info, nil }

type openFile struct {
	info fileInfo
	data []byte
	pos  int
}

func (f *openFile) Stat() (fs.FileInfo, error) { return f.info, nil }

func (f *openFile) Read(p []byte) (int, error) {
	if f.pos >= len(f.data) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += n
	return n, nil
}

func (f *openFile) Close() error { return nil }

type openDir struct {
	info    fileInfo
	entries []fs.DirEntry
	pos     int
}

func (d *openDir) Stat() (fs.FileInfo, error) { return d.info, nil }

func (d *openDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: fs.ErrInvalid}
}

func (d *openDir) Close() error { return nil }

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	remaining := len(d.entries) - d.pos
	if n <= 0 {
		n = remaining
	}
	if n > remaining {
		n = remaining
	}
	out := d.entries[d.pos : d.pos+n]
	d.pos += n
	if n == 0 && remaining == 0 {
		return nil, nil
	}
	return out, nil
}
