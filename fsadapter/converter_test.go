package fsadapter

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/welvet/sf-vfs/sfvfs"
)

func newTestFS(t *testing.T) fs.FS {
	t.Helper()
	path := filepath.Join(t.TempDir(), "container.sfv")
	c, err := sfvfs.Create(path, sfvfs.WithBlockSize(1024))
	if err != nil {
		t.Fatalf("sfvfs.Create: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Mkdir("sub"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := c.WriteFile("top.txt", []byte("top-level")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := c.WriteFile("sub/nested.txt", []byte("nested-contents")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return FS(c)
}

func TestFSOpenAndRead(t *testing.T) {
	cfs := newTestFS(t)

	f, err := cfs.Open("top.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != int64(len("top-level")) {
		t.Fatalf("Size = %d, want %d", info.Size(), len("top-level"))
	}

	data := make([]byte, info.Size())
	n, err := f.Read(data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data[:n]) != "top-level" {
		t.Fatalf("Read = %q, want %q", data[:n], "top-level")
	}
}

func TestFSReadFileHelper(t *testing.T) {
	cfs := newTestFS(t)

	data, err := fs.ReadFile(cfs, "sub/nested.txt")
	if err != nil {
		t.Fatalf("fs.ReadFile: %v", err)
	}
	if string(data) != "nested-contents" {
		t.Fatalf("fs.ReadFile = %q, want %q", data, "nested-contents")
	}
}

func TestFSReadDir(t *testing.T) {
	cfs := newTestFS(t)

	entries, err := fs.ReadDir(cfs, ".")
	if err != nil {
		t.Fatalf("fs.ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ReadDir(.) returned %d entries, want 2", len(entries))
	}
}

func TestFSWalkDir(t *testing.T) {
	cfs := newTestFS(t)

	var seen []string
	err := fs.WalkDir(cfs, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		seen = append(seen, path)
		return nil
	})
	if err != nil {
		t.Fatalf("fs.WalkDir: %v", err)
	}

	want := map[string]bool{".": true, "top.txt": true, "sub": true, "sub/nested.txt": true}
	if len(seen) != len(want) {
		t.Fatalf("WalkDir visited %v, want keys of %v", seen, want)
	}
	for _, p := range seen {
		if !want[p] {
			t.Fatalf("WalkDir visited unexpected path %q", p)
		}
	}
}

func TestFSStatMissingFile(t *testing.T) {
	cfs := newTestFS(t)

	_, err := fs.Stat(cfs, "missing.txt")
	if err == nil {
		t.Fatalf("Stat(missing.txt) succeeded, want error")
	}
}
