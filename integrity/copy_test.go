package integrity

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/welvet/sf-vfs/fsadapter"
	"github.com/welvet/sf-vfs/sfvfs"
)

func newTestContainer(t *testing.T) *sfvfs.Container {
	t.Helper()
	path := filepath.Join(t.TempDir(), "container.sfv")
	c, err := sfvfs.Create(path, sfvfs.WithBlockSize(1024))
	if err != nil {
		t.Fatalf("sfvfs.Create: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCopyFileSystemRoundTrip(t *testing.T) {
	src := fstest.MapFS{
		"a.txt":         {Data: []byte("alpha")},
		"dir/b.txt":     {Data: []byte("beta")},
		"dir/sub/c.txt": {Data: []byte("gamma")},
	}

	dst := newTestContainer(t)
	if err := CopyFileSystem(src, dst); err != nil {
		t.Fatalf("CopyFileSystem: %v", err)
	}

	if err := CompareFS(src, fsadapter.FS(dst)); err != nil {
		t.Fatalf("CompareFS: %v", err)
	}
}

func TestCopyFileSystemSkipsExcludedPaths(t *testing.T) {
	src := fstest.MapFS{
		"keep.txt":        {Data: []byte("kept")},
		"lost+found/junk": {Data: []byte("should not be copied")},
	}

	dst := newTestContainer(t)
	if err := CopyFileSystem(src, dst); err != nil {
		t.Fatalf("CopyFileSystem: %v", err)
	}

	entries, err := dst.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, e := range entries {
		if e.Name == "lost+found" {
			t.Fatalf("excluded path lost+found was copied in")
		}
	}
	if _, err := dst.ReadFile("keep.txt"); err != nil {
		t.Fatalf("ReadFile(keep.txt): %v", err)
	}
}

func TestCopyFileSystemIntoSubdirectory(t *testing.T) {
	src := fstest.MapFS{
		"one.txt":     {Data: []byte("1")},
		"nested/two":  {Data: []byte("2")},
	}

	dst := newTestContainer(t)
	if err := dst.Mkdir("imported"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := CopyFileSystemInto(src, dst, "imported"); err != nil {
		t.Fatalf("CopyFileSystemInto: %v", err)
	}

	got, err := dst.ReadFile("imported/one.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "1" {
		t.Fatalf("ReadFile(imported/one.txt) = %q, want %q", got, "1")
	}
	got, err = dst.ReadFile("imported/nested/two")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "2" {
		t.Fatalf("ReadFile(imported/nested/two) = %q, want %q", got, "2")
	}
}
