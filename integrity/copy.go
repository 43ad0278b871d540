// Package integrity provides whole-filesystem copy and comparison helpers
// used to move data into and verify data inside an SFVFS container. Renamed
// and rewritten from the teacher's sync package (partition-to-partition
// raw copy/verify) to target *sfvfs.Container instead of disk partitions.
package integrity

import (
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/welvet/sf-vfs/sfvfs"
)

// excludedPaths are never copied in, mirroring the teacher's filter for
// filesystem bookkeeping files that should not end up inside the container.
var excludedPaths = map[string]bool{
	"lost+found":                true,
	".DS_Store":                 true,
	"System Volume Information": true,
}

const maxCopyAllSize = 64 * 1024 * 1024

// CopyFileSystem recursively copies every regular file and directory from
// src into the root of dst, preserving structure and contents. Symlinks and
// file timestamps/permissions are out of scope (spec.md §1 non-goals).
func CopyFileSystem(src fs.FS, dst *sfvfs.Container) error {
	return copyDir(src, dst, ".", "")
}

// CopyFileSystemInto is CopyFileSystem, but lands src's tree under destDir
// inside dst instead of at the container root. destDir must already exist.
func CopyFileSystemInto(src fs.FS, dst *sfvfs.Container, destDir string) error {
	return copyDir(src, dst, ".", destDir)
}

func copyDir(src fs.FS, dst *sfvfs.Container, dir, destPrefix string) error {
	entries, err := fs.ReadDir(src, dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if excludedPaths[name] {
			continue
		}

		p := name
		if dir != "." {
			p = path.Join(dir, name)
		}
		dp := path.Join(destPrefix, p)

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}

		if entry.IsDir() {
			if err := dst.Mkdir(dp); err != nil {
				return fmt.Errorf("create dir %s: %w", dp, err)
			}
			if err := copyDir(src, dst, p, destPrefix); err != nil {
				return fmt.Errorf("copy dir %s: %w", p, err)
			}
			continue
		}

		if !info.Mode().IsRegular() {
			continue
		}

		if err := copyOneFile(src, dst, p, dp, info); err != nil {
			return fmt.Errorf("copy file %s: %w", p, err)
		}
	}

	return nil
}

func copyOneFile(src fs.FS, dst *sfvfs.Container, p, dp string, info fs.FileInfo) error {
	if info.Size() > maxCopyAllSize {
		return fmt.Errorf("%s: %d bytes exceeds the %d byte single-shot copy limit", p, info.Size(), maxCopyAllSize)
	}
	in, err := src.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	return dst.WriteFile(dp, data)
}
