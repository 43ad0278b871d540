package sfvfs

import (
	"fmt"
	"io/fs"
	"strings"
)

// Entry is one resolved directory listing entry, returned by Container.List
// and Container.Stat.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Container is the thin external façade over BlockStore/Inode/Directory
// described in SPEC_FULL.md §6: it resolves slash-separated paths to block
// addresses and delegates every operation to the core types. It never
// touches on-disk bytes directly.
type Container struct {
	bs             *BlockStore
	maxNameLen     int
	indexThreshold int
}

// Create makes a brand-new container file with an empty root directory at
// RootAddress.
func Create(path string, opts ...Option) (*Container, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	bs, err := CreateBlockStore(path, opts...)
	if err != nil {
		return nil, err
	}
	root, err := bs.Allocate()
	if err != nil {
		_ = bs.Close()
		return nil, err
	}
	if root.Address() != RootAddress {
		_ = bs.Close()
		return nil, invalidStatef("expected root directory at address %d, got %d", RootAddress, root.Address())
	}
	if _, err := CreateDirectory(bs, RootAddress, cfg.maxNameLen, cfg.directoryMinSizeToBecomeIndexed); err != nil {
		_ = bs.Close()
		return nil, err
	}
	return &Container{bs: bs, maxNameLen: cfg.maxNameLen, indexThreshold: cfg.directoryMinSizeToBecomeIndexed}, nil
}

// Open opens an existing container file.
func Open(path string, opts ...Option) (*Container, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	bs, err := OpenBlockStore(path, opts...)
	if err != nil {
		return nil, err
	}
	return &Container{bs: bs, maxNameLen: cfg.maxNameLen, indexThreshold: cfg.directoryMinSizeToBecomeIndexed}, nil
}

// Close closes the underlying container file.
func (c *Container) Close() error { return c.bs.Close() }

// Compact packs the container's live blocks toward the head and truncates
// away trailing empty groups.
func (c *Container) Compact() error { return c.bs.Compact() }

// BlockStore exposes the underlying core engine, for callers (e.g. the
// fsadapter or CLI packages) that need lower-level access than the façade
// provides.
func (c *Container) BlockStore() *BlockStore { return c.bs }

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func notExistErr(path string) error {
	return &fs.PathError{Op: "sfvfs", Path: path, Err: fs.ErrNotExist}
}

func existsErr(path string) error {
	return &fs.PathError{Op: "sfvfs", Path: path, Err: fs.ErrExist}
}

func (c *Container) rootDir() *Directory {
	return OpenDirectory(c.bs, RootAddress, c.maxNameLen, c.indexThreshold)
}

func (c *Container) openDir(e *DirEntry) *Directory {
	return OpenDirectory(c.bs, e.Address, c.maxNameLen, c.indexThreshold)
}

// resolveParent walks every component of parts but the last, requiring each
// to be an existing directory, and returns that directory plus the leaf
// (final) path component.
func (c *Container) resolveParent(parts []string) (*Directory, string, error) {
	if len(parts) == 0 {
		return nil, "", invalidArgumentf("path must not be empty")
	}
	dir := c.rootDir()
	for _, comp := range parts[:len(parts)-1] {
		e, err := dir.Find(comp)
		if err != nil {
			return nil, "", err
		}
		if e == nil {
			return nil, "", notExistErr(comp)
		}
		if !e.IsDirectory() {
			return nil, "", fmt.Errorf("sfvfs: %s: %w", comp, fs.ErrInvalid)
		}
		dir = c.openDir(e)
	}
	return dir, parts[len(parts)-1], nil
}

// statEntry resolves path to its directory entry. The empty path resolves
// to the root directory itself.
func (c *Container) statEntry(path string) (*DirEntry, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return &DirEntry{Name: "/", Address: RootAddress, Flags: EntryIsDirectory}, nil
	}
	parentDir, leaf, err := c.resolveParent(parts)
	if err != nil {
		return nil, err
	}
	e, err := parentDir.Find(leaf)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, notExistErr(path)
	}
	return e, nil
}

// Mkdir creates a new, empty directory at path. The parent must already
// exist.
func (c *Container) Mkdir(path string) error {
	parts := splitPath(path)
	if len(parts) == 0 {
		return invalidArgumentf("cannot create the root directory")
	}
	parentDir, leaf, err := c.resolveParent(parts)
	if err != nil {
		return err
	}
	if existing, err := parentDir.Find(leaf); err != nil {
		return err
	} else if existing != nil {
		return existsErr(path)
	}

	blk, err := c.bs.Allocate()
	if err != nil {
		return err
	}
	if _, err := CreateDirectory(c.bs, blk.Address(), c.maxNameLen, c.indexThreshold); err != nil {
		return err
	}
	return parentDir.Add(leaf, blk.Address(), EntryIsDirectory)
}

// WriteFile writes data as the complete contents of the file at path,
// creating it if absent or replacing its contents if present.
func (c *Container) WriteFile(path string, data []byte) error {
	parts := splitPath(path)
	if len(parts) == 0 {
		return invalidArgumentf("path must not be empty")
	}
	parentDir, leaf, err := c.resolveParent(parts)
	if err != nil {
		return err
	}
	existing, err := parentDir.Find(leaf)
	if err != nil {
		return err
	}

	var in *Inode
	if existing != nil {
		if existing.IsDirectory() {
			return fmt.Errorf("sfvfs: %s: %w", path, fs.ErrInvalid)
		}
		in = NewInode(c.bs, existing.Address)
		if err := in.Clear(); err != nil {
			return err
		}
	} else {
		blk, err := c.bs.Allocate()
		if err != nil {
			return err
		}
		in, err = CreateInode(c.bs, blk.Address())
		if err != nil {
			return err
		}
		if err := parentDir.Add(leaf, blk.Address(), 0); err != nil {
			return err
		}
	}

	stream, err := in.OpenAppendStream()
	if err != nil {
		return err
	}
	if _, err := stream.Write(data); err != nil {
		_ = stream.Close()
		return err
	}
	return stream.Close()
}

// ReadFile returns the complete contents of the file at path.
func (c *Container) ReadFile(path string) ([]byte, error) {
	e, err := c.statEntry(path)
	if err != nil {
		return nil, err
	}
	if e.IsDirectory() {
		return nil, fmt.Errorf("sfvfs: %s: %w", path, fs.ErrInvalid)
	}
	in := NewInode(c.bs, e.Address)
	rs, err := in.OpenReadStream()
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	return rs.ReadAll()
}

// List returns the entries of the directory at path (the root if path is
// empty or "/").
func (c *Container) List(path string) ([]Entry, error) {
	parts := splitPath(path)
	var dir *Directory
	if len(parts) == 0 {
		dir = c.rootDir()
	} else {
		e, err := c.statEntry(path)
		if err != nil {
			return nil, err
		}
		if !e.IsDirectory() {
			return nil, fmt.Errorf("sfvfs: %s: %w", path, fs.ErrInvalid)
		}
		dir = c.openDir(e)
	}

	raw, err := dir.List()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(raw))
	for i, e := range raw {
		size := int64(0)
		if !e.IsDirectory() {
			sz, err := NewInode(c.bs, e.Address).Size()
			if err != nil {
				return nil, err
			}
			size = sz
		}
		out[i] = Entry{Name: e.Name, IsDir: e.IsDirectory(), Size: size}
	}
	return out, nil
}

// Stat resolves path to its entry, including the byte size of a regular
// file. The empty path resolves to the root directory.
func (c *Container) Stat(path string) (Entry, error) {
	e, err := c.statEntry(path)
	if err != nil {
		return Entry{}, err
	}
	size := int64(0)
	if !e.IsDirectory() {
		sz, err := NewInode(c.bs, e.Address).Size()
		if err != nil {
			return Entry{}, err
		}
		size = sz
	}
	return Entry{Name: e.Name, IsDir: e.IsDirectory(), Size: size}, nil
}

// Remove deletes the file or empty directory at path.
func (c *Container) Remove(path string) error {
	parts := splitPath(path)
	if len(parts) == 0 {
		return invalidArgumentf("cannot remove the root directory")
	}
	parentDir, leaf, err := c.resolveParent(parts)
	if err != nil {
		return err
	}
	e, err := parentDir.Find(leaf)
	if err != nil {
		return err
	}
	if e == nil {
		return notExistErr(path)
	}

	if e.IsDirectory() {
		if err := c.openDir(e).Delete(); err != nil {
			return err
		}
	} else {
		if err := NewInode(c.bs, e.Address).Delete(); err != nil {
			return err
		}
	}
	return parentDir.Remove(leaf)
}

// Rename moves the entry at oldpath to newpath, which must not already
// exist.
func (c *Container) Rename(oldpath, newpath string) error {
	oldParts := splitPath(oldpath)
	oldParentDir, oldLeaf, err := c.resolveParent(oldParts)
	if err != nil {
		return err
	}
	e, err := oldParentDir.Find(oldLeaf)
	if err != nil {
		return err
	}
	if e == nil {
		return notExistErr(oldpath)
	}

	newParts := splitPath(newpath)
	newParentDir, newLeaf, err := c.resolveParent(newParts)
	if err != nil {
		return err
	}
	if existing, err := newParentDir.Find(newLeaf); err != nil {
		return err
	} else if existing != nil {
		return existsErr(newpath)
	}

	if err := newParentDir.Add(newLeaf, e.Address, e.Flags); err != nil {
		return err
	}
	return oldParentDir.Remove(oldLeaf)
}

// Copy copies a single file's contents from srcpath to dstpath. Recursive
// directory copy is left to a higher-level façade (SPEC_FULL.md §12).
func (c *Container) Copy(srcpath, dstpath string) error {
	data, err := c.ReadFile(srcpath)
	if err != nil {
		return err
	}
	return c.WriteFile(dstpath, data)
}
