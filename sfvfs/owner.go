package sfvfs

import (
	"path/filepath"
	"sync"
)

// openRegistry enforces spec.md §5's single-owner rule: the container file is
// owned by exactly the BlockStore that opened it. A second Open of the same
// path while the first is still live fails fast with WrongOwnerError (a
// second Create fails before reaching here, because the file already exists),
// the way the teacher's sync package guards access to a shared disk resource
// (rewritten here for SFVFS's per-path-open exclusivity instead of a
// copy/verify operation).
type openRegistry struct {
	mu    sync.Mutex
	owned map[string]*BlockStore
}

var registry = &openRegistry{owned: make(map[string]*BlockStore)}

func (r *openRegistry) claim(path string, bs *BlockStore) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.owned[abs]; taken {
		return &WrongOwnerError{Path: path}
	}
	r.owned[abs] = bs
	bs.registryKey = abs
	return nil
}

func (r *openRegistry) release(key string) {
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owned, key)
}
