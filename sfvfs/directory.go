package sfvfs

import (
	"encoding/binary"
	"regexp"
)

// EntryIsDirectory is the bit, stored in an entity-list entry's flags byte,
// that marks an entry as a subdirectory.
const EntryIsDirectory byte = 1 << 0

// Root-block flags bit: directory has been promoted to hash-indexed mode.
const flagIndexed int32 = 1 << 0

const listHeaderLen = 2 * intSize // size (head only) + next

var nameRegexp = regexp.MustCompile(`^[A-Za-z0-9\$\{\}\-_.]+$`)

func validateName(name string, maxLen int) error {
	if name == "" {
		return invalidArgumentf("name must not be empty")
	}
	if len(name) > maxLen {
		return invalidArgumentf("name %q exceeds max length %d", name, maxLen)
	}
	if !nameRegexp.MatchString(name) {
		return invalidArgumentf("name %q contains characters outside the allowed set", name)
	}
	return nil
}

// DirEntry is one resolved directory entry.
type DirEntry struct {
	Name    string
	Address int32
	Flags   byte
}

// IsDirectory reports whether this entry refers to a subdirectory.
func (e DirEntry) IsDirectory() bool { return e.Flags&EntryIsDirectory != 0 }

// rawEntry is an entry as found during a block scan, carrying its byte
// offset within the block so removal can target it precisely.
type rawEntry struct {
	address int32
	flags   byte
	name    string
	offset  int
}

func entryTotalLen(nameLen int) int {
	return intSize + 1 + 1 + nameLen + 1 // target + flags + nameLen + name + separator
}

func getInt32(buf []byte, pos int) int32 {
	return int32(binary.BigEndian.Uint32(buf[pos : pos+4]))
}

func putInt32(buf []byte, pos int, v int32) {
	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(v))
}

// scanBlockEntries parses every entry packed into buf starting after the
// size/next header, stopping at the first zero target address. It also
// returns the offset at which a new entry could be appended.
func scanBlockEntries(buf []byte) ([]rawEntry, int) {
	var entries []rawEntry
	offset := listHeaderLen
	for offset+intSize+2 <= len(buf) {
		target := getInt32(buf, offset)
		if target == 0 {
			break
		}
		flags := buf[offset+4]
		nameLen := int(buf[offset+5])
		name := string(buf[offset+6 : offset+6+nameLen])
		entries = append(entries, rawEntry{address: target, flags: flags, name: name, offset: offset})
		offset += entryTotalLen(nameLen)
	}
	return entries, offset
}

// Directory is a name -> (address, flags) map stored as a root block plus
// one or more entity-list chains, adaptively switching from a single
// ("plain") chain to a hash-bucketed ("indexed") table. Grounded on
// filesystem/ext4's directory block iteration (linear scan of packed,
// variable-length entries terminated by a sentinel) generalized to SFVFS's
// plain/indexed dual layout.
type Directory struct {
	bs             *BlockStore
	rootAddr       int32
	maxNameLen     int
	indexThreshold int
}

// CreateDirectory formats a freshly allocated block as an empty plain
// directory.
func CreateDirectory(bs *BlockStore, rootAddr int32, maxNameLen, indexThreshold int) (*Directory, error) {
	root, err := bs.Get(rootAddr)
	if err != nil {
		return nil, err
	}
	if err := root.Clear(); err != nil {
		return nil, err
	}
	head, err := bs.Allocate()
	if err != nil {
		return nil, err
	}
	if err := head.Clear(); err != nil {
		return nil, err
	}
	if err := root.WriteInt(1, head.Address()); err != nil {
		return nil, err
	}
	return &Directory{bs: bs, rootAddr: rootAddr, maxNameLen: maxNameLen, indexThreshold: indexThreshold}, nil
}

// OpenDirectory wraps an existing directory root block.
func OpenDirectory(bs *BlockStore, rootAddr int32, maxNameLen, indexThreshold int) *Directory {
	return &Directory{bs: bs, rootAddr: rootAddr, maxNameLen: maxNameLen, indexThreshold: indexThreshold}
}

// RootAddress returns this directory's root block address.
func (d *Directory) RootAddress() int32 { return d.rootAddr }

func (d *Directory) numSlots() int   { return d.bs.blockSize / intSize }
func (d *Directory) numBuckets() int { return d.numSlots() - 1 }

func (d *Directory) isIndexed() (bool, error) {
	root, err := d.bs.Get(d.rootAddr)
	if err != nil {
		return false, err
	}
	flags, err := root.ReadInt(0)
	if err != nil {
		return false, err
	}
	return flags&flagIndexed != 0, nil
}

func (d *Directory) findInChain(headAddr int32, name string) (blockAddr int32, entry rawEntry, found bool, err error) {
	addr := headAddr
	for addr != 0 {
		blk, err := d.bs.Get(addr)
		if err != nil {
			return 0, rawEntry{}, false, err
		}
		buf, err := blk.Read()
		if err != nil {
			return 0, rawEntry{}, false, err
		}
		entries, _ := scanBlockEntries(buf)
		for _, e := range entries {
			if e.name == name {
				return addr, e, true, nil
			}
		}
		next, err := blk.ReadInt(intSize)
		if err != nil {
			return 0, rawEntry{}, false, err
		}
		addr = next
	}
	return 0, rawEntry{}, false, nil
}

func (d *Directory) findPrev(headAddr, target int32) (int32, error) {
	addr := headAddr
	for addr != 0 {
		blk, err := d.bs.Get(addr)
		if err != nil {
			return 0, err
		}
		next, err := blk.ReadInt(intSize)
		if err != nil {
			return 0, err
		}
		if next == target {
			return addr, nil
		}
		addr = next
	}
	return 0, invalidStatef("block %d not reachable from chain head %d", target, headAddr)
}

func (d *Directory) walkChainEntries(headAddr int32, visit func(rawEntry) error) error {
	addr := headAddr
	for addr != 0 {
		blk, err := d.bs.Get(addr)
		if err != nil {
			return err
		}
		buf, err := blk.Read()
		if err != nil {
			return err
		}
		entries, _ := scanBlockEntries(buf)
		for _, e := range entries {
			if err := visit(e); err != nil {
				return err
			}
		}
		next, err := blk.ReadInt(intSize)
		if err != nil {
			return err
		}
		addr = next
	}
	return nil
}

// appendToList walks headAddr's chain for the first block with room for e,
// allocating and linking a fresh block if none has space, writes the entry,
// and bumps the chain's size counter in its head block.
func (d *Directory) appendToList(headAddr int32, e rawEntry) error {
	total := entryTotalLen(len(e.name))
	if total > d.bs.blockSize-listHeaderLen {
		return invalidArgumentf("entry for %q does not fit in a block of size %d", e.name, d.bs.blockSize)
	}

	addr := headAddr
	for {
		blk, err := d.bs.Get(addr)
		if err != nil {
			return err
		}
		buf, err := blk.Read()
		if err != nil {
			return err
		}
		_, freeOffset := scanBlockEntries(buf)

		if freeOffset+total <= len(buf) {
			putInt32(buf, freeOffset, e.address)
			buf[freeOffset+4] = e.flags
			buf[freeOffset+5] = byte(len(e.name))
			copy(buf[freeOffset+6:], []byte(e.name))
			if err := blk.Write(buf); err != nil {
				return err
			}
			headBlk, err := d.bs.Get(headAddr)
			if err != nil {
				return err
			}
			sz, err := headBlk.ReadInt(0)
			if err != nil {
				return err
			}
			return headBlk.WriteInt(0, sz+1)
		}

		next, err := blk.ReadInt(intSize)
		if err != nil {
			return err
		}
		if next == 0 {
			nb, err := d.bs.Allocate()
			if err != nil {
				return err
			}
			if err := nb.Clear(); err != nil {
				return err
			}
			if err := blk.WriteInt(intSize, nb.Address()); err != nil {
				return err
			}
			addr = nb.Address()
			continue
		}
		addr = next
	}
}

// rewriteBlockWithout rebuilds addr's entry region without the entry at
// removeOffset, reports whether the block ends up holding zero entries.
func (d *Directory) rewriteBlockWithout(addr int32, removeOffset int) (bool, error) {
	blk, err := d.bs.Get(addr)
	if err != nil {
		return false, err
	}
	orig, err := blk.Read()
	if err != nil {
		return false, err
	}
	entries, _ := scanBlockEntries(orig)

	newBuf := make([]byte, d.bs.blockSize)
	copy(newBuf[0:listHeaderLen], orig[0:listHeaderLen])
	offset := listHeaderLen
	remaining := 0
	for _, e := range entries {
		if e.offset == removeOffset {
			continue
		}
		putInt32(newBuf, offset, e.address)
		newBuf[offset+4] = e.flags
		newBuf[offset+5] = byte(len(e.name))
		copy(newBuf[offset+6:], []byte(e.name))
		offset += entryTotalLen(len(e.name))
		remaining++
	}
	if err := blk.Write(newBuf); err != nil {
		return false, err
	}
	return remaining == 0, nil
}

// Add inserts a new entry. Fails with InvalidArgumentError for a malformed
// or oversized name and InvalidStateError for a duplicate.
func (d *Directory) Add(name string, address int32, flags byte) error {
	if err := validateName(name, d.maxNameLen); err != nil {
		return err
	}
	if address <= 0 {
		return invalidArgumentf("target address must be positive, got %d", address)
	}

	root, err := d.bs.Get(d.rootAddr)
	if err != nil {
		return err
	}
	indexed, err := d.isIndexed()
	if err != nil {
		return err
	}

	var headSlot int
	var headAddr int32
	if indexed {
		headSlot = bucketSlot(name, d.numBuckets())
		headAddr, err = root.ReadInt(headSlot)
		if err != nil {
			return err
		}
		if headAddr == 0 {
			nb, err := d.bs.Allocate()
			if err != nil {
				return err
			}
			if err := nb.Clear(); err != nil {
				return err
			}
			headAddr = nb.Address()
			if err := root.WriteInt(headSlot, headAddr); err != nil {
				return err
			}
		}
	} else {
		headSlot = 1
		headAddr, err = root.ReadInt(1)
		if err != nil {
			return err
		}
	}

	if _, _, found, err := d.findInChain(headAddr, name); err != nil {
		return err
	} else if found {
		return invalidStatef("entry %q already exists", name)
	}

	if err := d.appendToList(headAddr, rawEntry{address: address, flags: flags, name: name}); err != nil {
		return err
	}

	if !indexed {
		sz, err := d.Size()
		if err != nil {
			return err
		}
		if sz >= d.indexThreshold {
			return d.promote()
		}
	}
	return nil
}

// Find looks up name, returning (nil, nil) if absent.
func (d *Directory) Find(name string) (*DirEntry, error) {
	root, err := d.bs.Get(d.rootAddr)
	if err != nil {
		return nil, err
	}
	indexed, err := d.isIndexed()
	if err != nil {
		return nil, err
	}

	var headAddr int32
	if indexed {
		headAddr, err = root.ReadInt(bucketSlot(name, d.numBuckets()))
	} else {
		headAddr, err = root.ReadInt(1)
	}
	if err != nil {
		return nil, err
	}
	if headAddr == 0 {
		return nil, nil
	}

	_, e, found, err := d.findInChain(headAddr, name)
	if err != nil || !found {
		return nil, err
	}
	return &DirEntry{Name: e.name, Address: e.address, Flags: e.flags}, nil
}

// Remove deletes the named entry. Fails with InvalidStateError if absent.
func (d *Directory) Remove(name string) error {
	root, err := d.bs.Get(d.rootAddr)
	if err != nil {
		return err
	}
	indexed, err := d.isIndexed()
	if err != nil {
		return err
	}

	var headSlot int
	var headAddr int32
	if indexed {
		headSlot = bucketSlot(name, d.numBuckets())
	} else {
		headSlot = 1
	}
	headAddr, err = root.ReadInt(headSlot)
	if err != nil {
		return err
	}
	if headAddr == 0 {
		return invalidStatef("entry %q not found", name)
	}

	blockAddr, entry, found, err := d.findInChain(headAddr, name)
	if err != nil {
		return err
	}
	if !found {
		return invalidStatef("entry %q not found", name)
	}

	emptied, err := d.rewriteBlockWithout(blockAddr, entry.offset)
	if err != nil {
		return err
	}

	headBlk, err := d.bs.Get(headAddr)
	if err != nil {
		return err
	}
	sz, err := headBlk.ReadInt(0)
	if err != nil {
		return err
	}
	newSize := sz - 1
	if err := headBlk.WriteInt(0, newSize); err != nil {
		return err
	}

	if emptied && blockAddr != headAddr {
		prevAddr, err := d.findPrev(headAddr, blockAddr)
		if err != nil {
			return err
		}
		removedBlk, err := d.bs.Get(blockAddr)
		if err != nil {
			return err
		}
		next, err := removedBlk.ReadInt(intSize)
		if err != nil {
			return err
		}
		prevBlk, err := d.bs.Get(prevAddr)
		if err != nil {
			return err
		}
		if err := prevBlk.WriteInt(intSize, next); err != nil {
			return err
		}
		if err := d.bs.Deallocate(blockAddr); err != nil {
			return err
		}
	}

	if indexed && newSize == 0 {
		if err := root.WriteInt(headSlot, 0); err != nil {
			return err
		}
		if err := d.bs.Deallocate(headAddr); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the total number of entries across every existing bucket.
func (d *Directory) Size() (int, error) {
	root, err := d.bs.Get(d.rootAddr)
	if err != nil {
		return 0, err
	}
	indexed, err := d.isIndexed()
	if err != nil {
		return 0, err
	}

	total := 0
	addHeadSize := func(slot int) error {
		addr, err := root.ReadInt(slot)
		if err != nil || addr == 0 {
			return err
		}
		blk, err := d.bs.Get(addr)
		if err != nil {
			return err
		}
		sz, err := blk.ReadInt(0)
		if err != nil {
			return err
		}
		total += int(sz)
		return nil
	}

	if indexed {
		for slot := 1; slot < d.numSlots(); slot++ {
			if err := addHeadSize(slot); err != nil {
				return 0, err
			}
		}
	} else if err := addHeadSize(1); err != nil {
		return 0, err
	}
	return total, nil
}

// List returns every entry across every bucket, in no particular order.
func (d *Directory) List() ([]DirEntry, error) {
	root, err := d.bs.Get(d.rootAddr)
	if err != nil {
		return nil, err
	}
	indexed, err := d.isIndexed()
	if err != nil {
		return nil, err
	}

	var heads []int32
	if indexed {
		for slot := 1; slot < d.numSlots(); slot++ {
			a, err := root.ReadInt(slot)
			if err != nil {
				return nil, err
			}
			if a != 0 {
				heads = append(heads, a)
			}
		}
	} else {
		a, err := root.ReadInt(1)
		if err != nil {
			return nil, err
		}
		if a != 0 {
			heads = append(heads, a)
		}
	}

	var out []DirEntry
	for _, h := range heads {
		if err := d.walkChainEntries(h, func(e rawEntry) error {
			out = append(out, DirEntry{Name: e.name, Address: e.address, Flags: e.flags})
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Delete removes the directory. Fails with InvalidStateError unless empty.
func (d *Directory) Delete() error {
	sz, err := d.Size()
	if err != nil {
		return err
	}
	if sz != 0 {
		return invalidStatef("cannot delete non-empty directory at %d (%d entries)", d.rootAddr, sz)
	}

	root, err := d.bs.Get(d.rootAddr)
	if err != nil {
		return err
	}
	indexed, err := d.isIndexed()
	if err != nil {
		return err
	}
	freeHead := func(slot int) error {
		a, err := root.ReadInt(slot)
		if err != nil || a == 0 {
			return err
		}
		return d.bs.Deallocate(a)
	}
	if indexed {
		for slot := 1; slot < d.numSlots(); slot++ {
			if err := freeHead(slot); err != nil {
				return err
			}
		}
	} else if err := freeHead(1); err != nil {
		return err
	}
	return d.bs.Deallocate(d.rootAddr)
}

// promote converts a plain directory to indexed mode, per spec.md §4.3.
// Not reversible.
func (d *Directory) promote() error {
	root, err := d.bs.Get(d.rootAddr)
	if err != nil {
		return err
	}
	headAddr, err := root.ReadInt(1)
	if err != nil {
		return err
	}

	var entries []rawEntry
	var oldBlocks []int32
	addr := headAddr
	for addr != 0 {
		oldBlocks = append(oldBlocks, addr)
		blk, err := d.bs.Get(addr)
		if err != nil {
			return err
		}
		buf, err := blk.Read()
		if err != nil {
			return err
		}
		es, _ := scanBlockEntries(buf)
		entries = append(entries, es...)
		next, err := blk.ReadInt(intSize)
		if err != nil {
			return err
		}
		addr = next
	}

	newHeads := make(map[int]int32)
	for _, e := range entries {
		slot := bucketSlot(e.name, d.numBuckets())
		head, ok := newHeads[slot]
		if !ok {
			nb, err := d.bs.Allocate()
			if err != nil {
				return err
			}
			if err := nb.Clear(); err != nil {
				return err
			}
			head = nb.Address()
			newHeads[slot] = head
		}
		if err := d.appendToList(head, rawEntry{address: e.address, flags: e.flags, name: e.name}); err != nil {
			return err
		}
	}

	for _, a := range oldBlocks {
		if err := d.bs.Deallocate(a); err != nil {
			return err
		}
	}

	flags, err := root.ReadInt(0)
	if err != nil {
		return err
	}
	if err := root.WriteInt(0, flags|flagIndexed); err != nil {
		return err
	}
	for slot := 1; slot < d.numSlots(); slot++ {
		if err := root.WriteInt(slot, 0); err != nil {
			return err
		}
	}
	for slot, a := range newHeads {
		if err := root.WriteInt(slot, a); err != nil {
			return err
		}
	}

	d.bs.logger.WithField("root", d.rootAddr).WithField("entries", len(entries)).
		Debug("sfvfs: directory promoted to indexed mode")
	return nil
}
