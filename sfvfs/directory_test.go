package sfvfs

import (
	"errors"
	"fmt"
	"strconv"
	"testing"
)

func newTestDirectory(t *testing.T, bs *BlockStore, maxNameLen, indexThreshold int) *Directory {
	t.Helper()
	blk, err := bs.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	d, err := CreateDirectory(bs, blk.Address(), maxNameLen, indexThreshold)
	if err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	return d
}

func TestDirectoryAddFindRemoveRoundTrip(t *testing.T) {
	bs := newTestStore(t, 1024)
	d := newTestDirectory(t, bs, 30, 10)

	if err := d.Add("hello.txt", 42, 0); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e, err := d.Find("hello.txt")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if e == nil || e.Address != 42 || e.Flags != 0 {
		t.Fatalf("Find returned %+v, want address 42 flags 0", e)
	}

	if err := d.Remove("hello.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	e, err = d.Find("hello.txt")
	if err != nil {
		t.Fatalf("Find after remove: %v", err)
	}
	if e != nil {
		t.Fatalf("Find after remove returned %+v, want nil", e)
	}
}

func TestDirectorySizeLaw(t *testing.T) {
	bs := newTestStore(t, 1024)
	d := newTestDirectory(t, bs, 30, 1000) // threshold high: stay plain

	names := []string{"a", "b", "c", "d", "e"}
	for i, n := range names {
		if err := d.Add(n, int32(i+2), 0); err != nil {
			t.Fatalf("Add(%s): %v", n, err)
		}
	}
	size, err := d.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != len(names) {
		t.Fatalf("Size = %d, want %d", size, len(names))
	}

	if err := d.Remove("b"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := d.Remove("d"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	size, err = d.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != len(names)-2 {
		t.Fatalf("Size after 2 removes = %d, want %d", size, len(names)-2)
	}
}

func TestDirectoryPromotionPreservesEntries(t *testing.T) {
	bs := newTestStore(t, 1024)
	d := newTestDirectory(t, bs, 20, 10)

	const n = 25
	for i := 0; i < n; i++ {
		name := "name-" + strconv.Itoa(i)
		if err := d.Add(name, int32(i+2), 0); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}

	indexed, err := d.isIndexed()
	if err != nil {
		t.Fatalf("isIndexed: %v", err)
	}
	if !indexed {
		t.Fatalf("directory should have promoted to indexed after crossing the threshold")
	}

	size, err := d.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != n {
		t.Fatalf("Size after promotion = %d, want %d", size, n)
	}

	for i := 0; i < n; i++ {
		name := "name-" + strconv.Itoa(i)
		e, err := d.Find(name)
		if err != nil {
			t.Fatalf("Find(%s): %v", name, err)
		}
		if e == nil || e.Address != int32(i+2) {
			t.Fatalf("Find(%s) = %+v, want address %d", name, e, i+2)
		}
	}
}

func TestIndexedDirectoryLargePopulation(t *testing.T) {
	bs := newTestStore(t, 1024)
	d := newTestDirectory(t, bs, 30, 10)

	const n = 9999
	for k := 1; k <= n; k++ {
		name := strconv.Itoa(k)
		if err := d.Add(name, int32(k), 0); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}

	for k := 1; k <= n; k++ {
		name := strconv.Itoa(k)
		e, err := d.Find(name)
		if err != nil {
			t.Fatalf("Find(%s): %v", name, err)
		}
		if e == nil || e.Address != int32(k) {
			t.Fatalf("Find(%s) = %+v, want address %d", name, e, k)
		}
	}

	for k := 1; k <= n; k++ {
		if err := d.Remove(strconv.Itoa(k)); err != nil {
			t.Fatalf("Remove(%d): %v", k, err)
		}
	}

	size, err := d.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 0 {
		t.Fatalf("Size after removing all = %d, want 0", size)
	}
	for k := 1; k <= n; k++ {
		e, err := d.Find(strconv.Itoa(k))
		if err != nil {
			t.Fatalf("Find(%d) after removal: %v", k, err)
		}
		if e != nil {
			t.Fatalf("Find(%d) after removal = %+v, want nil", k, e)
		}
	}
}

// TestDirectoryRemoveLastSurvivorInOverflowBlockFreesHead covers a bucket
// chain with a head block plus at least one overflow block, where the head
// block is emptied (and left allocated) by an earlier Remove, and the
// bucket's very last entry lives in an overflow block. Removing it must
// still zero the bucket's root slot and free the head block: the trigger is
// the bucket becoming empty, not the removed entry having lived in the head
// block.
func TestDirectoryRemoveLastSurvivorInOverflowBlockFreesHead(t *testing.T) {
	bs := newTestStore(t, 64)
	d := newTestDirectory(t, bs, 16, 1000) // threshold unreachable; we force indexed mode below

	root, err := bs.Get(d.rootAddr)
	if err != nil {
		t.Fatalf("Get root: %v", err)
	}
	flags, err := root.ReadInt(0)
	if err != nil {
		t.Fatalf("ReadInt flags: %v", err)
	}
	if err := root.WriteInt(0, flags|flagIndexed); err != nil {
		t.Fatalf("WriteInt flags: %v", err)
	}

	const target = 1
	headAddr, err := root.ReadInt(target)
	if err != nil {
		t.Fatalf("ReadInt bucket slot: %v", err)
	}
	if headAddr == 0 {
		t.Fatalf("bucket %d has no preexisting head block to populate", target)
	}

	const needed = 20
	var names []string
	for i := 0; len(names) < needed; i++ {
		if i > 500000 {
			t.Fatalf("could not find %d names hashing to bucket %d", needed, target)
		}
		name := fmt.Sprintf("n%d", i)
		if bucketSlot(name, d.numBuckets()) == target {
			names = append(names, name)
		}
	}

	for i, name := range names {
		if err := d.Add(name, int32(i+2), 0); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}

	var chain []int32
	for addr := headAddr; addr != 0; {
		chain = append(chain, addr)
		blk, err := bs.Get(addr)
		if err != nil {
			t.Fatalf("Get(%d): %v", addr, err)
		}
		next, err := blk.ReadInt(intSize)
		if err != nil {
			t.Fatalf("ReadInt(next): %v", err)
		}
		addr = next
	}
	if len(chain) < 2 {
		t.Fatalf("bucket %d chain has only %d block(s), want at least 2 to exercise an overflow block", target, len(chain))
	}

	overflowAddr := chain[len(chain)-1]
	overflowBlk, err := bs.Get(overflowAddr)
	if err != nil {
		t.Fatalf("Get(overflow): %v", err)
	}
	overflowBuf, err := overflowBlk.Read()
	if err != nil {
		t.Fatalf("Read(overflow): %v", err)
	}
	overflowEntries, _ := scanBlockEntries(overflowBuf)
	if len(overflowEntries) == 0 {
		t.Fatalf("overflow block %d holds no entries", overflowAddr)
	}
	survivor := overflowEntries[0].name

	for _, name := range names {
		if name == survivor {
			continue
		}
		if err := d.Remove(name); err != nil {
			t.Fatalf("Remove(%s): %v", name, err)
		}
	}

	if err := d.Remove(survivor); err != nil {
		t.Fatalf("Remove(%s) (last entry in bucket, living in overflow block): %v", survivor, err)
	}

	got, err := root.ReadInt(target)
	if err != nil {
		t.Fatalf("ReadInt bucket slot after drain: %v", err)
	}
	if got != 0 {
		t.Fatalf("bucket %d root slot = %d after its last entry was removed, want 0", target, got)
	}
	if _, err := bs.Get(headAddr); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Get(headAddr) after bucket drained: got %v, want ErrInvalidArgument (block should be deallocated)", err)
	}
}
