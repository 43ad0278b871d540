package sfvfs

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/welvet/sf-vfs/util"
)

func TestStaleHandleAfterCompact(t *testing.T) {
	bs := newTestStore(t, 64)

	blk, err := bs.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := bs.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	if _, err := blk.Read(); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("Read after compact: got %v, want ErrStaleHandle", err)
	}
	if err := blk.Write([]byte("x")); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("Write after compact: got %v, want ErrStaleHandle", err)
	}
}

func TestAddressStableAcrossCompaction(t *testing.T) {
	bs := newTestStore(t, 64)

	var addrs []int32
	for i := 0; i < 40; i++ {
		blk, err := bs.Allocate()
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
		if err := blk.WriteInt(0, int32(i)); err != nil {
			t.Fatalf("WriteInt: %v", err)
		}
		addrs = append(addrs, blk.Address())
	}
	// Free every other block so compaction has something to pack.
	for i := 0; i < len(addrs); i += 2 {
		if err := bs.Deallocate(addrs[i]); err != nil {
			t.Fatalf("Deallocate: %v", err)
		}
	}

	rawBefore := make(map[int32][]byte)
	for i := 1; i < len(addrs); i += 2 {
		blk, err := bs.Get(addrs[i])
		if err != nil {
			t.Fatalf("Get(%d) before compact: %v", addrs[i], err)
		}
		buf, err := blk.Read()
		if err != nil {
			t.Fatalf("Read(%d) before compact: %v", addrs[i], err)
		}
		rawBefore[addrs[i]] = append([]byte(nil), buf...)
	}

	if err := bs.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	for i := 1; i < len(addrs); i += 2 {
		blk, err := bs.Get(addrs[i])
		if err != nil {
			t.Fatalf("Get(%d): %v", addrs[i], err)
		}
		v, err := blk.ReadInt(0)
		if err != nil {
			t.Fatalf("ReadInt: %v", err)
		}
		if v != int32(i) {
			t.Fatalf("address %d: value = %d, want %d", addrs[i], v, i)
		}
		buf, err := blk.Read()
		if err != nil {
			t.Fatalf("Read(%d) after compact: %v", addrs[i], err)
		}
		if different, out := util.DumpByteSlicesWithDiffs(buf, rawBefore[addrs[i]], 16, true, true, false); different {
			t.Fatalf("block %d bytes changed across compaction (before vs after):\n%s", addrs[i], out)
		}
	}
	if bs.FreeBlocks() >= bs.blocksInGroup {
		t.Fatalf("FreeBlocks = %d, want < blocksInGroup (%d)", bs.FreeBlocks(), bs.blocksInGroup)
	}
}

func TestCompactionIntegrityUnderRandomDeallocation(t *testing.T) {
	bs := newTestStore(t, 64)

	const n = 1000
	addrs := make([]int32, n)
	values := make([]int32, n)
	var totalWritten int64

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < n; i++ {
		blk, err := bs.Allocate()
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
		v := rng.Int31()
		if err := blk.WriteInt(0, v); err != nil {
			t.Fatalf("WriteInt: %v", err)
		}
		addrs[i] = blk.Address()
		values[i] = v
		totalWritten += int64(v)
	}

	var totalDeallocated int64
	kept := make(map[int32]int32)
	for i := 0; i < n; i++ {
		if rng.Intn(2) == 0 {
			if err := bs.Deallocate(addrs[i]); err != nil {
				t.Fatalf("Deallocate #%d: %v", i, err)
			}
			totalDeallocated += int64(values[i])
		} else {
			kept[addrs[i]] = values[i]
		}
	}

	if err := bs.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if bs.FreeBlocks() >= bs.blocksInGroup {
		t.Fatalf("FreeBlocks = %d, want < blocksInGroup (%d)", bs.FreeBlocks(), bs.blocksInGroup)
	}

	var sumAfter int64
	for addr, want := range kept {
		blk, err := bs.Get(addr)
		if err != nil {
			t.Fatalf("Get(%d): %v", addr, err)
		}
		v, err := blk.ReadInt(0)
		if err != nil {
			t.Fatalf("ReadInt: %v", err)
		}
		if v != want {
			t.Fatalf("address %d: value = %d, want %d", addr, v, want)
		}
		sumAfter += int64(v)
	}

	if want := totalWritten - totalDeallocated; sumAfter != want {
		t.Fatalf("sum after compaction = %d, want %d", sumAfter, want)
	}
}
