package sfvfs

import (
	"bytes"
	"errors"
	"testing"

	"github.com/welvet/sf-vfs/util"
)

func newTestInode(t *testing.T, bs *BlockStore) *Inode {
	t.Helper()
	blk, err := bs.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	in, err := CreateInode(bs, blk.Address())
	if err != nil {
		t.Fatalf("CreateInode: %v", err)
	}
	return in
}

func writeViaAppendStream(t *testing.T, in *Inode, data []byte) {
	t.Helper()
	stream, err := in.OpenAppendStream()
	if err != nil {
		t.Fatalf("OpenAppendStream: %v", err)
	}
	if _, err := stream.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func readAll(t *testing.T, in *Inode) []byte {
	t.Helper()
	rs, err := in.OpenReadStream()
	if err != nil {
		t.Fatalf("OpenReadStream: %v", err)
	}
	defer rs.Close()
	data, err := rs.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return data
}

func TestInodeRoundTrip(t *testing.T) {
	bs := newTestStore(t, 64)
	in := newTestInode(t, bs)

	want := bytes.Repeat([]byte("abcdefgh"), 40) // 320 bytes, several blocks
	writeViaAppendStream(t, in, want)

	size, err := in.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != int64(len(want)) {
		t.Fatalf("Size = %d, want %d", size, len(want))
	}

	got := readAll(t, in)
	if !bytes.Equal(got, want) {
		t.Fatalf("round-trip mismatch: got %d bytes, want %d", len(got), len(want))
	}
}

func TestInodeAppendToExisting(t *testing.T) {
	bs := newTestStore(t, 64)
	in := newTestInode(t, bs)

	b1 := []byte("first-chunk-")
	b2 := []byte("second-chunk")
	writeViaAppendStream(t, in, b1)
	writeViaAppendStream(t, in, b2)

	got := readAll(t, in)
	want := append(append([]byte{}, b1...), b2...)
	if !bytes.Equal(got, want) {
		t.Fatalf("append round-trip mismatch: got %q, want %q", got, want)
	}
}

func TestInodeShortWriteLeavesRawBlockUntouchedBeyondData(t *testing.T) {
	bs := newTestStore(t, 64)
	in := newTestInode(t, bs)

	data := []byte{1, 2, 3, 4}
	writeViaAppendStream(t, in, data)

	// Locate the single data block directly and inspect its raw bytes.
	root, err := bs.Get(in.Address())
	if err != nil {
		t.Fatalf("Get root: %v", err)
	}
	dataAddr, err := root.ReadInt(in.dataSlotPos(0))
	if err != nil {
		t.Fatalf("ReadInt: %v", err)
	}
	dataBlk, err := bs.Get(dataAddr)
	if err != nil {
		t.Fatalf("Get data block: %v", err)
	}
	raw, err := dataBlk.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(raw) != 64 {
		t.Fatalf("raw block length = %d, want 64", len(raw))
	}

	want := make([]byte, 64)
	copy(want, data)
	if different, out := util.DumpByteSlicesWithDiffs(raw, want, 16, true, true, false); different {
		t.Fatalf("raw block mismatch (got vs want):\n%s", out)
	}
}

func TestInodeClearReturnsSizeToZero(t *testing.T) {
	bs := newTestStore(t, 64)
	in := newTestInode(t, bs)

	writeViaAppendStream(t, in, bytes.Repeat([]byte{9}, 500))
	if err := in.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	size, err := in.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 0 {
		t.Fatalf("Size after Clear = %d, want 0", size)
	}
}

func TestInodeLockExclusivity(t *testing.T) {
	bs := newTestStore(t, 64)
	in := newTestInode(t, bs)

	stream, err := in.OpenAppendStream()
	if err != nil {
		t.Fatalf("OpenAppendStream: %v", err)
	}
	defer stream.Close()

	if _, err := in.OpenAppendStream(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second OpenAppendStream: got %v, want ErrInvalidState", err)
	}
	if _, err := in.OpenReadStream(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("OpenReadStream while locked: got %v, want ErrInvalidState", err)
	}
}
