package sfvfs

import "encoding/binary"

// intSize is the width of every on-disk integer: 4-byte two's-complement
// big-endian, per spec.md §6.
const intSize = 4

// Block is a handle onto one allocated block, carrying the mapping version
// in effect when it was obtained (spec.md §4.1 "Mapping version"). Any
// read/write/clear issued through a handle taken before a compaction fails
// with StaleHandleError, so callers are never silently aimed at the wrong
// physical location.
//
// Grounded on filesystem/ext4/inode.go + filesystem/ext4/file.go's pattern
// of a small handle wrapping a store reference plus read/write methods that
// seek-and-slice against the backing file.
type Block struct {
	store    *BlockStore
	logical  int32
	physical int32
	version  uint64
}

// Address returns this block's stable logical address.
func (b *Block) Address() int32 { return b.logical }

// Size returns the block size in bytes, as configured on the owning store.
func (b *Block) Size() int { return b.store.blockSize }

func (b *Block) checkVersion() error {
	if b.version != b.store.mappingVersion {
		return &StaleHandleError{
			LogicalAddress: b.logical,
			HandleVersion:  b.version,
			CurrentVersion: b.store.mappingVersion,
		}
	}
	return nil
}

func (b *Block) offset() int64 {
	return b.store.headerLen + int64(b.physical)*int64(b.store.blockSize)
}

// Read returns the full contents of the block.
func (b *Block) Read() ([]byte, error) {
	if err := b.checkVersion(); err != nil {
		return nil, err
	}
	buf := make([]byte, b.store.blockSize)
	if _, err := b.store.storage.ReadAt(buf, b.offset()); err != nil {
		return nil, ioErrorf("block read", err)
	}
	return buf, nil
}

// Write writes data at the start of the block. Per spec.md §4.1, data
// shorter than the block size is written verbatim without zero-extension:
// the tail of the block is left as whatever was there before.
func (b *Block) Write(data []byte) error {
	if err := b.checkVersion(); err != nil {
		return err
	}
	if len(data) > b.store.blockSize {
		return invalidArgumentf("write of %d bytes exceeds block size %d", len(data), b.store.blockSize)
	}
	w, err := b.store.writable()
	if err != nil {
		return err
	}
	if _, err := w.WriteAt(data, b.offset()); err != nil {
		return ioErrorf("block write", err)
	}
	return nil
}

// ReadInt reads the 4-byte big-endian integer at pos within the block.
func (b *Block) ReadInt(pos int) (int32, error) {
	if err := b.checkVersion(); err != nil {
		return 0, err
	}
	if pos < 0 || pos+intSize > b.store.blockSize {
		return 0, invalidArgumentf("position %d out of range for block size %d", pos, b.store.blockSize)
	}
	buf := make([]byte, intSize)
	if _, err := b.store.storage.ReadAt(buf, b.offset()+int64(pos)); err != nil {
		return 0, ioErrorf("block readInt", err)
	}
	return int32(binary.BigEndian.Uint32(buf)), nil
}

// WriteInt writes a 4-byte big-endian integer at pos within the block.
func (b *Block) WriteInt(pos int, v int32) error {
	if err := b.checkVersion(); err != nil {
		return err
	}
	if pos < 0 || pos+intSize > b.store.blockSize {
		return invalidArgumentf("position %d out of range for block size %d", pos, b.store.blockSize)
	}
	w, err := b.store.writable()
	if err != nil {
		return err
	}
	buf := make([]byte, intSize)
	binary.BigEndian.PutUint32(buf, uint32(v))
	if _, err := w.WriteAt(buf, b.offset()+int64(pos)); err != nil {
		return ioErrorf("block writeInt", err)
	}
	return nil
}

// Clear zeroes the entire block.
func (b *Block) Clear() error {
	if err := b.checkVersion(); err != nil {
		return err
	}
	zero := make([]byte, b.store.blockSize)
	w, err := b.store.writable()
	if err != nil {
		return err
	}
	if _, err := w.WriteAt(zero, b.offset()); err != nil {
		return ioErrorf("block clear", err)
	}
	return nil
}
