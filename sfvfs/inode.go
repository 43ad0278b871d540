package sfvfs

import (
	"fmt"
	"io"
)

// Inode flag bits (slot 0 of every inode block), spec.md §4.2.
const (
	flagTrailingBlockFull int32 = 1 << 0
	flagLocked            int32 = 1 << 1
)

// Inode-block slot indices, spec.md §4.2 / §6.
const (
	slotFlags     = 0
	slotSize      = 1
	slotLastInode = 2
	firstDataSlot = 3
)

// Inode represents one regular file: a chained sequence of blocks. At most
// one stream (read or append) may be open on an inode at a time.
//
// Grounded on filesystem/ext4/inode.go for the block-of-fixed-slots layout
// and filesystem/ext4/file.go for the shape of a stream bound to a chain of
// blocks, generalized from ext4's extent map to SFVFS's slot chain.
type Inode struct {
	bs       *BlockStore
	rootAddr int32
}

// NewInode returns a handle onto the inode rooted at rootAddr. It does not
// initialise the block's contents; use CreateInode for a brand-new file.
func NewInode(bs *BlockStore, rootAddr int32) *Inode {
	return &Inode{bs: bs, rootAddr: rootAddr}
}

// CreateInode formats a freshly allocated block as an empty inode root.
func CreateInode(bs *BlockStore, rootAddr int32) (*Inode, error) {
	blk, err := bs.Get(rootAddr)
	if err != nil {
		return nil, err
	}
	if err := blk.Clear(); err != nil {
		return nil, err
	}
	return &Inode{bs: bs, rootAddr: rootAddr}, nil
}

// Address returns the inode's root block address.
func (in *Inode) Address() int32 { return in.rootAddr }

func (in *Inode) n() int                 { return in.bs.blockSize / intSize }
func (in *Inode) dataSlotsPerBlock() int { return in.n() - 4 }
func (in *Inode) dataSlotPos(i int) int  { return (firstDataSlot + i) * intSize }
func (in *Inode) lastSlotPos() int       { return (in.n() - 1) * intSize }

// Size returns the total number of bytes held by this inode.
func (in *Inode) Size() (int64, error) {
	root, err := in.bs.Get(in.rootAddr)
	if err != nil {
		return 0, err
	}
	size, err := root.ReadInt(slotSize)
	if err != nil {
		return 0, err
	}
	return int64(size), nil
}

func (in *Inode) walkChain(visit func(addr int32, blk *Block, isRoot bool) error) error {
	addr := in.rootAddr
	isRoot := true
	for addr != 0 {
		blk, err := in.bs.Get(addr)
		if err != nil {
			return err
		}
		next, err := blk.ReadInt(in.lastSlotPos())
		if err != nil {
			return err
		}
		if err := visit(addr, blk, isRoot); err != nil {
			return err
		}
		addr = next
		isRoot = false
	}
	return nil
}

// Clear frees every data block and overflow inode block, leaving only the
// (now empty) root.
func (in *Inode) Clear() error {
	root, err := in.bs.Get(in.rootAddr)
	if err != nil {
		return err
	}
	flags, err := root.ReadInt(slotFlags)
	if err != nil {
		return err
	}
	if flags&flagLocked != 0 {
		return invalidStatef("cannot clear inode %d with an open stream", in.rootAddr)
	}

	dataSlots := in.dataSlotsPerBlock()
	var overflowBlocks []int32
	err = in.walkChain(func(addr int32, blk *Block, isRoot bool) error {
		for i := 0; i < dataSlots; i++ {
			v, err := blk.ReadInt(in.dataSlotPos(i))
			if err != nil {
				return err
			}
			if v == 0 {
				break
			}
			if err := in.bs.Deallocate(v); err != nil {
				return err
			}
		}
		if !isRoot {
			overflowBlocks = append(overflowBlocks, addr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, addr := range overflowBlocks {
		if err := in.bs.Deallocate(addr); err != nil {
			return err
		}
	}
	return root.Clear()
}

// Delete frees every block owned by the inode, including the root.
func (in *Inode) Delete() error {
	if err := in.Clear(); err != nil {
		return err
	}
	return in.bs.Deallocate(in.rootAddr)
}

// AppendStream is the single write path onto an inode: purely append-only,
// one byte (or buffer) at a time, filling an in-memory copy of the trailing
// data block and flushing it to disk whenever it fills up.
type AppendStream struct {
	in              *Inode
	lastInodeAddr   int32
	dataSlotUsed    int
	haveTrailing    bool
	trailingLogical int32
	trailingBuf     []byte
	trailingPos     int
	size            int64
	closed          bool
}

// OpenAppendStream opens the single append stream for this inode. Fails
// with InvalidStateError if a stream is already open.
func (in *Inode) OpenAppendStream() (*AppendStream, error) {
	root, err := in.bs.Get(in.rootAddr)
	if err != nil {
		return nil, err
	}
	flags, err := root.ReadInt(slotFlags)
	if err != nil {
		return nil, err
	}
	if flags&flagLocked != 0 {
		return nil, invalidStatef("inode %d already has an open stream", in.rootAddr)
	}
	if err := root.WriteInt(slotFlags, flags|flagLocked); err != nil {
		return nil, err
	}

	size, err := root.ReadInt(slotSize)
	if err != nil {
		return nil, err
	}
	lastInodeAddr, err := root.ReadInt(slotLastInode)
	if err != nil {
		return nil, err
	}
	if lastInodeAddr == 0 {
		lastInodeAddr = in.rootAddr
	}
	lastBlock, err := in.bs.Get(lastInodeAddr)
	if err != nil {
		return nil, err
	}

	dataSlots := in.dataSlotsPerBlock()
	count := 0
	for i := 0; i < dataSlots; i++ {
		v, err := lastBlock.ReadInt(in.dataSlotPos(i))
		if err != nil {
			return nil, err
		}
		if v == 0 {
			break
		}
		count++
	}

	as := &AppendStream{in: in, lastInodeAddr: lastInodeAddr, dataSlotUsed: count, size: int64(size)}

	switch {
	case flags&flagTrailingBlockFull != 0:
		if err := as.allocateNewTrailingBlock(); err != nil {
			return nil, err
		}
	case count > 0:
		trailingAddr, err := lastBlock.ReadInt(in.dataSlotPos(count - 1))
		if err != nil {
			return nil, err
		}
		tb, err := in.bs.Get(trailingAddr)
		if err != nil {
			return nil, err
		}
		data, err := tb.Read()
		if err != nil {
			return nil, err
		}
		as.trailingBuf = data
		as.trailingLogical = trailingAddr
		as.trailingPos = int(as.size % int64(in.bs.blockSize))
		as.haveTrailing = true
	default:
		// Brand new inode: no trailing block exists yet; the first Write
		// call allocates one lazily.
	}

	return as, nil
}

// allocateNewTrailingBlock allocates a fresh data block and records its
// pointer in the current inode block's next free data slot, rolling over to
// a new overflow inode block first if the current one is full.
func (as *AppendStream) allocateNewTrailingBlock() error {
	in := as.in
	dataSlots := in.dataSlotsPerBlock()
	if as.dataSlotUsed >= dataSlots {
		newInode, err := in.bs.Allocate()
		if err != nil {
			return err
		}
		if err := newInode.Clear(); err != nil {
			return err
		}
		cur, err := in.bs.Get(as.lastInodeAddr)
		if err != nil {
			return err
		}
		if err := cur.WriteInt(in.lastSlotPos(), newInode.Address()); err != nil {
			return err
		}
		root, err := in.bs.Get(in.rootAddr)
		if err != nil {
			return err
		}
		if err := root.WriteInt(slotLastInode, newInode.Address()); err != nil {
			return err
		}
		as.lastInodeAddr = newInode.Address()
		as.dataSlotUsed = 0
	}

	newData, err := in.bs.Allocate()
	if err != nil {
		return err
	}
	cur, err := in.bs.Get(as.lastInodeAddr)
	if err != nil {
		return err
	}
	if err := cur.WriteInt(in.dataSlotPos(as.dataSlotUsed), newData.Address()); err != nil {
		return err
	}
	as.dataSlotUsed++
	as.trailingBuf = make([]byte, in.bs.blockSize)
	as.trailingLogical = newData.Address()
	as.trailingPos = 0
	as.haveTrailing = true
	return nil
}

// commitTrailing flushes a completely-filled trailing buffer to disk and
// updates the root's size field.
func (as *AppendStream) commitTrailing() error {
	blk, err := as.in.bs.Get(as.trailingLogical)
	if err != nil {
		return err
	}
	if err := blk.Write(as.trailingBuf); err != nil {
		return err
	}
	root, err := as.in.bs.Get(as.in.rootAddr)
	if err != nil {
		return err
	}
	if err := root.WriteInt(slotSize, int32(as.size)); err != nil {
		return err
	}
	as.haveTrailing = false
	return nil
}

// Write appends p to the file. Semantically identical to writing one byte
// at a time (spec.md §4.2), implemented with bulk copies for throughput
// (spec.md §9's bulk-I/O open question).
func (as *AppendStream) Write(p []byte) (int, error) {
	if as.closed {
		return 0, fmt.Errorf("sfvfs: write to closed append stream")
	}
	total := 0
	for len(p) > 0 {
		if !as.haveTrailing {
			if err := as.allocateNewTrailingBlock(); err != nil {
				return total, err
			}
		}
		n := copy(as.trailingBuf[as.trailingPos:], p)
		as.trailingPos += n
		as.size += int64(n)
		p = p[n:]
		total += n

		if as.trailingPos == len(as.trailingBuf) {
			if err := as.commitTrailing(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// Close flushes any buffered partial block, updates size and the
// trailing-block-full flag, and clears the locked flag.
func (as *AppendStream) Close() error {
	if as.closed {
		return nil
	}
	as.closed = true

	if as.haveTrailing && as.trailingPos > 0 && as.trailingPos < len(as.trailingBuf) {
		blk, err := as.in.bs.Get(as.trailingLogical)
		if err != nil {
			return err
		}
		if err := blk.Write(as.trailingBuf[:as.trailingPos]); err != nil {
			return err
		}
	}

	root, err := as.in.bs.Get(as.in.rootAddr)
	if err != nil {
		return err
	}
	if err := root.WriteInt(slotSize, int32(as.size)); err != nil {
		return err
	}
	flags, err := root.ReadInt(slotFlags)
	if err != nil {
		return err
	}
	flags &^= flagLocked
	if as.size > 0 && as.size%int64(as.in.bs.blockSize) == 0 {
		flags |= flagTrailingBlockFull
	} else {
		flags &^= flagTrailingBlockFull
	}
	return root.WriteInt(slotFlags, flags)
}

// ReadStream is the single sequential read path onto an inode's committed
// bytes.
type ReadStream struct {
	in            *Inode
	size          int64
	read          int64
	curInodeAddr  int32
	curInodeBlock *Block
	dataSlotIdx   int
	curDataBuf    []byte
	curDataPos    int
	curDataLen    int
	closed        bool
}

// OpenReadStream opens the single read stream for this inode. Fails with
// InvalidStateError if a stream is already open.
func (in *Inode) OpenReadStream() (*ReadStream, error) {
	root, err := in.bs.Get(in.rootAddr)
	if err != nil {
		return nil, err
	}
	flags, err := root.ReadInt(slotFlags)
	if err != nil {
		return nil, err
	}
	if flags&flagLocked != 0 {
		return nil, invalidStatef("inode %d already has an open stream", in.rootAddr)
	}
	if err := root.WriteInt(slotFlags, flags|flagLocked); err != nil {
		return nil, err
	}
	size, err := root.ReadInt(slotSize)
	if err != nil {
		return nil, err
	}
	return &ReadStream{in: in, size: int64(size), curInodeAddr: in.rootAddr}, nil
}

func (rs *ReadStream) advanceToNextDataBlock() error {
	dataSlots := rs.in.dataSlotsPerBlock()
	for {
		if rs.curInodeBlock == nil {
			blk, err := rs.in.bs.Get(rs.curInodeAddr)
			if err != nil {
				return err
			}
			rs.curInodeBlock = blk
		}
		if rs.dataSlotIdx >= dataSlots {
			next, err := rs.curInodeBlock.ReadInt(rs.in.lastSlotPos())
			if err != nil {
				return err
			}
			if next == 0 {
				return fmt.Errorf("sfvfs: inode %d chain ended before declared size", rs.in.rootAddr)
			}
			rs.curInodeAddr = next
			rs.curInodeBlock = nil
			rs.dataSlotIdx = 0
			continue
		}
		ptr, err := rs.curInodeBlock.ReadInt(rs.in.dataSlotPos(rs.dataSlotIdx))
		if err != nil {
			return err
		}
		rs.dataSlotIdx++
		if ptr == 0 {
			return fmt.Errorf("sfvfs: inode %d ran out of data blocks before declared size", rs.in.rootAddr)
		}
		blk, err := rs.in.bs.Get(ptr)
		if err != nil {
			return err
		}
		data, err := blk.Read()
		if err != nil {
			return err
		}
		rs.curDataBuf = data
		rs.curDataPos = 0
		remaining := rs.size - rs.read
		if remaining >= int64(rs.in.bs.blockSize) {
			rs.curDataLen = rs.in.bs.blockSize
		} else {
			rs.curDataLen = int(remaining)
		}
		return nil
	}
}

// Read reads up to len(p) bytes, stopping after exactly Size() bytes have
// been returned in total across all calls.
func (rs *ReadStream) Read(p []byte) (int, error) {
	if rs.read >= rs.size {
		return 0, io.EOF
	}
	total := 0
	for total < len(p) && rs.read < rs.size {
		if rs.curDataBuf == nil || rs.curDataPos >= rs.curDataLen {
			if err := rs.advanceToNextDataBlock(); err != nil {
				return total, err
			}
		}
		n := copy(p[total:], rs.curDataBuf[rs.curDataPos:rs.curDataLen])
		rs.curDataPos += n
		rs.read += int64(n)
		total += n
	}
	var err error
	if rs.read >= rs.size {
		err = io.EOF
	}
	return total, err
}

// ReadAll drains the stream into a single byte slice.
func (rs *ReadStream) ReadAll() ([]byte, error) {
	buf := make([]byte, rs.size-rs.read)
	_, err := io.ReadFull(rs, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf, nil
}

// Close clears the locked flag.
func (rs *ReadStream) Close() error {
	if rs.closed {
		return nil
	}
	rs.closed = true
	root, err := rs.in.bs.Get(rs.in.rootAddr)
	if err != nil {
		return err
	}
	flags, err := root.ReadInt(slotFlags)
	if err != nil {
		return err
	}
	return root.WriteInt(slotFlags, flags&^flagLocked)
}
