package sfvfs

import "fmt"

// takenFlag is the only defined bit in a group-meta byte (spec.md §6):
// the high 7 bits are reserved and must always be written as zero.
const takenFlag byte = 0x01

// groupMeta is the one-byte-per-slot allocation map stored in the first
// block of a block group. It is a byte-per-slot sibling of the teacher's
// filesystem/ext4/bitmaps.go bit-packed `bitmap` type: SFVFS's on-disk
// format (spec.md §6) is a byte array, not a packed bitmap, so the bit
// arithmetic of the original does not apply here, only its method shape
// (checkFree/use/free/findFirstFree) does.
type groupMeta struct {
	slots []byte // length == blocksInGroup
}

// newGroupMeta builds a freshly-initialised group-meta block: every slot
// free except slot 0, which is the meta block itself and is always taken.
func newGroupMeta(blocksInGroup int) *groupMeta {
	gm := &groupMeta{slots: make([]byte, blocksInGroup)}
	gm.slots[0] = takenFlag
	return gm
}

// groupMetaFromBytes interprets a raw group-meta block's bytes.
func groupMetaFromBytes(b []byte) *groupMeta {
	slots := make([]byte, len(b))
	copy(slots, b)
	return &groupMeta{slots: slots}
}

// toBytes returns the raw bytes ready to be written back as the group's meta block.
func (gm *groupMeta) toBytes() []byte {
	b := make([]byte, len(gm.slots))
	copy(b, gm.slots)
	return b
}

func (gm *groupMeta) size() int { return len(gm.slots) }

func (gm *groupMeta) isTaken(slot int) (bool, error) {
	if slot < 0 || slot >= len(gm.slots) {
		return false, fmt.Errorf("slot %d out of range for group of size %d", slot, len(gm.slots))
	}
	return gm.slots[slot]&takenFlag == takenFlag, nil
}

func (gm *groupMeta) setTaken(slot int) error {
	if slot < 0 || slot >= len(gm.slots) {
		return fmt.Errorf("slot %d out of range for group of size %d", slot, len(gm.slots))
	}
	gm.slots[slot] = takenFlag
	return nil
}

func (gm *groupMeta) clearTaken(slot int) error {
	if slot < 0 || slot >= len(gm.slots) {
		return fmt.Errorf("slot %d out of range for group of size %d", slot, len(gm.slots))
	}
	gm.slots[slot] = 0
	return nil
}

// hasFree reports whether any slot other than slot 0 is free.
func (gm *groupMeta) hasFree() bool {
	for i := 1; i < len(gm.slots); i++ {
		if gm.slots[i]&takenFlag == 0 {
			return true
		}
	}
	return false
}

// isEmpty reports whether only slot 0 (the meta block itself) is taken.
func (gm *groupMeta) isEmpty() bool {
	for i := 1; i < len(gm.slots); i++ {
		if gm.slots[i]&takenFlag != 0 {
			return false
		}
	}
	return true
}

// findFirstFree returns the first free slot starting at cursor (wrapping,
// skipping slot 0), or -1 if the group is full.
func (gm *groupMeta) findFirstFree(cursor int) int {
	n := len(gm.slots)
	if n <= 1 {
		return -1
	}
	if cursor < 1 {
		cursor = 1
	}
	for i := 0; i < n-1; i++ {
		slot := 1 + (cursor-1+i)%(n-1)
		if gm.slots[slot]&takenFlag == 0 {
			return slot
		}
	}
	return -1
}
