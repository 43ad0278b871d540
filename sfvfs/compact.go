package sfvfs

// Compact packs live data toward the head of the container and truncates
// away any resulting trailing empty groups, preserving every logical
// address so that a Get after compaction resolves each previously mapped
// address to its moved data. Handles obtained before compaction become stale
// and fail with StaleHandleError (see block.go). Implements spec.md §4.1's
// compaction algorithm.
func (bs *BlockStore) Compact() error {
	if bs.allocatedGroups == 0 {
		bs.finishCompaction()
		return nil
	}

	// Step 1: snapshot the reverse map physical -> logical once, up front,
	// rather than re-deriving it for every block moved.
	reverse := make(map[int32]int32, bs.usedCount)
	for logical, physical := range bs.logicalToPhysical {
		if physical != 0 {
			reverse[physical] = int32(logical)
		}
	}

	startGroup := 0
	endGroup := bs.allocatedGroups - 1

	for startGroup < endGroup {
		srcMeta, err := bs.readGroupMeta(endGroup)
		if err != nil {
			return err
		}
		if srcMeta.isEmpty() {
			if err := bs.shrinkByOneGroup(); err != nil {
				return err
			}
			endGroup--
			continue
		}

		tgtMeta, err := bs.readGroupMeta(startGroup)
		if err != nil {
			return err
		}
		if !tgtMeta.hasFree() {
			startGroup++
			continue
		}
		if startGroup >= endGroup {
			break
		}

		srcSlot := -1
		for i := 1; i < srcMeta.size(); i++ {
			if taken, _ := srcMeta.isTaken(i); taken {
				srcSlot = i
				break
			}
		}
		if srcSlot < 0 {
			// Meta said non-empty but every non-zero slot reads free: treat as empty.
			continue
		}

		tgtSlot := tgtMeta.findFirstFree(1)
		if tgtSlot < 0 {
			startGroup++
			continue
		}

		srcPhysical := int32(endGroup*bs.blocksInGroup + srcSlot)
		tgtPhysical := int32(startGroup*bs.blocksInGroup + tgtSlot)

		logical, ok := reverse[srcPhysical]
		if !ok {
			return invalidStatef("orphan allocated block at physical %d has no logical address", srcPhysical)
		}

		data, err := bs.rawReadBlock(srcPhysical)
		if err != nil {
			return err
		}
		if err := bs.rawWriteBlock(tgtPhysical, data); err != nil {
			return err
		}
		if err := bs.setHeaderMapping(logical, tgtPhysical); err != nil {
			return err
		}

		if err := tgtMeta.setTaken(tgtSlot); err != nil {
			return err
		}
		if err := srcMeta.clearTaken(srcSlot); err != nil {
			return err
		}
		if err := bs.writeGroupMeta(startGroup, tgtMeta); err != nil {
			return err
		}
		if err := bs.writeGroupMeta(endGroup, srcMeta); err != nil {
			return err
		}

		delete(reverse, srcPhysical)
		reverse[tgtPhysical] = logical
	}

	// The tail group(s) may have become empty as the last blocks drained
	// out of them; shrink those off too before finishing.
	for bs.allocatedGroups > 0 {
		gm, err := bs.readGroupMeta(bs.allocatedGroups - 1)
		if err != nil {
			return err
		}
		if !gm.isEmpty() {
			break
		}
		if err := bs.shrinkByOneGroup(); err != nil {
			return err
		}
	}

	bs.finishCompaction()
	return nil
}

// finishCompaction invalidates the stale allocation caches, resets the
// cursors, and bumps the mapping version (spec.md §4.1 step 7).
func (bs *BlockStore) finishCompaction() {
	bs.caches.invalidate()
	bs.caches.groupCursor = 0
	bs.caches.addrCursor = 1
	bs.slotCursor = 1
	bs.mappingVersion++
	bs.logger.WithField("groups", bs.allocatedGroups).WithField("version", bs.mappingVersion).
		Debug("sfvfs: compaction complete")
}
