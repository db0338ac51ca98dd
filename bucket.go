package dpdb

import "fmt"

// bucketEntryWidth is the byte size of one (digest, offset) slot.
func (cfg Config) bucketEntryWidth() int {
	return cfg.HashSize + cfg.OffsetWidth
}

type bucketEntry struct {
	digest []byte
	offset int64
}

func (fl *file) readBucketEntry(bucket *tag, slot int) bucketEntry {
	w := fl.cfg.bucketEntryWidth()
	start := slot * w
	raw := bucket.payload[start : start+w]
	digest := make([]byte, fl.cfg.HashSize)
	copy(digest, raw[:fl.cfg.HashSize])
	return bucketEntry{
		digest: digest,
		offset: fl.cfg.unpackW(raw[fl.cfg.HashSize:]),
	}
}

func (fl *file) writeBucketEntry(contentOffset int64, slot int, digest []byte, offset int64) error {
	w := fl.cfg.bucketEntryWidth()
	buf := make([]byte, w)
	copy(buf, digest)
	copy(buf[fl.cfg.HashSize:], fl.cfg.packW(offset))
	_, err := fl.f.WriteAt(buf, contentOffset+int64(slot)*int64(w))
	return err
}

// addResult describes where add_bucket decided to land a value record.
type addResult struct {
	Inserted     bool
	TargetOffset int64
	OldValue     *tag // set only on replace: the value record the slot pointed at before
}

// addBucket implements §4.3 Add: scan bucket's slots for an empty slot or a
// digest match; split if the scan falls off the end. newPayloadLen and
// isComposite let the in-place-reuse decision be made without the caller
// having encoded the value yet.
func (fl *file) addBucket(bucket *tag, parent indexPathStep, digest []byte, newPayloadLen int, isComposite bool) (*addResult, error) {
	maxB := fl.cfg.MaxBuckets
	for slot := 0; slot < maxB; slot++ {
		entry := fl.readBucketEntry(bucket, slot)
		if entry.offset == 0 {
			target := fl.end
			if err := fl.writeBucketEntry(bucket.contentOffset, slot, digest, target); err != nil {
				return nil, err
			}
			return &addResult{Inserted: true, TargetOffset: target}, nil
		}
		if bytesEqual(entry.digest, digest) {
			old, err := fl.loadTag(entry.offset)
			if err != nil {
				return nil, err
			}
			if old == nil {
				return nil, ErrIndexingFailed
			}
			minOldSize := len(old.payload)
			reuse := false
			if isComposite {
				reuse = minOldSize >= newPayloadLen
			} else {
				reuse = newPayloadLen <= minOldSize
			}
			target := entry.offset
			if !reuse {
				target = fl.end
				if err := fl.writeBucketEntry(bucket.contentOffset, slot, digest, target); err != nil {
					return nil, err
				}
			}
			return &addResult{Inserted: false, TargetOffset: target, OldValue: old}, nil
		}
	}

	// Bucket full, no match: split.
	return fl.splitBucket(bucket, parent, digest, 0)
}

// addBucketAlias binds digest's bucket slot directly to targetOffset, the
// tag offset of an existing composite, instead of reserving space for a new
// record. It implements the cyclic-reference / self-loop insert path
// (§9): the slot's offset is written unconditionally, since there is no new
// payload whose size the in-place-reuse decision in addBucket depends on.
func (fl *file) addBucketAlias(bucket *tag, parent indexPathStep, digest []byte, targetOffset int64) (*addResult, error) {
	maxB := fl.cfg.MaxBuckets
	for slot := 0; slot < maxB; slot++ {
		entry := fl.readBucketEntry(bucket, slot)
		if entry.offset == 0 {
			if err := fl.writeBucketEntry(bucket.contentOffset, slot, digest, targetOffset); err != nil {
				return nil, err
			}
			return &addResult{Inserted: true, TargetOffset: targetOffset}, nil
		}
		if bytesEqual(entry.digest, digest) {
			old, err := fl.loadTag(entry.offset)
			if err != nil {
				return nil, err
			}
			if err := fl.writeBucketEntry(bucket.contentOffset, slot, digest, targetOffset); err != nil {
				return nil, err
			}
			return &addResult{Inserted: false, TargetOffset: targetOffset, OldValue: old}, nil
		}
	}

	return fl.splitBucket(bucket, parent, digest, targetOffset)
}

// splitBucket implements §4.3 Split: peel one more digest byte, redistribute
// the bucket's MAX_BUCKETS entries plus the new one into up to 256 fresh
// sub-buckets hung off a new index node that replaces the old bucket in its
// parent's slot. newOffset is the new entry's bucket-slot offset; 0 means
// "not yet known, resolve to the file's end at write time" (the normal
// fresh-record insert), any other value is used as-is (the alias insert
// path, where the offset is already a known existing tag).
func (fl *file) splitBucket(bucket *tag, parent indexPathStep, digest []byte, newOffset int64) (*addResult, error) {
	ch := parent.depth
	if ch+1 >= len(digest) {
		return nil, ErrIndexingFailed
	}

	newIndex, err := fl.createTag(fl.end, tagIndex, make([]byte, fl.cfg.indexNodeSize()))
	if err != nil {
		return nil, err
	}
	if err := fl.writeSlot(parent.nodeContent, parent.slotByte, newIndex.offset); err != nil {
		return nil, err
	}

	entries := make([]bucketEntry, 0, fl.cfg.MaxBuckets+1)
	for slot := 0; slot < fl.cfg.MaxBuckets; slot++ {
		e := fl.readBucketEntry(bucket, slot)
		if e.offset == 0 {
			break
		}
		entries = append(entries, e)
	}
	entries = append(entries, bucketEntry{digest: digest, offset: newOffset})

	subBucket := map[byte]*tag{}
	subCount := map[byte]int{}

	var targetOffset int64
	for i, e := range entries {
		b := e.digest[ch+1]
		isNewEntry := i == len(entries)-1

		sb, ok := subBucket[b]
		if !ok {
			sb, err = fl.createTag(fl.end, tagBucket, make([]byte, fl.cfg.bucketListSize()))
			if err != nil {
				return nil, err
			}
			if err := fl.writeSlot(newIndex.contentOffset, b, sb.offset); err != nil {
				return nil, err
			}
			subBucket[b] = sb
		}

		count := subCount[b]
		if count >= fl.cfg.MaxBuckets {
			return nil, fmt.Errorf("%w: sub-bucket for byte %d overflowed", ErrIndexingFailed, b)
		}

		offsetToUse := e.offset
		if isNewEntry {
			if offsetToUse == 0 {
				offsetToUse = fl.end
			}
			targetOffset = offsetToUse
		}
		if err := fl.writeBucketEntry(sb.contentOffset, count, e.digest, offsetToUse); err != nil {
			return nil, err
		}
		subCount[b] = count + 1
	}

	return &addResult{Inserted: true, TargetOffset: targetOffset}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// getBucketValue implements §4.3 Lookup: linear scan until digest matches
// (return its value tag) or an empty slot is hit (absent).
func (fl *file) getBucketValue(bucket *tag, digest []byte) (*tag, error) {
	for slot := 0; slot < fl.cfg.MaxBuckets; slot++ {
		e := fl.readBucketEntry(bucket, slot)
		if e.offset == 0 {
			return nil, nil
		}
		if bytesEqual(e.digest, digest) {
			return fl.loadTag(e.offset)
		}
	}
	return nil, nil
}

// deleteBucket implements §4.3 Delete: on match, shift subsequent slots one
// position left and zero the vacated tail slot. The value record itself is
// left untouched; its space is reclaimed only by compaction.
func (fl *file) deleteBucket(bucket *tag, digest []byte) (bool, error) {
	maxB := fl.cfg.MaxBuckets
	matchSlot := -1
	lastFilled := -1
	for slot := 0; slot < maxB; slot++ {
		e := fl.readBucketEntry(bucket, slot)
		if e.offset == 0 {
			break
		}
		lastFilled = slot
		if matchSlot == -1 && bytesEqual(e.digest, digest) {
			matchSlot = slot
		}
	}
	if matchSlot == -1 {
		return false, nil
	}

	for slot := matchSlot; slot < lastFilled; slot++ {
		next := fl.readBucketEntry(bucket, slot+1)
		if err := fl.writeBucketEntry(bucket.contentOffset, slot, next.digest, next.offset); err != nil {
			return false, err
		}
	}
	zero := make([]byte, fl.cfg.HashSize)
	if err := fl.writeBucketEntry(bucket.contentOffset, lastFilled, zero, 0); err != nil {
		return false, err
	}
	return true, nil
}
