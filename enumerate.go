package dpdb

// firstKeyFrom performs the depth-first walk §4.4 "First key" describes:
// scan index-node slots 0..255 in order, bucket-list slots 0..MAX_BUCKETS-1
// in order, and return the plain key of the first non-empty bucket slot
// found. Returns (nil, nil, nil) if the subtree at offset is empty.
func (fl *file) firstKeyFrom(offset int64) (key, digest []byte, err error) {
	t, err := fl.loadTag(offset)
	if err != nil {
		return nil, nil, err
	}
	if t == nil {
		return nil, nil, nil
	}

	switch t.kind {
	case tagIndex, tagMap, tagList:
		for b := 0; b < 256; b++ {
			slot := fl.readSlot(t, byte(b))
			if slot == 0 {
				continue
			}
			k, d, err := fl.firstKeyFrom(slot)
			if err != nil {
				return nil, nil, err
			}
			if k != nil {
				return k, d, nil
			}
		}
		return nil, nil, nil
	case tagBucket:
		for slot := 0; slot < fl.cfg.MaxBuckets; slot++ {
			e := fl.readBucketEntry(t, slot)
			if e.offset == 0 {
				break
			}
			valTag, err := fl.loadTag(e.offset)
			if err != nil {
				return nil, nil, err
			}
			pk, err := fl.readPlainKey(valTag)
			if err != nil {
				return nil, nil, err
			}
			return pk, e.digest, nil
		}
		return nil, nil, nil
	default:
		return nil, nil, ErrIndexingFailed
	}
}

// nextKeyFrom implements §4.4 "Next key": re-walk to the bucket list
// holding prevDigest, return the plain key of the next non-empty slot in
// that bucket, or — if the bucket is exhausted — continue the walk
// outward from the nearest ancestor index node with an unvisited sibling
// slot.
func (fl *file) nextKeyFrom(rootTagOffset int64, prevDigest []byte) (key, digest []byte, err error) {
	type step struct {
		offset int64
		b      byte
	}
	var path []step
	offset := rootTagOffset
	var bucket *tag

	for depth := 0; depth < len(prevDigest); depth++ {
		node, err := fl.loadTag(offset)
		if err != nil {
			return nil, nil, err
		}
		if node == nil {
			return nil, nil, ErrIndexingFailed
		}
		b := prevDigest[depth]
		path = append(path, step{offset: node.offset, b: b})

		next := fl.readSlot(node, b)
		if next == 0 {
			return nil, nil, ErrIndexingFailed
		}
		child, err := fl.loadTag(next)
		if err != nil {
			return nil, nil, err
		}
		if child == nil {
			return nil, nil, ErrIndexingFailed
		}
		if child.kind == tagBucket {
			bucket = child
			break
		}
		offset = child.offset
	}
	if bucket == nil {
		return nil, nil, ErrIndexingFailed
	}

	foundAt := -1
	for slot := 0; slot < fl.cfg.MaxBuckets; slot++ {
		e := fl.readBucketEntry(bucket, slot)
		if e.offset == 0 {
			break
		}
		if bytesEqual(e.digest, prevDigest) {
			foundAt = slot
			break
		}
	}
	if foundAt == -1 {
		return nil, nil, ErrIndexingFailed
	}

	for slot := foundAt + 1; slot < fl.cfg.MaxBuckets; slot++ {
		e := fl.readBucketEntry(bucket, slot)
		if e.offset == 0 {
			break
		}
		valTag, err := fl.loadTag(e.offset)
		if err != nil {
			return nil, nil, err
		}
		pk, err := fl.readPlainKey(valTag)
		if err != nil {
			return nil, nil, err
		}
		return pk, e.digest, nil
	}

	for d := len(path) - 1; d >= 0; d-- {
		node, err := fl.loadTag(path[d].offset)
		if err != nil {
			return nil, nil, err
		}
		if node == nil {
			return nil, nil, ErrIndexingFailed
		}
		for b := int(path[d].b) + 1; b < 256; b++ {
			slot := fl.readSlot(node, byte(b))
			if slot == 0 {
				continue
			}
			k, dg, err := fl.firstKeyFrom(slot)
			if err != nil {
				return nil, nil, err
			}
			if k != nil {
				return k, dg, nil
			}
		}
	}

	return nil, nil, nil
}
