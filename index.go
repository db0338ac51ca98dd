package dpdb

// indexPathStep records one index-node slot visited while walking the
// trie: the node's payload start (nodeContent), the digest byte selecting
// the slot within it, and the byte depth of that node. A split rewrites
// the slot at nodeContent+slotByte*W to point at a fresh I node.
type indexPathStep struct {
	nodeContent int64
	slotByte    byte
	depth       int
}

func (s indexPathStep) slotAddr(cfg Config) int64 {
	return s.nodeContent + int64(s.slotByte)*int64(cfg.OffsetWidth)
}

// bucketPath is the result of walking the digest trie: the bucket list
// reached (nil if the walk hit a zero slot before finding one), and the
// path of index-node slots walked to get there. When bucket is nil, the
// last path entry is exactly the zero slot that stopped the walk.
type bucketPath struct {
	bucket *tag
	path   []indexPathStep
}

func (fl *file) readSlot(node *tag, b byte) int64 {
	off := int(b) * fl.cfg.OffsetWidth
	return fl.cfg.unpackW(node.payload[off : off+fl.cfg.OffsetWidth])
}

func (fl *file) writeSlot(nodeContentOffset int64, b byte, value int64) error {
	addr := nodeContentOffset + int64(b)*int64(fl.cfg.OffsetWidth)
	_, err := fl.f.WriteAt(fl.cfg.packW(value), addr)
	return err
}

// findBucketList walks the trie from rootTagOffset for the given digest,
// stopping at the first B tag reached, or at the first zero slot.
func (fl *file) findBucketList(rootTagOffset int64, digest []byte) (*bucketPath, error) {
	var path []indexPathStep
	offset := rootTagOffset

	for depth := 0; depth < len(digest); depth++ {
		node, err := fl.loadTag(offset)
		if err != nil {
			return nil, err
		}
		if node == nil {
			return nil, ErrIndexingFailed
		}

		b := digest[depth]
		path = append(path, indexPathStep{nodeContent: node.contentOffset, slotByte: b, depth: depth})

		next := fl.readSlot(node, b)
		if next == 0 {
			return &bucketPath{path: path}, nil
		}

		child, err := fl.loadTag(next)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, ErrIndexingFailed
		}
		if child.kind == tagBucket {
			return &bucketPath{bucket: child, path: path}, nil
		}
		if child.kind != tagIndex {
			return nil, ErrIndexingFailed
		}
		offset = child.offset
	}

	// Digest exhausted without hitting a zero slot or a bucket: every slot
	// along the way pointed to another index node forever, which cannot
	// happen for a well-formed file (invariant 1).
	return nil, ErrIndexingFailed
}

// materializeBucketList creates a fresh B directly at the zero slot the
// walk stopped on (insert never creates intermediate I nodes; only split
// does). Returns the new empty bucket list tag.
func (fl *file) materializeBucketList(bp *bucketPath) (*tag, error) {
	if len(bp.path) == 0 {
		return nil, ErrIndexingFailed
	}
	last := bp.path[len(bp.path)-1]

	bucket, err := fl.createTag(fl.end, tagBucket, make([]byte, fl.cfg.bucketListSize()))
	if err != nil {
		return nil, err
	}
	if err := fl.writeSlot(last.nodeContent, last.slotByte, bucket.offset); err != nil {
		return nil, err
	}
	return bucket, nil
}
