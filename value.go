package dpdb

import "fmt"

// reservedLengthKey is the literal list-length entry key (§4.5).
const reservedLengthKey = "length"

// valueKindOf classifies a caller-supplied value into its on-disk tag kind.
// Foreign kinds (anything but []byte, nil, map[string]any, []any) are
// rejected with ErrStoreRejectedUnsupportedType at the call boundary.
func valueKindOf(v any) (byte, error) {
	switch v.(type) {
	case nil:
		return tagNull, nil
	case []byte:
		return tagData, nil
	case map[string]any:
		return tagMap, nil
	case []any:
		return tagList, nil
	default:
		return 0, ErrStoreRejectedUnsupportedType
	}
}

// encodeScalarPayload optionally zstd-compresses a scalar payload. It is
// the storage engine's own concern (not a schema change): the wire format
// of the D tag is unaffected, only the bytes it carries.
func (fl *file) encodeScalarPayload(raw []byte) ([]byte, error) {
	if !fl.compress || len(raw) == 0 {
		return raw, nil
	}
	return compressBytes(raw), nil
}

func (fl *file) decodeScalarPayload(stored []byte) ([]byte, error) {
	if !fl.compress || len(stored) == 0 {
		return stored, nil
	}
	out, err := decompressBytes(stored)
	if err != nil {
		// Payloads written before Compress was enabled, or by a peer with
		// it disabled, are stored uncompressed; fall back to raw bytes.
		return stored, nil
	}
	return out, nil
}

// storeRaw implements the public insert path (§4.2-§4.4) for one key/value
// pair at the trie rooted at rootTagOffset: walk/materialize the bucket
// list, run add_bucket (which may split), then write the value record at
// the settled target offset. It never recurses into a composite's seed
// data; callers drive that iteratively (see Handle.seedComposite in session.go).
func (fl *file) storeRaw(rootTagOffset int64, digestFn DigestFunc, plainKey []byte, kind byte, payload []byte) (inserted bool, target int64, err error) {
	digest := digestFn(plainKey)
	if len(digest) != fl.cfg.HashSize {
		return false, 0, fmt.Errorf("dpdb: digest function returned %d bytes, want %d", len(digest), fl.cfg.HashSize)
	}

	bp, err := fl.findBucketList(rootTagOffset, digest)
	if err != nil {
		return false, 0, err
	}
	if bp.bucket == nil {
		bp.bucket, err = fl.materializeBucketList(bp)
		if err != nil {
			return false, 0, err
		}
	}

	isComposite := kind == tagMap || kind == tagList
	newPayloadLen := len(payload)
	parent := bp.path[len(bp.path)-1]

	res, err := fl.addBucket(bp.bucket, parent, digest, newPayloadLen, isComposite)
	if err != nil {
		return false, 0, err
	}

	if _, err := fl.writeValueAt(res.TargetOffset, kind, payload, plainKey); err != nil {
		return false, 0, err
	}
	return res.Inserted, res.TargetOffset, nil
}

// storeAlias binds plainKey's bucket slot directly to targetOffset, an
// already-existing composite's tag offset, rather than writing a new value
// record. It is the insert path for §9's cyclic references: a handle
// re-inserted under one of its own descendants produces a bucket slot whose
// offset equals the composite's own root tag offset, a true on-disk
// self-loop that `fetchValue` resolves in one hop.
func (fl *file) storeAlias(rootTagOffset int64, digestFn DigestFunc, plainKey []byte, targetOffset int64) (inserted bool, err error) {
	digest := digestFn(plainKey)
	if len(digest) != fl.cfg.HashSize {
		return false, fmt.Errorf("dpdb: digest function returned %d bytes, want %d", len(digest), fl.cfg.HashSize)
	}

	bp, err := fl.findBucketList(rootTagOffset, digest)
	if err != nil {
		return false, err
	}
	if bp.bucket == nil {
		bp.bucket, err = fl.materializeBucketList(bp)
		if err != nil {
			return false, err
		}
	}

	parent := bp.path[len(bp.path)-1]
	res, err := fl.addBucketAlias(bp.bucket, parent, digest, targetOffset)
	if err != nil {
		return false, err
	}
	return res.Inserted, nil
}

// writeValueAt writes one value record (tag + plain-key trailer) at offset,
// per §4.4. The trailer's file-growth bookkeeping piggybacks on createTag's
// own append/in-place detection: end only advances when offset was already
// the file's end before this call.
func (fl *file) writeValueAt(offset int64, kind byte, payload []byte, plainKey []byte) (*tag, error) {
	wasAppend := offset == fl.end

	t, err := fl.createTag(offset, kind, payload)
	if err != nil {
		return nil, err
	}

	trailerOffset := t.contentOffset + int64(len(payload))
	trailer := make([]byte, fl.cfg.OffsetWidth+len(plainKey))
	copy(trailer, fl.cfg.packW(int64(len(plainKey))))
	copy(trailer[fl.cfg.OffsetWidth:], plainKey)

	if _, err := fl.f.WriteAt(trailer, trailerOffset); err != nil {
		return nil, fmt.Errorf("dpdb: write key trailer at %d: %w", trailerOffset, err)
	}
	if wasAppend {
		fl.end = trailerOffset + int64(len(trailer))
	}

	return t, nil
}

// readPlainKey reads the plain-key trailer that follows a value tag's payload.
func (fl *file) readPlainKey(t *tag) ([]byte, error) {
	lenBuf := make([]byte, fl.cfg.OffsetWidth)
	trailerOffset := t.contentOffset + int64(len(t.payload))
	if _, err := fl.f.ReadAt(lenBuf, trailerOffset); err != nil {
		return nil, fmt.Errorf("dpdb: read key length at %d: %w", trailerOffset, err)
	}
	n := fl.cfg.unpackW(lenBuf)
	key := make([]byte, n)
	if n > 0 {
		if _, err := fl.f.ReadAt(key, trailerOffset+int64(len(lenBuf))); err != nil {
			return nil, fmt.Errorf("dpdb: read key bytes at %d: %w", trailerOffset, err)
		}
	}
	return key, nil
}

// fetchValue walks the trie for key and returns the value tag found, or
// nil if absent.
func (fl *file) fetchValue(rootTagOffset int64, digestFn DigestFunc, key []byte) (*tag, error) {
	digest := digestFn(key)
	bp, err := fl.findBucketList(rootTagOffset, digest)
	if err != nil {
		return nil, err
	}
	if bp.bucket == nil {
		return nil, nil
	}
	return fl.getBucketValue(bp.bucket, digest)
}

// deleteValue removes the bucket slot for key, returning the value tag
// that was live there (so callers can return its value) and whether
// anything was deleted. The value record bytes are left in place.
func (fl *file) deleteValue(rootTagOffset int64, digestFn DigestFunc, key []byte) (*tag, bool, error) {
	digest := digestFn(key)
	bp, err := fl.findBucketList(rootTagOffset, digest)
	if err != nil {
		return nil, false, err
	}
	if bp.bucket == nil {
		return nil, false, nil
	}
	old, err := fl.getBucketValue(bp.bucket, digest)
	if err != nil || old == nil {
		return nil, false, err
	}
	ok, err := fl.deleteBucket(bp.bucket, digest)
	if err != nil {
		return nil, false, err
	}
	return old, ok, nil
}
