package dpdb

import (
	"fmt"
	"os"
)

// Optimize compacts the file: requires handle count == 1, then rebuilds a
// sibling "<path>.tmp" file by walking every reachable entry through the
// public insert path (the same storeRaw machinery Put uses),
// and atomically renames it over the original (§4.6).
func (h *Handle) Optimize() error {
	if err := h.checkWritable(); err != nil {
		return h.root.recordErr(err)
	}
	if h.root.handles > 1 {
		return h.root.recordErr(ErrOptimizeBusy)
	}

	unlock, err := h.lockFor(LockExclusive)
	if err != nil {
		return err
	}
	defer unlock()

	tmpPath := h.root.path + ".tmp"
	tmpHandle, err := Open(Options{
		Path: tmpPath,
		Type: h.root.fl.rootKindAt(h.offset),
		Config: Config{
			OffsetWidth: h.root.cfg.OffsetWidth,
			DigestFunc:  h.root.cfg.DigestFunc,
			HashSize:    h.root.cfg.HashSize,
			MaxBuckets:  h.root.cfg.MaxBuckets,
		},
		Compress: h.root.fl.compress,
	})
	if err != nil {
		return h.root.recordErr(fmt.Errorf("dpdb: optimize: open temp file: %w", err))
	}

	if err := copyReachable(h, tmpHandle); err != nil {
		tmpHandle.Close()
		os.Remove(tmpPath)
		return h.root.recordErr(err)
	}
	if err := tmpHandle.Close(); err != nil {
		os.Remove(tmpPath)
		return h.root.recordErr(fmt.Errorf("dpdb: optimize: close temp file: %w", err))
	}

	if err := h.root.fl.close(); err != nil {
		os.Remove(tmpPath)
		return h.root.recordErr(fmt.Errorf("dpdb: optimize: close original: %w", err))
	}
	if err := os.Rename(tmpPath, h.root.path); err != nil {
		return h.root.recordErr(fmt.Errorf("%w: %v", ErrOptimizeRenameFailed, err))
	}

	fl, rootKind, err := openFile(h.root.path, h.root.cfg, 0, false)
	if err != nil {
		return h.root.recordErr(err)
	}
	fl.compress = h.root.fl.compress
	h.root.fl = fl
	h.root.lock = newFileLock(int(fl.f.Fd()))
	h.root.lockState.fl = h.root.lock
	h.kind = rootKind

	return nil
}

// copyJob is one unit of work in the iterative compaction walk: copy
// every live binding reachable from src into the composite rooted at dst.
// An explicit worklist, rather than recursive calls, keeps stack depth
// bounded on deeply nested trees (§9).
type copyJob struct {
	src *Handle
	dst *Handle
}

// copyReachable re-inserts every live binding of src into dst via the public
// insert path: a map is walked in digest enumeration order, a list by index
// 0..length-1, after which dst's length entry is set.
func copyReachable(src, dst *Handle) error {
	stack := []copyJob{{src, dst}}

	for len(stack) > 0 {
		job := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if job.src.kind == KindList {
			n, err := job.src.root.fl.listLength(job.src.offset, job.src.root.cfg.DigestFunc)
			if err != nil {
				return err
			}
			for i := int64(0); i < n; i++ {
				t, err := job.src.root.fl.listFetchAt(job.src.offset, job.src.root.cfg.DigestFunc, i)
				if err != nil {
					return err
				}
				if t == nil {
					continue
				}
				if err := copyOneEntry(job.src, job.dst, job.dst.root.cfg.packIndex(i), t, &stack); err != nil {
					return err
				}
			}
			if err := job.dst.root.fl.setListLength(job.dst.offset, job.dst.root.cfg.DigestFunc, n); err != nil {
				return err
			}
			continue
		}

		key, _, err := job.src.root.fl.firstKeyFrom(job.src.offset)
		if err != nil {
			return err
		}
		for key != nil {
			t, err := job.src.root.fl.fetchValue(job.src.offset, job.src.root.cfg.DigestFunc, key)
			if err != nil {
				return err
			}
			if t != nil {
				if err := copyOneEntry(job.src, job.dst, key, t, &stack); err != nil {
					return err
				}
			}
			digest := job.src.root.cfg.DigestFunc(key)
			key, _, err = job.src.root.fl.nextKeyFrom(job.src.offset, digest)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// copyOneEntry writes one value record into dst at key. If it is a
// composite, it also pushes a job onto stack so its children are walked
// and copied from the matching child composite in src.
func copyOneEntry(src, dst *Handle, key []byte, t *tag, stack *[]copyJob) error {
	switch t.kind {
	case tagData, tagNull:
		_, _, err := dst.root.fl.storeRaw(dst.offset, dst.root.cfg.DigestFunc, key, t.kind, t.payload)
		return err
	case tagMap, tagList:
		_, target, err := dst.root.fl.storeRaw(dst.offset, dst.root.cfg.DigestFunc, key, t.kind, make([]byte, dst.root.cfg.indexNodeSize()))
		if err != nil {
			return err
		}
		srcChild := &Handle{root: src.root, offset: t.offset, kind: RootKind(t.kind)}
		dstChild := &Handle{root: dst.root, offset: target, kind: RootKind(t.kind)}
		*stack = append(*stack, copyJob{srcChild, dstChild})
		return nil
	default:
		return ErrIndexingFailed
	}
}

// rootKindAt reports the tag kind at offset, used by Optimize to mirror
// the source root's map/list type into the compacted file.
func (fl *file) rootKindAt(offset int64) RootKind {
	t, err := fl.loadTag(offset)
	if err != nil || t == nil {
		return KindMap
	}
	return RootKind(t.kind)
}
