package dpdb

import (
	"fmt"

	"github.com/jptalukdar/dpdb/internal/logger"
)

// Root is the shared open-file record behind every Handle pointing into
// the same file: the open file, the end-of-file offset, mode flags,
// filters, and a reference count of live handles (§4.6).
type Root struct {
	path      string
	fl        *file
	cfg       Config
	lock      *fileLock
	lockState lockState
	filters   filterSet

	locking   bool
	autoflush bool
	volatile  bool
	debug     bool
	readOnly  bool

	handles int
	lastErr error
}

// Handle is a client-facing reference to a composite rooted at some
// absolute file offset, sharing a Root with every other handle on the
// same file (§3 Logical entities).
type Handle struct {
	root   *Root
	offset int64 // offset of this composite's own H/A tag
	kind   RootKind
	closed bool
}

// Open opens or creates a dpdb file per opts, returning a handle to its
// root composite.
func Open(opts Options) (*Handle, error) {
	cfg := opts.Config.normalize()

	fl, rootKind, err := openFile(opts.Path, cfg, opts.Type, opts.ReadOnly)
	if err != nil {
		if opts.Debug {
			logger.Error("%v", err)
		}
		return nil, err
	}
	fl.compress = opts.Compress

	root := &Root{
		path: opts.Path,
		fl:   fl,
		cfg:  cfg,
		lock: newFileLock(int(fl.f.Fd())),
		filters: filterSet{
			storeKey:   opts.StoreKey,
			storeValue: opts.StoreValue,
			fetchKey:   opts.FetchKey,
			fetchValue: opts.FetchValue,
		},
		locking:   opts.Locking,
		autoflush: opts.Autoflush,
		volatile:  opts.Volatile,
		debug:     opts.Debug,
		readOnly:  opts.ReadOnly,
		handles:   1,
	}
	root.lockState.fl = root.lock

	return &Handle{root: root, offset: rootOffset, kind: rootKind}, nil
}

func (r *Root) recordErr(err error) error {
	if err == nil {
		return nil
	}
	r.lastErr = err
	if r.debug {
		logger.Error("%v", err)
	}
	return err
}

// Err returns the last error parked on this handle's Root.
func (h *Handle) Err() error { return h.root.lastErr }

// ClearErr clears the last error parked on this handle's Root.
func (h *Handle) ClearErr() { h.root.lastErr = nil }

// Type reports whether this composite is a map or a list.
func (h *Handle) Type() RootKind { return h.kind }

// HandleToFile returns the path of the file this handle is open against.
func (h *Handle) HandleToFile() string { return h.root.path }

func (h *Handle) refreshEnd() error {
	if h.root.locking || h.root.volatile || h.root.autoflush {
		return h.root.fl.restat()
	}
	return nil
}

// maybeFlush fsyncs the underlying file when Autoflush is set, after a
// write completes (§6 Options.Autoflush).
func (h *Handle) maybeFlush() error {
	if !h.root.autoflush {
		return nil
	}
	return h.root.fl.sync()
}

// lockFor takes the lock a public operation needs. For an exclusive (write)
// lock it also re-stats the file when Locking, Volatile or Autoflush is set,
// so every write sees another process's appends.
func (h *Handle) lockFor(mode LockMode) (func(), error) {
	release := func() {}
	if h.root.locking {
		if err := h.root.lockState.acquire(mode); err != nil {
			return nil, h.root.recordErr(err)
		}
		release = func() { h.root.lockState.release() }
	}
	if mode == LockExclusive {
		if err := h.refreshEnd(); err != nil {
			release()
			return nil, h.root.recordErr(err)
		}
	}
	return release, nil
}

// Lock acquires an advisory lock in the given mode. Reentrant: nested
// calls on the same handle only increment a depth counter.
func (h *Handle) Lock(mode LockMode) error {
	if !h.root.locking {
		return nil
	}
	return h.root.recordErr(h.root.lockState.acquire(mode))
}

// Unlock releases one level of a Lock call.
func (h *Handle) Unlock() error {
	if !h.root.locking {
		return nil
	}
	return h.root.recordErr(h.root.lockState.release())
}

func (h *Handle) checkClosed() error {
	if h.closed {
		return h.root.recordErr(ErrClosed)
	}
	return nil
}

func (h *Handle) checkWritable() error {
	if h.root.readOnly {
		return fmt.Errorf("%w: file opened read-only", ErrCannotOpen)
	}
	return nil
}

// Put stores value under key, returning true if this created a new
// binding and false if it replaced an existing one.
func (h *Handle) Put(key []byte, value any) (bool, error) {
	if err := h.checkClosed(); err != nil {
		return false, err
	}
	if err := h.checkWritable(); err != nil {
		return false, h.root.recordErr(err)
	}

	if target, ok := value.(*Handle); ok {
		return h.putAlias(key, target)
	}

	kind, err := valueKindOf(value)
	if err != nil {
		return false, h.root.recordErr(err)
	}

	unlock, err := h.lockFor(LockExclusive)
	if err != nil {
		return false, err
	}
	defer unlock()
	if err := h.refreshEnd(); err != nil {
		return false, h.root.recordErr(err)
	}

	storeKey := key
	if h.kind == KindMap && string(key) != reservedLengthKey {
		storeKey = h.root.filters.applyStoreKey(key)
	}

	switch kind {
	case tagData:
		payload := h.root.filters.applyStoreValue(value.([]byte))
		payload, err := h.root.fl.encodeScalarPayload(payload)
		if err != nil {
			return false, h.root.recordErr(err)
		}
		inserted, _, err := h.root.fl.storeRaw(h.offset, h.root.cfg.DigestFunc, storeKey, tagData, payload)
		if err != nil {
			return false, h.root.recordErr(err)
		}
		return inserted, h.root.recordErr(h.maybeFlush())
	case tagNull:
		inserted, _, err := h.root.fl.storeRaw(h.offset, h.root.cfg.DigestFunc, storeKey, tagNull, nil)
		if err != nil {
			return false, h.root.recordErr(err)
		}
		return inserted, h.root.recordErr(h.maybeFlush())
	default:
		inserted, err := h.seedComposite(h.offset, storeKey, value)
		if err != nil {
			return false, h.root.recordErr(err)
		}
		return inserted, h.root.recordErr(h.maybeFlush())
	}
}

// putAlias implements Put's cyclic-reference path (§9): storing an
// existing *Handle binds key's bucket slot directly to that handle's tag
// offset rather than seeding a new composite, creating a true on-disk
// self-loop when target is an ancestor (or h itself). A handle from a
// different open Root cannot be reduced to an offset in this file, so it
// is rejected with ErrStoreRejectedTiedValue instead.
func (h *Handle) putAlias(key []byte, target *Handle) (bool, error) {
	if target.root != h.root {
		return false, h.root.recordErr(ErrStoreRejectedTiedValue)
	}

	unlock, err := h.lockFor(LockExclusive)
	if err != nil {
		return false, err
	}
	defer unlock()
	if err := h.refreshEnd(); err != nil {
		return false, h.root.recordErr(err)
	}

	storeKey := key
	if h.kind == KindMap && string(key) != reservedLengthKey {
		storeKey = h.root.filters.applyStoreKey(key)
	}

	inserted, err := h.root.fl.storeAlias(h.offset, h.root.cfg.DigestFunc, storeKey, target.offset)
	if err != nil {
		return false, h.root.recordErr(err)
	}
	return inserted, h.root.recordErr(h.maybeFlush())
}

// seedJob is one unit of work in the iterative composite-seeding
// worklist: write value (a scalar, null, or nested map/list) under key
// within the composite rooted at rootOffset. Using an explicit stack
// instead of recursive calls bounds stack depth on deeply nested trees
// (§9).
type seedJob struct {
	rootOffset int64
	key        []byte
	value      any
}

func (h *Handle) seedComposite(rootOffset int64, key []byte, value any) (bool, error) {
	fl := h.root.fl
	digestFn := h.root.cfg.DigestFunc

	var firstInserted bool
	var firstDone bool

	stack := []seedJob{{rootOffset, key, value}}
	for len(stack) > 0 {
		job := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if target, ok := job.value.(*Handle); ok {
			if target.root != h.root {
				return false, ErrStoreRejectedTiedValue
			}
			inserted, err := fl.storeAlias(job.rootOffset, digestFn, job.key, target.offset)
			if err != nil {
				return false, err
			}
			if !firstDone {
				firstInserted, firstDone = inserted, true
			}
			continue
		}

		k, err := valueKindOf(job.value)
		if err != nil {
			return false, err
		}

		switch k {
		case tagData:
			payload := h.root.filters.applyStoreValue(job.value.([]byte))
			payload, err := fl.encodeScalarPayload(payload)
			if err != nil {
				return false, err
			}
			inserted, _, err := fl.storeRaw(job.rootOffset, digestFn, job.key, tagData, payload)
			if err != nil {
				return false, err
			}
			if !firstDone {
				firstInserted, firstDone = inserted, true
			}
		case tagNull:
			inserted, _, err := fl.storeRaw(job.rootOffset, digestFn, job.key, tagNull, nil)
			if err != nil {
				return false, err
			}
			if !firstDone {
				firstInserted, firstDone = inserted, true
			}
		case tagMap, tagList:
			inserted, target, err := fl.storeRaw(job.rootOffset, digestFn, job.key, k, make([]byte, fl.cfg.indexNodeSize()))
			if err != nil {
				return false, err
			}
			if !firstDone {
				firstInserted, firstDone = inserted, true
			}
			switch seed := job.value.(type) {
			case map[string]any:
				for ck, cv := range seed {
					childKey := []byte(ck)
					if ck != reservedLengthKey {
						childKey = h.root.filters.applyStoreKey(childKey)
					}
					stack = append(stack, seedJob{target, childKey, cv})
				}
			case []any:
				for i, cv := range seed {
					stack = append(stack, seedJob{target, fl.cfg.packIndex(int64(i)), cv})
				}
				if err := fl.setListLength(target, digestFn, int64(len(seed))); err != nil {
					return false, err
				}
			}
		}
	}

	return firstInserted, nil
}

// Get fetches the value stored under key, or (nil, false) if absent.
func (h *Handle) Get(key []byte) (any, bool, error) {
	if err := h.checkClosed(); err != nil {
		return nil, false, err
	}

	unlock, err := h.lockFor(LockShared)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	// The lookup digest must be computed the same way Put computed the
	// store digest (applyStoreKey), not applyFetchKey — FetchKey only
	// decodes plain keys already recovered via FirstKey/NextKey.
	lookupKey := key
	if h.kind == KindMap && string(key) != reservedLengthKey {
		lookupKey = h.root.filters.applyStoreKey(key)
	}

	t, err := h.root.fl.fetchValue(h.offset, h.root.cfg.DigestFunc, lookupKey)
	if err != nil {
		return nil, false, h.root.recordErr(err)
	}
	if t == nil {
		return nil, false, nil
	}

	v, err := h.valueFromTag(t)
	if err != nil {
		return nil, false, h.root.recordErr(err)
	}
	return v, true, nil
}

func (h *Handle) valueFromTag(t *tag) (any, error) {
	switch t.kind {
	case tagNull:
		return nil, nil
	case tagData:
		raw, err := h.root.fl.decodeScalarPayload(t.payload)
		if err != nil {
			return nil, err
		}
		return h.root.filters.applyFetchValue(raw), nil
	case tagMap, tagList:
		return &Handle{root: h.root, offset: t.offset, kind: RootKind(t.kind)}, nil
	default:
		return nil, ErrIndexingFailed
	}
}

// Exists reports whether key has a live binding.
func (h *Handle) Exists(key []byte) (bool, error) {
	_, ok, err := h.Get(key)
	return ok, err
}

// Delete removes key's binding, returning the value that was live there.
func (h *Handle) Delete(key []byte) (any, bool, error) {
	if err := h.checkClosed(); err != nil {
		return nil, false, err
	}
	if err := h.checkWritable(); err != nil {
		return nil, false, h.root.recordErr(err)
	}

	unlock, err := h.lockFor(LockExclusive)
	if err != nil {
		return nil, false, err
	}
	defer unlock()
	if err := h.refreshEnd(); err != nil {
		return nil, false, h.root.recordErr(err)
	}

	deleteKey := key
	if h.kind == KindMap && string(key) != reservedLengthKey {
		deleteKey = h.root.filters.applyStoreKey(key)
	}

	old, ok, err := h.root.fl.deleteValue(h.offset, h.root.cfg.DigestFunc, deleteKey)
	if err != nil {
		return nil, false, h.root.recordErr(err)
	}
	if !ok {
		return nil, false, nil
	}
	v, err := h.valueFromTag(old)
	if err != nil {
		return nil, false, h.root.recordErr(err)
	}
	return v, true, h.root.recordErr(h.maybeFlush())
}

// Clear empties this composite's index, discarding every binding. On a
// never-written composite (a brand-new file's root) this always succeeds,
// per the decision recorded in DESIGN.md.
func (h *Handle) Clear() error {
	if err := h.checkClosed(); err != nil {
		return err
	}
	if err := h.checkWritable(); err != nil {
		return h.root.recordErr(err)
	}

	unlock, err := h.lockFor(LockExclusive)
	if err != nil {
		return err
	}
	defer unlock()

	zero := make([]byte, h.root.cfg.indexNodeSize())
	if _, err := h.root.fl.f.WriteAt(zero, h.rootContentOffset()); err != nil {
		return h.root.recordErr(fmt.Errorf("dpdb: clear: %w", err))
	}
	return h.root.recordErr(h.maybeFlush())
}

func (h *Handle) rootContentOffset() int64 {
	return h.offset + int64(h.root.cfg.tagHeaderSize())
}

// Clone returns a new handle aimed at the same composite, sharing the
// same Root and incrementing its handle count.
func (h *Handle) Clone() *Handle {
	h.root.handles++
	return &Handle{root: h.root, offset: h.offset, kind: h.kind}
}

// Close releases this handle; when the last handle on a Root goes away
// the underlying file is closed.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.root.handles--
	if h.root.handles <= 0 {
		return h.root.fl.close()
	}
	return nil
}

// FirstKey returns the lexicographically-first key (by digest order) of
// this map, or (nil, false) if empty. Map-only.
func (h *Handle) FirstKey() ([]byte, bool, error) {
	if h.kind != KindMap {
		return nil, false, h.root.recordErr(ErrWrongKind)
	}
	unlock, err := h.lockFor(LockShared)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	key, _, err := h.root.fl.firstKeyFrom(h.offset)
	if err != nil {
		return nil, false, h.root.recordErr(err)
	}
	if key == nil {
		return nil, false, nil
	}
	return h.root.filters.applyFetchKey(key), true, nil
}

// NextKey returns the key following prevKey in digest order, or (nil,
// false) when enumeration is exhausted. Map-only.
func (h *Handle) NextKey(prevKey []byte) ([]byte, bool, error) {
	if h.kind != KindMap {
		return nil, false, h.root.recordErr(ErrWrongKind)
	}
	unlock, err := h.lockFor(LockShared)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	digest := h.root.cfg.DigestFunc(prevKey)
	key, _, err := h.root.fl.nextKeyFrom(h.offset, digest)
	if err != nil {
		return nil, false, h.root.recordErr(err)
	}
	if key == nil {
		return nil, false, nil
	}
	return h.root.filters.applyFetchKey(key), true, nil
}

// Import seeds this composite from a Go-native tree (map[string]any,
// []any, []byte, or nil leaves), the in-scope substitute for the spec's
// foreign-tree import helper (§1 Out of scope).
func (h *Handle) Import(seedTree any) error {
	if err := h.checkWritable(); err != nil {
		return h.root.recordErr(err)
	}
	unlock, err := h.lockFor(LockExclusive)
	if err != nil {
		return err
	}
	defer unlock()

	switch seed := seedTree.(type) {
	case map[string]any:
		for k, v := range seed {
			key := []byte(k)
			if h.kind == KindMap && k != reservedLengthKey {
				key = h.root.filters.applyStoreKey(key)
			}
			if _, err := h.seedComposite(h.offset, key, v); err != nil {
				return h.root.recordErr(err)
			}
		}
	case []any:
		for i, v := range seed {
			if _, err := h.seedComposite(h.offset, h.root.cfg.packIndex(int64(i)), v); err != nil {
				return h.root.recordErr(err)
			}
		}
		if err := h.root.fl.setListLength(h.offset, h.root.cfg.DigestFunc, int64(len(seed))); err != nil {
			return h.root.recordErr(err)
		}
	default:
		return h.root.recordErr(ErrStoreRejectedUnsupportedType)
	}
	return h.root.recordErr(h.maybeFlush())
}

// Export walks this composite into a Go-native tree: map[string]any for
// a map, []any for a list (excluding the reserved "length" entry), with
// []byte/nil scalar leaves and nested Handles expanded recursively.
func (h *Handle) Export() (any, error) {
	unlock, err := h.lockFor(LockShared)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if h.kind == KindList {
		n, err := h.root.fl.listLength(h.offset, h.root.cfg.DigestFunc)
		if err != nil {
			return nil, h.root.recordErr(err)
		}
		out := make([]any, n)
		for i := int64(0); i < n; i++ {
			t, err := h.root.fl.listFetchAt(h.offset, h.root.cfg.DigestFunc, i)
			if err != nil {
				return nil, h.root.recordErr(err)
			}
			if t == nil {
				continue
			}
			v, err := h.exportValue(t)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	out := map[string]any{}
	key, _, err := h.root.fl.firstKeyFrom(h.offset)
	if err != nil {
		return nil, h.root.recordErr(err)
	}
	for key != nil {
		t, err := h.root.fl.fetchValue(h.offset, h.root.cfg.DigestFunc, key)
		if err != nil {
			return nil, h.root.recordErr(err)
		}
		if t != nil {
			v, err := h.exportValue(t)
			if err != nil {
				return nil, err
			}
			out[string(key)] = v
		}
		digest := h.root.cfg.DigestFunc(key)
		key, _, err = h.root.fl.nextKeyFrom(h.offset, digest)
		if err != nil {
			return nil, h.root.recordErr(err)
		}
	}
	return out, nil
}

func (h *Handle) exportValue(t *tag) (any, error) {
	switch t.kind {
	case tagNull:
		return nil, nil
	case tagData:
		return h.root.fl.decodeScalarPayload(t.payload)
	case tagMap, tagList:
		child := &Handle{root: h.root, offset: t.offset, kind: RootKind(t.kind)}
		return child.Export()
	default:
		return nil, ErrIndexingFailed
	}
}
