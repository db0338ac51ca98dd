package dpdb

func (h *Handle) requireList() error {
	if h.kind != KindList {
		return ErrWrongKind
	}
	return nil
}

// Length returns the list's logical length (§4.5 fetch_size).
func (h *Handle) Length() (int64, error) {
	if err := h.requireList(); err != nil {
		return 0, h.root.recordErr(err)
	}
	unlock, err := h.lockFor(LockShared)
	if err != nil {
		return 0, err
	}
	defer unlock()
	n, err := h.root.fl.listLength(h.offset, h.root.cfg.DigestFunc)
	return n, h.root.recordErr(err)
}

// listGet fetches and decodes the element at resolved index i, applying
// the scalar value filter the same way Get does (list index keys bypass
// the key filter but scalar values still pass through the value filter).
func (h *Handle) listGet(i int64) (any, error) {
	t, err := h.root.fl.listFetchAt(h.offset, h.root.cfg.DigestFunc, i)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrAbsent
	}
	return h.valueFromTag(t)
}

func (h *Handle) listPutRaw(i int64, value any) error {
	if target, ok := value.(*Handle); ok {
		if target.root != h.root {
			return ErrStoreRejectedTiedValue
		}
		_, err := h.root.fl.storeAlias(h.offset, h.root.cfg.DigestFunc, h.root.cfg.packIndex(i), target.offset)
		return err
	}

	kind, err := valueKindOf(value)
	if err != nil {
		return err
	}
	if kind == tagMap || kind == tagList {
		_, err := h.seedComposite(h.offset, h.root.cfg.packIndex(i), value)
		return err
	}
	var payload []byte
	if kind == tagData {
		payload = h.root.filters.applyStoreValue(value.([]byte))
		payload, err = h.root.fl.encodeScalarPayload(payload)
		if err != nil {
			return err
		}
	}
	return h.root.fl.listStoreAt(h.offset, h.root.cfg.DigestFunc, i, kind, payload)
}

// GetAt returns the element at index i, resolving negative indices per
// §4.5. List-only.
func (h *Handle) GetAt(i int64) (any, error) {
	if err := h.requireList(); err != nil {
		return nil, h.root.recordErr(err)
	}
	unlock, err := h.lockFor(LockShared)
	if err != nil {
		return nil, err
	}
	defer unlock()

	length, err := h.root.fl.listLength(h.offset, h.root.cfg.DigestFunc)
	if err != nil {
		return nil, h.root.recordErr(err)
	}
	idx, err := resolveIndex(i, length, false)
	if err == ErrAbsent {
		return nil, nil
	}
	if err != nil {
		return nil, h.root.recordErr(err)
	}
	v, err := h.listGet(idx)
	if err == ErrAbsent {
		return nil, nil
	}
	return v, h.root.recordErr(err)
}

// SetAt stores value at index i, resolving negative indices. List-only.
func (h *Handle) SetAt(i int64, value any) error {
	if err := h.requireList(); err != nil {
		return h.root.recordErr(err)
	}
	unlock, err := h.lockFor(LockExclusive)
	if err != nil {
		return err
	}
	defer unlock()

	length, err := h.root.fl.listLength(h.offset, h.root.cfg.DigestFunc)
	if err != nil {
		return h.root.recordErr(err)
	}
	idx, err := resolveIndex(i, length, true)
	if err != nil {
		return h.root.recordErr(err)
	}
	if err := h.listPutRaw(idx, value); err != nil {
		return h.root.recordErr(err)
	}
	return h.root.recordErr(h.maybeFlush())
}

// Push appends values to the end of the list, returning the new length.
func (h *Handle) Push(values ...any) (int64, error) {
	if err := h.requireList(); err != nil {
		return 0, h.root.recordErr(err)
	}
	unlock, err := h.lockFor(LockExclusive)
	if err != nil {
		return 0, err
	}
	defer unlock()

	length, err := h.root.fl.listLength(h.offset, h.root.cfg.DigestFunc)
	if err != nil {
		return 0, h.root.recordErr(err)
	}
	for _, v := range values {
		if err := h.listPutRaw(length, v); err != nil {
			return 0, h.root.recordErr(err)
		}
		length++
	}
	if err := h.root.fl.setListLength(h.offset, h.root.cfg.DigestFunc, length); err != nil {
		return 0, h.root.recordErr(err)
	}
	return length, h.root.recordErr(h.maybeFlush())
}

// Pop removes and returns the last element, or (nil, false) on an empty
// list.
func (h *Handle) Pop() (any, bool, error) {
	if err := h.requireList(); err != nil {
		return nil, false, h.root.recordErr(err)
	}
	unlock, err := h.lockFor(LockExclusive)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	length, err := h.root.fl.listLength(h.offset, h.root.cfg.DigestFunc)
	if err != nil {
		return nil, false, h.root.recordErr(err)
	}
	if length == 0 {
		return nil, false, nil
	}
	v, err := h.listGet(length - 1)
	if err != nil {
		return nil, false, h.root.recordErr(err)
	}
	if _, _, err := h.root.fl.listDeleteAt(h.offset, h.root.cfg.DigestFunc, length-1); err != nil {
		return nil, false, h.root.recordErr(err)
	}
	if err := h.root.fl.setListLength(h.offset, h.root.cfg.DigestFunc, length-1); err != nil {
		return nil, false, h.root.recordErr(err)
	}
	return v, true, h.root.recordErr(h.maybeFlush())
}

// Shift removes and returns the first element, shifting every subsequent
// element down by one index.
func (h *Handle) Shift() (any, bool, error) {
	if err := h.requireList(); err != nil {
		return nil, false, h.root.recordErr(err)
	}
	unlock, err := h.lockFor(LockExclusive)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	length, err := h.root.fl.listLength(h.offset, h.root.cfg.DigestFunc)
	if err != nil {
		return nil, false, h.root.recordErr(err)
	}
	if length == 0 {
		return nil, false, nil
	}
	first, err := h.listGet(0)
	if err != nil {
		return nil, false, h.root.recordErr(err)
	}
	for i := int64(0); i < length-1; i++ {
		v, err := h.listGet(i + 1)
		if err != nil {
			return nil, false, h.root.recordErr(err)
		}
		if err := h.listPutRaw(i, v); err != nil {
			return nil, false, h.root.recordErr(err)
		}
	}
	if _, _, err := h.root.fl.listDeleteAt(h.offset, h.root.cfg.DigestFunc, length-1); err != nil {
		return nil, false, h.root.recordErr(err)
	}
	if err := h.root.fl.setListLength(h.offset, h.root.cfg.DigestFunc, length-1); err != nil {
		return nil, false, h.root.recordErr(err)
	}
	return first, true, h.root.recordErr(h.maybeFlush())
}

// Unshift prepends values to the front of the list, shifting every
// existing element up by len(values), and returns the new length.
func (h *Handle) Unshift(values ...any) (int64, error) {
	if err := h.requireList(); err != nil {
		return 0, h.root.recordErr(err)
	}
	unlock, err := h.lockFor(LockExclusive)
	if err != nil {
		return 0, err
	}
	defer unlock()

	length, err := h.root.fl.listLength(h.offset, h.root.cfg.DigestFunc)
	if err != nil {
		return 0, h.root.recordErr(err)
	}
	k := int64(len(values))

	for i := length - 1; i >= 0; i-- {
		v, err := h.listGet(i)
		if err != nil {
			return 0, h.root.recordErr(err)
		}
		if err := h.listPutRaw(i+k, v); err != nil {
			return 0, h.root.recordErr(err)
		}
	}
	for i, v := range values {
		if err := h.listPutRaw(int64(i), v); err != nil {
			return 0, h.root.recordErr(err)
		}
	}
	if err := h.root.fl.setListLength(h.offset, h.root.cfg.DigestFunc, length+k); err != nil {
		return 0, h.root.recordErr(err)
	}
	return length + k, h.root.recordErr(h.maybeFlush())
}

// Splice removes the `removed` elements starting at offset and inserts
// newElems in their place, returning the removed elements.
func (h *Handle) Splice(offset int64, removed int64, newElems ...any) ([]any, error) {
	if err := h.requireList(); err != nil {
		return nil, h.root.recordErr(err)
	}
	unlock, err := h.lockFor(LockExclusive)
	if err != nil {
		return nil, err
	}
	defer unlock()

	length, err := h.root.fl.listLength(h.offset, h.root.cfg.DigestFunc)
	if err != nil {
		return nil, h.root.recordErr(err)
	}
	idx, err := resolveIndex(offset, length, true)
	if err != nil {
		return nil, h.root.recordErr(err)
	}
	if idx > length {
		idx = length
	}
	if removed > length-idx {
		removed = length - idx
	}

	out := make([]any, 0, removed)
	for i := idx; i < idx+removed; i++ {
		v, err := h.listGet(i)
		if err != nil {
			return nil, h.root.recordErr(err)
		}
		out = append(out, v)
	}

	delta := int64(len(newElems)) - removed
	newLength := length + delta

	if delta < 0 {
		for i := idx + removed; i < length; i++ {
			v, err := h.listGet(i)
			if err != nil {
				return nil, h.root.recordErr(err)
			}
			if err := h.listPutRaw(i+delta, v); err != nil {
				return nil, h.root.recordErr(err)
			}
		}
		for i := newLength; i < length; i++ {
			if _, _, err := h.root.fl.listDeleteAt(h.offset, h.root.cfg.DigestFunc, i); err != nil {
				return nil, h.root.recordErr(err)
			}
		}
	} else if delta > 0 {
		for i := length - 1; i >= idx+removed; i-- {
			v, err := h.listGet(i)
			if err != nil {
				return nil, h.root.recordErr(err)
			}
			if err := h.listPutRaw(i+delta, v); err != nil {
				return nil, h.root.recordErr(err)
			}
		}
	}

	for i, v := range newElems {
		if err := h.listPutRaw(idx+int64(i), v); err != nil {
			return nil, h.root.recordErr(err)
		}
	}

	if err := h.root.fl.setListLength(h.offset, h.root.cfg.DigestFunc, newLength); err != nil {
		return nil, h.root.recordErr(err)
	}

	return out, h.root.recordErr(h.maybeFlush())
}
