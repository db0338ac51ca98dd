package dpdb

import "fmt"

// packIndex encodes a non-negative list index as the W-byte big-endian key
// format §4.5 specifies ("list is a map whose keys are the W-byte packed
// integer indices").
func (cfg Config) packIndex(i int64) []byte {
	return cfg.packW(i)
}

func (cfg Config) unpackIndex(b []byte) int64 {
	return cfg.unpackW(b)
}

// resolveIndex applies §4.5's negative-index rule: -n (0 < n <= length)
// resolves to length-n; out-of-range negatives are rejected.
func resolveIndex(i, length int64, forWrite bool) (int64, error) {
	if i >= 0 {
		return i, nil
	}
	resolved := length + i
	if resolved < 0 {
		if forWrite {
			return 0, ErrNonCreatableSubscript
		}
		return 0, ErrAbsent
	}
	return resolved, nil
}

// listLength reads the reserved "length" entry, defaulting to 0 when absent.
func (fl *file) listLength(listRootOffset int64, digestFn DigestFunc) (int64, error) {
	t, err := fl.fetchValue(listRootOffset, digestFn, []byte(reservedLengthKey))
	if err != nil {
		return 0, err
	}
	if t == nil {
		return 0, nil
	}
	if t.kind != tagData {
		return 0, fmt.Errorf("%w: length entry has kind %q", ErrIndexingFailed, t.kind)
	}
	return fl.cfg.unpackW(t.payload), nil
}

func (fl *file) setListLength(listRootOffset int64, digestFn DigestFunc, n int64) error {
	_, _, err := fl.storeRaw(listRootOffset, digestFn, []byte(reservedLengthKey), tagData, fl.cfg.packW(n))
	return err
}

// listStoreAt implements §4.5 "Store at index i": write at key pack_W(i);
// if the store was an insert (not a replace) and i >= length, grow length
// to i+1.
func (fl *file) listStoreAt(listRootOffset int64, digestFn DigestFunc, i int64, kind byte, payload []byte) error {
	length, err := fl.listLength(listRootOffset, digestFn)
	if err != nil {
		return err
	}
	inserted, _, err := fl.storeRaw(listRootOffset, digestFn, fl.cfg.packIndex(i), kind, payload)
	if err != nil {
		return err
	}
	if inserted && i >= length {
		if err := fl.setListLength(listRootOffset, digestFn, i+1); err != nil {
			return err
		}
	}
	return nil
}

func (fl *file) listFetchAt(listRootOffset int64, digestFn DigestFunc, i int64) (*tag, error) {
	return fl.fetchValue(listRootOffset, digestFn, fl.cfg.packIndex(i))
}

func (fl *file) listDeleteAt(listRootOffset int64, digestFn DigestFunc, i int64) (*tag, bool, error) {
	return fl.deleteValue(listRootOffset, digestFn, fl.cfg.packIndex(i))
}
