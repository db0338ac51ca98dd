package dpdb

// filterSet bundles the four optional user callbacks a Root carries.
// Filters are process-local (never persisted) and are applied at the
// narrowest possible site: key path for map keys only, value path only
// for scalar leaves; both are bypassed for composite values, for list
// index keys, and for the reserved "length" entry of a list (§4.6, §9).
type filterSet struct {
	storeKey   FilterFunc
	storeValue FilterFunc
	fetchKey   FilterFunc
	fetchValue FilterFunc
}

func (fs filterSet) applyStoreKey(k []byte) []byte {
	if fs.storeKey == nil {
		return k
	}
	return fs.storeKey(k)
}

func (fs filterSet) applyStoreValue(v []byte) []byte {
	if fs.storeValue == nil {
		return v
	}
	return fs.storeValue(v)
}

func (fs filterSet) applyFetchKey(k []byte) []byte {
	if fs.fetchKey == nil {
		return k
	}
	return fs.fetchKey(k)
}

func (fs filterSet) applyFetchValue(v []byte) []byte {
	if fs.fetchValue == nil {
		return v
	}
	return fs.fetchValue(v)
}
