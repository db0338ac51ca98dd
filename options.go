package dpdb

// RootKind is the canonical type of a file's root composite.
type RootKind byte

const (
	KindMap  RootKind = 'H'
	KindList RootKind = 'A'
)

// FilterFunc transforms a key or scalar value on the way into or out of
// the file. Filters are process-local (never persisted) and are applied
// only to map keys and scalar values; composites and list index keys
// bypass them, and so does the reserved "length" entry of a list.
type FilterFunc func([]byte) []byte

// Options configures a single Open call.
type Options struct {
	// Path is the file to open.
	Path string

	// Type selects the root kind for a brand-new file. Ignored when the
	// file already exists; the existing root tag's kind wins.
	Type RootKind

	// ReadOnly opens the file without creating it and rejects writes.
	ReadOnly bool

	// Locking enables advisory shared/exclusive OS file locks around
	// every public operation.
	Locking bool

	// Autoflush fsyncs after every write and re-stats the file before
	// every write to observe another process's appends.
	Autoflush bool

	// Volatile re-stats the file before every write (like Autoflush)
	// without taking OS locks. Independent of Locking.
	Volatile bool

	// Debug routes every error surfaced to a caller through the package
	// logger before it is returned.
	Debug bool

	// Compress transparently zstd-compresses scalar payloads.
	Compress bool

	StoreKey   FilterFunc
	StoreValue FilterFunc
	FetchKey   FilterFunc
	FetchValue FilterFunc

	// Config selects the wire-format parameters used to read and write the
	// file. The file does not record them, so an existing file must be
	// opened with the Config it was created with; zero fields take their
	// DefaultConfig() values.
	Config Config
}
