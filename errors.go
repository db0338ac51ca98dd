package dpdb

import "errors"

// Sentinel errors parked on a Root and returned from Err(). Compare with
// errors.Is since call sites wrap these with fmt.Errorf("...: %w", ...) for
// additional context.
var (
	ErrSignatureMismatch            = errors.New("dpdb: signature mismatch")
	ErrCannotOpen                   = errors.New("dpdb: cannot open file")
	ErrIndexingFailed               = errors.New("dpdb: indexing failed")
	ErrWrongKind                    = errors.New("dpdb: wrong kind for operation")
	ErrNonCreatableSubscript        = errors.New("dpdb: non-creatable subscript")
	ErrStoreRejectedTiedValue       = errors.New("dpdb: store rejected tied value")
	ErrStoreRejectedUnsupportedType = errors.New("dpdb: store rejected unsupported type")
	ErrOptimizeBusy                 = errors.New("dpdb: optimize busy, handles open")
	ErrOptimizeRenameFailed         = errors.New("dpdb: optimize rename failed")
	ErrAbsent                       = errors.New("dpdb: absent")
	ErrClosed                       = errors.New("dpdb: handle closed")
)
