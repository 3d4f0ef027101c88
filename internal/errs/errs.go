// Package errs declares the sentinel error kinds the core reliability
// property of this service is built on: no error kind here is ever allowed
// to make pick-next exit non-zero or block past its latency budget.
package errs

import "errors"

// Sentinel error kinds. Callers compare with errors.Is, never string match.
var (
	// ErrStoreUnavailable means the database file could not be opened or
	// migrated. pick-next falls back to the cold-path quick random dart;
	// track-start becomes a silent no-op.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStoreBusy means a transient lock or disk-full condition prevented a
	// write. Callers retry within the busy timeout, then skip the optional
	// write and still emit a path.
	ErrStoreBusy = errors.New("store busy")

	// ErrProbeFailure means the tag probe timed out, crashed, or produced
	// unparseable output. Tags are treated as null, never propagated as a
	// fatal error.
	ErrProbeFailure = errors.New("tag probe failed")

	// ErrScanLockHeld means another scanner already holds the lock row in
	// Meta and it has not gone stale yet.
	ErrScanLockHeld = errors.New("scan lock held")

	// ErrNoCandidates means no path could be produced at all (empty library,
	// empty music root). pick-next emits an empty line in this case.
	ErrNoCandidates = errors.New("no candidates")
)

// Op names an operation that can fail, used to tag diagnostics consistently.
type Op string

const (
	OpStoreOpen   Op = "open store"
	OpStoreQuery  Op = "query store"
	OpStoreWrite  Op = "write store"
	OpProbe       Op = "probe tags"
	OpScan        Op = "scan music directory"
	OpScanLock    Op = "acquire scan lock"
	OpPick        Op = "pick next track"
	OpTrackStart  Op = "record track start"
	OpVacuum      Op = "vacuum store"
	OpQuickRandom Op = "quick random dart"
)

// Wrap annotates err with op, preserving it for errors.Is/errors.As.
func Wrap(op Op, err error) error {
	if err == nil {
		return nil
	}
	return &opError{op: op, err: err}
}

type opError struct {
	op  Op
	err error
}

func (e *opError) Error() string { return string(e.op) + ": " + e.err.Error() }
func (e *opError) Unwrap() error { return e.err }
