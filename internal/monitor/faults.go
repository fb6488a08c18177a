package monitor

import "errors"

// Fault kinds carried as sentinel errors. Strategies and the store wrap
// their failures with one of these so callers can classify with errors.Is
// instead of string matching. None of them is ever fatal to the loop.
var (
	// ErrTransient covers network, timeout, and element-not-found failures
	// inside a strategy. The orchestrator falls through to the next strategy.
	ErrTransient = errors.New("transient fetch failure")

	// ErrParse marks an unparsable id or timestamp. The producing code
	// substitutes a safe default and keeps going; the sentinel only appears
	// in logs.
	ErrParse = errors.New("parse failure")

	// ErrStale marks a batch whose posts all look improbably old.
	ErrStale = errors.New("stale page")

	// ErrPersistence marks a store mutation that was rolled back.
	ErrPersistence = errors.New("persistence failure")
)
