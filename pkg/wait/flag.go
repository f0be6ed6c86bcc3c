package wait

import "sync/atomic"

// Flag is a named boolean condition that wakes a Signal when it changes.
type Flag struct {
	name string
	set  atomic.Bool
	sig  *Signal
}

// NewFlag creates a cleared flag that notifies sig on every change.
// sig may be nil.
func NewFlag(name string, sig *Signal) *Flag {
	return &Flag{name: name, sig: sig}
}

// Name returns the flag name.
func (f *Flag) Name() string {
	return f.name
}

// Set raises the flag. Returns false if it was already set.
func (f *Flag) Set() bool {
	changed := f.set.CompareAndSwap(false, true)
	if changed && f.sig != nil {
		f.sig.Notify()
	}
	return changed
}

// Clear lowers the flag. Returns false if it was already clear.
func (f *Flag) Clear() bool {
	changed := f.set.CompareAndSwap(true, false)
	if changed && f.sig != nil {
		f.sig.Notify()
	}
	return changed
}

// IsSet reports whether the flag is raised.
func (f *Flag) IsSet() bool {
	return f.set.Load()
}

// Err returns an abort function for Signal.Await that yields an error of
// the given kind while the flag is set.
func (f *Flag) Err(kind error) func() error {
	return func() error {
		if f.set.Load() {
			return &abortError{flag: f.name, kind: kind}
		}
		return nil
	}
}

type abortError struct {
	flag string
	kind error
}

func (e *abortError) Error() string {
	return e.flag + ": " + e.kind.Error()
}

func (e *abortError) Unwrap() error {
	return e.kind
}
