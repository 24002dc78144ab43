package errors

import (
	"sync"

	"go.uber.org/multierr"
)

// Diagnostics accumulates link errors without stopping the caller.
// The zero value is ready to use and safe for concurrent use.
type Diagnostics struct {
	mu   sync.Mutex
	list []*Error
}

// Report records e and returns it so notes can be attached.
func (d *Diagnostics) Report(e *Error) *Error {
	d.mu.Lock()
	d.list = append(d.list, e)
	d.mu.Unlock()
	return e
}

// Len returns the number of recorded errors.
func (d *Diagnostics) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.list)
}

// HasErrors reports whether anything was recorded.
func (d *Diagnostics) HasErrors() bool {
	return d.Len() > 0
}

// Errors returns a copy of the recorded errors in report order.
func (d *Diagnostics) Errors() []*Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Error, len(d.list))
	copy(out, d.list)
	return out
}

// Reset drops every recorded error.
func (d *Diagnostics) Reset() {
	d.mu.Lock()
	d.list = nil
	d.mu.Unlock()
}

// Err combines the recorded errors into one, or returns nil.
// Individual errors are recoverable with multierr.Errors.
func (d *Diagnostics) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	for _, e := range d.list {
		err = multierr.Append(err, e)
	}
	return err
}

// Flatten returns the structured errors contained in err, which may be a
// combined diagnostics error, a single *Error, or anything else.
func Flatten(err error) []*Error {
	var out []*Error
	for _, e := range multierr.Errors(err) {
		if le, ok := e.(*Error); ok {
			out = append(out, le)
		}
	}
	return out
}
