package bridge

import (
	"errors"
	"sync"
)

// disposables is a teardown stack: resources are released in the reverse
// order they were acquired.
type disposables struct {
	mu  sync.Mutex
	fns []func() error
}

func (d *disposables) push(fn func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fns = append(d.fns, fn)
}

// dispose runs every function once, newest first, and joins their errors.
func (d *disposables) dispose() error {
	d.mu.Lock()
	fns := d.fns
	d.fns = nil
	d.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
