package register

import "context"

// serialLock behaves like sync.Mutex, except a blocked lock attempt can
// be aborted by a context. It backs the Gateway's serial-order lock,
// which must be abortable by a caller's own timeout while it waits out
// another in-flight request.
type serialLock chan struct{}

func newSerialLock() serialLock {
	m := make(serialLock, 1)
	m <- struct{}{}
	return m
}

func (m serialLock) lock(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m:
		return nil
	}
}

func (m serialLock) unlock() {
	m <- struct{}{}
}
