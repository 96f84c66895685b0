package registry

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockBusy is returned when the allocation lock cannot be acquired
// within the retry budget. Another process is allocating; the caller
// should back off and try the document again later.
var ErrLockBusy = errors.New("registry: allocation lock busy")

const (
	lockRetries  = 50
	lockInterval = 100 * time.Millisecond
)

// allocLock serializes identity allocation across processes sharing a data
// root. flock releases automatically when the holding process dies, so
// there is no stale-lock recovery path.
type allocLock struct {
	fl *flock.Flock
}

func newAllocLock(path string) *allocLock {
	return &allocLock{fl: flock.New(path)}
}

func (l *allocLock) acquire(ctx context.Context) error {
	for i := 0; i < lockRetries; i++ {
		ok, err := l.fl.TryLock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockInterval):
		}
	}
	return ErrLockBusy
}

func (l *allocLock) release() error {
	return l.fl.Unlock()
}
