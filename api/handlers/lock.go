package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/o3willard-AI/alcs-sub001/types"
)

// SessionLocks serialises mutating requests per session id. Waiters queue
// behind the holder until their context ends. Entries are dropped once no
// one holds or waits for them.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sem  chan struct{}
	refs int
}

// NewSessionLocks 创建会话锁表
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sessionLock)}
}

// Acquire blocks until the session's lock is free. It returns SESSION_BUSY
// if ctx ends first. The returned release func is safe to call more than once.
func (l *SessionLocks) Acquire(ctx context.Context, id string) (release func(), err error) {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &sessionLock{sem: make(chan struct{}, 1)}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(id, lk)
		return nil, types.NewError(types.ErrSessionBusy,
			fmt.Sprintf("session %q is busy with another request", id)).
			WithHTTPStatus(http.StatusConflict).
			WithRetryable(true).
			WithCause(ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.sem
			l.unref(id, lk)
		})
	}, nil
}

// Held reports how many session ids currently have a holder or waiter.
func (l *SessionLocks) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *SessionLocks) unref(id string, lk *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
}
