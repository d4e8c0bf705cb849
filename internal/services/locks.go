package services

import "sync"

// txLocks serializes lifecycle mutations per transaction id, so two
// concurrent voids observe one Sold→Voided transition between them.
type txLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newTxLocks() *txLocks {
	return &txLocks{locks: map[int64]*sync.Mutex{}}
}

func (l *txLocks) lock(id int64) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
