package changemonitor

import "sync"

// targetLocks hands out one mutex per URL. Entries are dropped once no
// caller holds or waits on them.
type targetLocks struct {
	mu    sync.Mutex
	locks map[string]*targetLock
}

type targetLock struct {
	sync.Mutex
	refs int
}

// lock blocks until url is free and returns the matching unlock.
func (l *targetLocks) lock(url string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*targetLock)
	}
	tl, ok := l.locks[url]
	if !ok {
		tl = &targetLock{}
		l.locks[url] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.Lock()
	return func() {
		tl.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, url)
		}
		l.mu.Unlock()
	}
}

// held reports how many URLs currently have a holder or waiter.
func (l *targetLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
