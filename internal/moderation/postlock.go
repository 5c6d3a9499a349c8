package moderation

import "sync"

// postLocks serializes work per post id. Entries are dropped once no caller
// holds or waits for them.
type postLocks struct {
	mu    sync.Mutex
	locks map[string]*postLock
}

type postLock struct {
	sync.Mutex
	refs int
}

func newPostLocks() *postLocks {
	return &postLocks{locks: make(map[string]*postLock)}
}

// Lock blocks until the post is free and returns the unlock func.
func (p *postLocks) Lock(postID string) func() {
	p.mu.Lock()
	l, ok := p.locks[postID]
	if !ok {
		l = &postLock{}
		p.locks[postID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, postID)
		}
		p.mu.Unlock()
	}
}

func (p *postLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
