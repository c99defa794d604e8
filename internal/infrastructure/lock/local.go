package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

type localEntry struct {
	token   uint64
	expires time.Time
}

// LocalLocker serializes holders within one process. Entries expire after
// their TTL like the Redis variant.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]localEntry
	next    uint64
	now     func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if key == "" {
		return nil, false, domain.WrapError(domain.ErrInvalidInput, "try lock", errors.New("key is required"))
	}
	if ttl <= 0 {
		ttl = time.Minute
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.entries[key]; ok && now.Before(held.expires) {
		return nil, false, nil
	}
	l.next++
	token := l.next
	l.entries[key] = localEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if held, ok := l.entries[key]; ok && held.token == token {
				delete(l.entries, key)
			}
		})
	}
	return unlock, true, nil
}
