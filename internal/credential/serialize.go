package credential

import (
	"context"
	"sync"
)

// serialized guards Put with one mutex per uid, so concurrent read-merge-write
// cycles against the same user never interleave. Different users proceed in
// parallel.
type serialized struct {
	Store
	locks sync.Map // uid -> *sync.Mutex
}

// Serialize wraps store with per-user write locking. Wrapping twice is a no-op.
func Serialize(store Store) Store {
	if s, ok := store.(*serialized); ok {
		return s
	}
	return &serialized{Store: store}
}

func (s *serialized) Put(ctx context.Context, uid string, update Record) error {
	lock, _ := s.locks.LoadOrStore(uid, &sync.Mutex{})
	mu := lock.(*sync.Mutex)

	mu.Lock()
	defer mu.Unlock()
	return s.Store.Put(ctx, uid, update)
}
