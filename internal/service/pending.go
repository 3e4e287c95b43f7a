package service

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// pendingStore holds half-finished exchanges until they are taken or
// expire. drop runs for every value that expires or is replaced; a value
// handed out by take belongs to the caller.
type pendingStore[T any] struct {
	items *ttlcache.Cache[string, T]
	drop  func(T)
}

func newPendingStore[T any](ttl time.Duration, drop func(T)) *pendingStore[T] {
	if drop == nil {
		drop = func(T) {}
	}
	items := ttlcache.New[string, T](
		ttlcache.WithTTL[string, T](ttl),
		ttlcache.WithDisableTouchOnHit[string, T](),
	)
	items.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, T]) {
		if reason != ttlcache.EvictionReasonDeleted {
			drop(item.Value())
		}
	})
	return &pendingStore[T]{items: items, drop: drop}
}

// start runs the expiry loop until stop is called.
func (s *pendingStore[T]) start() { go s.items.Start() }

func (s *pendingStore[T]) stop() {
	s.items.Stop()
	s.items.DeleteExpired()
	for _, item := range s.items.Items() {
		s.drop(item.Value())
	}
	s.items.DeleteAll()
}

func (s *pendingStore[T]) put(id string, v T) {
	s.items.DeleteExpired()
	if prev, ok := s.items.GetAndDelete(id); ok {
		s.drop(prev.Value())
	}
	s.items.Set(id, v, ttlcache.DefaultTTL)
}

// take removes and returns the entry for id if it has not expired.
func (s *pendingStore[T]) take(id string) (T, bool) {
	item, ok := s.items.GetAndDelete(id)
	if !ok {
		var zero T
		return zero, false
	}
	return item.Value(), true
}

func (s *pendingStore[T]) len() int {
	s.items.DeleteExpired()
	return s.items.Len()
}
