package client

import (
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// observers is a registration-ordered listener list. Emission for one event
// kind is serialized: at most one emit runs at a time.
type observers[T any] struct {
	kind   string
	logger *logrus.Logger

	mu     sync.RWMutex
	next   uint64
	fns    *orderedmap.OrderedMap[uint64, func(T)]
	emitMu sync.Mutex
}

func newObservers[T any](kind string, logger *logrus.Logger) *observers[T] {
	return &observers[T]{
		kind:   kind,
		logger: logger,
		fns:    orderedmap.New[uint64, func(T)](),
	}
}

func (o *observers[T]) add(fn func(T)) func() {
	o.mu.Lock()
	o.next++
	id := o.next
	o.fns.Set(id, fn)
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			o.fns.Delete(id)
			o.mu.Unlock()
		})
	}
}

func (o *observers[T]) len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.fns.Len()
}

func (o *observers[T]) emit(v T) {
	o.mu.RLock()
	snapshot := make([]func(T), 0, o.fns.Len())
	for pair := o.fns.Oldest(); pair != nil; pair = pair.Next() {
		snapshot = append(snapshot, pair.Value)
	}
	o.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	for _, fn := range snapshot {
		o.call(fn, v)
	}
}

func (o *observers[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithFields(logrus.Fields{
				"event": o.kind,
				"panic": r,
			}).Error("Listener panicked")
		}
	}()
	fn(v)
}
