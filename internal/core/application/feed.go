package application

import (
	"sync"
)

const feedBufferSize = 64

// feed fans out values to any number of subscribers. Slow subscribers never
// block the publisher, values that don't fit their buffer are dropped.
type feed[T any] struct {
	lock   sync.Mutex
	subs   map[int]chan T
	nextID int
	closed bool

	onDrop func()
}

func newFeed[T any](onDrop func()) *feed[T] {
	return &feed[T]{subs: make(map[int]chan T), onDrop: onDrop}
}

func (f *feed[T]) subscribe() (<-chan T, func()) {
	f.lock.Lock()
	defer f.lock.Unlock()

	ch := make(chan T, feedBufferSize)
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	once := sync.Once{}
	return ch, func() {
		once.Do(func() {
			f.lock.Lock()
			defer f.lock.Unlock()
			if _, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(ch)
			}
		})
	}
}

func (f *feed[T]) publish(v T) {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, ch := range f.subs {
		select {
		case ch <- v:
		default:
			if f.onDrop != nil {
				f.onDrop()
			}
		}
	}
}

func (f *feed[T]) close() {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.closed = true
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
}
