package layoutwatch

import "sync"

type subscribers[T any] struct {
	lock sync.Mutex
	fns  []func(T)
}

func (s *subscribers[T]) add(fn func(T)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.fns = append(s.fns, fn)
}

func (s *subscribers[T]) notify(v T) {
	s.lock.Lock()
	fns := s.fns
	s.lock.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
