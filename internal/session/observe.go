package session

import "sync"

// subscriber is an unbounded mailbox: publishing never blocks the
// controller, and updates come out in publish order.
type subscriber struct {
	out  chan Update
	wake chan struct{}
	quit chan struct{}

	mu       sync.Mutex
	queue    []Update
	finished bool
	stopOnce sync.Once
}

func newSubscriber() *subscriber {
	s := &subscriber{
		out:  make(chan Update),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscriber) push(u Update) {
	s.mu.Lock()
	s.queue = append(s.queue, u)
	s.mu.Unlock()
	s.notify()
}

// finish delivers whatever is queued, then closes out.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.notify()
}

// stop closes out without delivering the rest of the queue.
func (s *subscriber) stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
	})
}

func (s *subscriber) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.out)

	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		finished := s.finished
		s.mu.Unlock()

		for _, u := range pending {
			select {
			case s.out <- u:
			case <-s.quit:
				return
			}
		}
		if len(pending) > 0 {
			continue
		}
		if finished {
			return
		}

		select {
		case <-s.wake:
		case <-s.quit:
			return
		}
	}
}
