package mock

import (
	"errors"
	"sync"
)

// DefaultSubscriberLimit is the number of undelivered events a subscriber may
// hold before the store gives up on it.
const DefaultSubscriberLimit = 1 << 16

// ErrSlowSubscriber ends a subscription whose undelivered backlog reached the
// store's subscriber limit.
var ErrSlowSubscriber = errors.New("mock wasmstore: watch subscriber fell too far behind")

// Subscription is a registration for store events. Events arrive on Events
// in publish order; publishing never blocks on a slow reader.
type Subscription struct {
	hub *hub
	id  int
	sub *subscriber
}

// Events returns the event channel. It is closed after Cancel, after the
// store closes (once every queued event is delivered), or when the backlog
// overflows.
func (s *Subscription) Events() <-chan []byte {
	return s.sub.out
}

// Cancel ends the subscription. Queued events are discarded.
func (s *Subscription) Cancel() {
	s.hub.remove(s.id, s.sub)
	s.sub.stopNow()
}

// Err is ErrSlowSubscriber when the subscription ended on overflow and nil
// otherwise.
func (s *Subscription) Err() error {
	s.sub.mu.Lock()
	defer s.sub.mu.Unlock()
	return s.sub.err
}

type subscriber struct {
	branch string
	limit  int
	out    chan []byte
	wake   chan struct{}
	stop   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	queue    [][]byte
	draining bool
	err      error
}

func newSubscriber(branch string, limit int) *subscriber {
	s := &subscriber{
		branch: branch,
		limit:  limit,
		out:    make(chan []byte),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go s.run()
	return s
}

// push queues data without blocking. It reports false once the backlog is
// full, in which case the subscriber has been stopped.
func (s *subscriber) push(data []byte) bool {
	s.mu.Lock()
	if s.limit > 0 && len(s.queue) >= s.limit {
		s.err = ErrSlowSubscriber
		s.queue = nil
		s.mu.Unlock()
		s.stopNow()
		return false
	}
	s.queue = append(s.queue, data)
	s.mu.Unlock()
	s.signal()
	return true
}

// finish delivers what is queued and then closes out.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) stopNow() {
	s.once.Do(func() { close(s.stop) })
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			draining := s.draining
			s.mu.Unlock()
			if draining {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.stop:
				return
			}
		}
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.stop:
			return
		}
	}
}

// hub fans store events out to watch subscribers. Each subscriber has its own
// queue, so one slow reader neither blocks publishers nor loses events for
// the others.
type hub struct {
	mu     sync.Mutex
	limit  int
	nextID int
	subs   map[int]*subscriber
	closed bool
}

func newHub(limit int) *hub {
	return &hub{limit: limit, subs: make(map[int]*subscriber)}
}

func (h *hub) subscribe(branch string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := newSubscriber(branch, h.limit)
	if h.closed {
		sub.finish()
		return &Subscription{hub: h, id: -1, sub: sub}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	return &Subscription{hub: h, id: id, sub: sub}
}

func (h *hub) remove(id int, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok && s == sub {
		delete(h.subs, id)
	}
}

func (h *hub) publish(branch string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		if sub.branch != "" && sub.branch != branch {
			continue
		}
		if !sub.push(data) {
			delete(h.subs, id)
		}
	}
}

// close ends every subscription after its queued events and rejects new
// ones.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.finish()
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
