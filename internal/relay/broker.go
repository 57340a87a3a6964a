package relay

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueSize is the per-subscriber mailbox depth.
const DefaultQueueSize = 64

// Conn is the transport behind a subscriber. Send must return once the
// message is written or the write has failed; implementations bound it
// with their own deadline.
type Conn interface {
	Send(msg Message) error
}

// State is a subscriber lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Subscriber is a registered viewer. It is created by Broker.Join and only
// lives as long as its connection.
type Subscriber struct {
	id      string
	conn    Conn
	queue   chan Message
	catchUp int
	state   atomic.Int32
	done    chan struct{}
	once    sync.Once
}

// ID returns the subscriber's connection-scoped identifier.
func (s *Subscriber) ID() string { return s.id }

// State returns the current lifecycle stage.
func (s *Subscriber) State() State { return State(s.state.Load()) }

// Done is closed when the subscriber is disconnected.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Broker is the subscriber registry and fan-out point. Every subscriber owns
// a bounded mailbox drained by its own goroutine, so a slow connection never
// holds up the others or the publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	queueSize   int
	closed      bool
	wg          sync.WaitGroup
}

// NewBroker creates a broker whose subscribers buffer up to queueSize
// messages. Non-positive sizes fall back to DefaultQueueSize.
func NewBroker(queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		queueSize:   queueSize,
	}
}

// Join registers conn and queues catchUp ahead of any live message. The
// subscriber stays Connecting until every catch-up message has been
// attempted, whether or not the attempt succeeded.
func (b *Broker) Join(conn Conn, catchUp ...Message) *Subscriber {
	size := b.queueSize
	if len(catchUp) >= size {
		size = len(catchUp) + 1
	}
	sub := &Subscriber{
		id:      uuid.NewString(),
		conn:    conn,
		queue:   make(chan Message, size),
		catchUp: len(catchUp),
		done:    make(chan struct{}),
	}
	for _, msg := range catchUp {
		sub.queue <- msg
	}
	if len(catchUp) == 0 {
		sub.state.Store(int32(StateJoined))
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.disconnect()
		return sub
	}
	b.subscribers[sub.id] = sub
	b.wg.Add(1)
	b.mu.Unlock()

	go b.deliver(sub)
	slog.Debug("relay: subscriber joined", "subscriber", sub.id, "catch_up", len(catchUp))
	return sub
}

// Leave deregisters sub. Leaving twice is a no-op.
func (b *Broker) Leave(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.subscribers[sub.id]
	if ok {
		delete(b.subscribers, sub.id)
	}
	b.mu.Unlock()

	sub.disconnect()
	if ok {
		slog.Debug("relay: subscriber left", "subscriber", sub.id)
	}
}

// Publish queues msg for every registered subscriber and returns how many
// accepted it. A full mailbox drops the message for that subscriber only.
func (b *Broker) Publish(msg Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	queued := 0
	for _, sub := range b.subscribers {
		if sub.offer(msg) {
			queued++
			continue
		}
		slog.Warn("relay: subscriber queue full, dropping update", "subscriber", sub.id, "type", msg.Type)
	}
	return queued
}

// Send queues msg for a single subscriber.
func (b *Broker) Send(sub *Subscriber, msg Message) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.subscribers[sub.id]; !ok {
		return false
	}
	return sub.offer(msg)
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close disconnects every subscriber and waits for their delivery
// goroutines, giving up after timeout.
func (b *Broker) Close(timeout time.Duration) {
	b.mu.Lock()
	b.closed = true
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for id, sub := range b.subscribers {
		subs = append(subs, sub)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.disconnect()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("relay: close timed out waiting for subscriber writers")
	}
}

func (b *Broker) deliver(sub *Subscriber) {
	defer b.wg.Done()
	pending := sub.catchUp
	for {
		select {
		case <-sub.done:
			return
		case msg := <-sub.queue:
			// select picks at random when both are ready.
			select {
			case <-sub.done:
				return
			default:
			}
			err := sub.conn.Send(msg)
			if pending > 0 {
				pending--
				if err != nil {
					slog.Warn("relay: catch-up delivery failed", "subscriber", sub.id, "type", msg.Type, "error", err)
				}
				if pending == 0 {
					sub.state.CompareAndSwap(int32(StateConnecting), int32(StateJoined))
				}
				continue
			}
			if err != nil {
				slog.Info("relay: delivery failed, disconnecting subscriber", "subscriber", sub.id, "type", msg.Type, "error", err)
				b.Leave(sub)
				return
			}
		}
	}
}

func (s *Subscriber) offer(msg Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- msg:
		return true
	default:
		return false
	}
}

func (s *Subscriber) disconnect() {
	s.once.Do(func() {
		s.state.Store(int32(StateDisconnected))
		close(s.done)
	})
}
