package msg

import (
	"sync"

	"github.com/google/uuid"
)

// Topic partitions published messages by intent.
type Topic int

const (
	// Status messages carry solved circuit state.
	Status Topic = iota
	// Config messages carry static configuration.
	Config
	// Activity messages carry audit records for program operations.
	Activity
)

// Publisher is the interface for objects that allow subscription to their events.
type Publisher interface {
	Subscribe(uuid.UUID, Topic) <-chan Msg
	Unsubscribe(uuid.UUID)
}

// Msg is the envelope passed between system participants.
type Msg struct {
	sender  uuid.UUID
	topic   Topic
	payload interface{}
}

// New is the Msg factory function.
func New(sender uuid.UUID, topic Topic, payload interface{}) Msg {
	return Msg{sender, topic, payload}
}

// PID returns the sender's PID.
func (m Msg) PID() uuid.UUID {
	return m.sender
}

// Topic returns the message topic.
func (m Msg) Topic() Topic {
	return m.topic
}

// Payload returns the message data.
func (m Msg) Payload() interface{} {
	return m.payload
}

// PubSub fans published messages out to topic subscribers. Sends are
// non-blocking: a subscriber that falls behind misses messages rather
// than stalling the publisher.
type PubSub struct {
	mux         *sync.Mutex
	pid         uuid.UUID
	subscribers map[Topic]map[uuid.UUID]chan Msg
}

// NewPublisher returns an initialized PubSub owned by pid.
func NewPublisher(pid uuid.UUID) *PubSub {
	return &PubSub{
		mux:         &sync.Mutex{},
		pid:         pid,
		subscribers: make(map[Topic]map[uuid.UUID]chan Msg),
	}
}

// PID returns the publisher's PID.
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}

// Subscribe returns a read-only channel of messages on topic.
func (p *PubSub) Subscribe(pid uuid.UUID, topic Topic) <-chan Msg {
	p.mux.Lock()
	defer p.mux.Unlock()
	if _, ok := p.subscribers[topic]; !ok {
		p.subscribers[topic] = make(map[uuid.UUID]chan Msg)
	}
	ch := make(chan Msg, 8)
	p.subscribers[topic][pid] = ch
	return ch
}

// Unsubscribe closes and removes all channels held for pid.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.subscribers {
		if ch, ok := subs[pid]; ok {
			delete(subs, pid)
			close(ch)
		}
	}
}

// Publish broadcasts payload to every subscriber of topic.
func (p *PubSub) Publish(topic Topic, payload interface{}) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, ch := range p.subscribers[topic] {
		select {
		case ch <- New(p.pid, topic, payload):
		default:
		}
	}
}

// Close shuts down every subscriber channel.
func (p *PubSub) Close() {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.subscribers {
		for pid, ch := range subs {
			delete(subs, pid)
			close(ch)
		}
	}
}
