package channel

import "sync"

// subscriptionBuffer caps how many undelivered envelopes a tab may have
// queued before further broadcasts to it are dropped.
const subscriptionBuffer = 32

// Subscription is one tab's listening end of the broadcast channel.
type Subscription struct {
	// C receives every envelope posted by other subscribers.
	C chan Envelope
}

// Broker is the in-process analog of an origin-scoped broadcast channel:
// fire-and-forget delivery to every subscriber except the poster, no
// replay for late joiners, no acknowledgement.
type Broker struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewBroker returns a broker with no subscribers.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]*Subscription)}
}

// Subscribe registers a listener under id and returns its subscription.
// Subscribing twice under the same id replaces the earlier listener.
func (b *Broker) Subscribe(id string) *Subscription {
	sub := &Subscription{C: make(chan Envelope, subscriptionBuffer)}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the listener registered under id. Envelopes
// already queued on its channel remain readable.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Post delivers env to every subscriber except the one identified by
// from. Delivery is best effort: a subscriber with a full buffer is
// skipped, the same way a suspended tab may simply miss a broadcast.
func (b *Broker) Post(from string, env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		if id == from {
			continue
		}
		select {
		case sub.C <- env:
		default:
			// Drop if slow consumer.
		}
	}
}
