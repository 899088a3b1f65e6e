// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package store

import "sync"

// Subscriber is a per-session delivery endpoint for published messages. A
// bounded buffer keeps one slow subscriber from blocking PUBLISH; an
// overflowing subscriber simply misses the message rather than stalling the
// publisher, matching the "best-effort fan-out" rule for pub/sub.
type Subscriber struct {
	ID string
	Ch chan PublishedMessage
}

// PublishedMessage is one delivered PUBLISH payload.
type PublishedMessage struct {
	Channel string
	Payload []byte
}

// subscriberBuffer bounds each subscriber's pending-message queue.
const subscriberBuffer = 256

// PubSub is the channel registry: channel name -> the set of subscribers
// currently registered against it.
type PubSub struct {
	mu       sync.Mutex
	channels map[string]map[string]*Subscriber
}

func NewPubSub() *PubSub {
	return &PubSub{channels: make(map[string]map[string]*Subscriber)}
}

// Subscribe registers sessionID on channel and returns its delivery
// endpoint (created once per sessionID, shared across all its channels) and
// the subscriber's post-subscribe channel count.
func (p *PubSub) Subscribe(sessionID, channel string) (*Subscriber, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs, ok := p.channels[channel]
	if !ok {
		subs = make(map[string]*Subscriber)
		p.channels[channel] = subs
	}
	sub, ok := subs[sessionID]
	if !ok {
		for _, other := range p.channels {
			if existing, found := other[sessionID]; found {
				sub = existing
				break
			}
		}
		if sub == nil {
			sub = &Subscriber{ID: sessionID, Ch: make(chan PublishedMessage, subscriberBuffer)}
		}
		subs[sessionID] = sub
	}
	return sub, p.countFor(sessionID)
}

// Unsubscribe removes sessionID from channel and returns the remaining
// subscription count for that session.
func (p *PubSub) Unsubscribe(sessionID, channel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subs, ok := p.channels[channel]; ok {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(p.channels, channel)
		}
	}
	return p.countFor(sessionID)
}

// UnsubscribeAll removes sessionID from every channel, used on disconnect.
func (p *PubSub) UnsubscribeAll(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for channel, subs := range p.channels {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(p.channels, channel)
		}
	}
}

// countFor must be called with p.mu held.
func (p *PubSub) countFor(sessionID string) int {
	n := 0
	for _, subs := range p.channels {
		if _, ok := subs[sessionID]; ok {
			n++
		}
	}
	return n
}

// Publish delivers payload to every current subscriber of channel and
// returns the receiver count. Delivery is non-blocking: a subscriber whose
// buffer is full drops the message instead of stalling the publisher.
func (p *PubSub) Publish(channel string, payload []byte) int {
	p.mu.Lock()
	subs := p.channels[channel]
	targets := make([]*Subscriber, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	p.mu.Unlock()

	delivered := 0
	for _, sub := range targets {
		select {
		case sub.Ch <- PublishedMessage{Channel: channel, Payload: payload}:
			delivered++
		default:
		}
	}
	return delivered
}
