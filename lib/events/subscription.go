/*
Copyright 2024 Parsec Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package events

import "sync"

// Subscription is one subscriber's live registration with the bus (§4.3a).
// Consumers drain Events() in a loop, selecting against EndOfStream() to
// notice teardown (§4.11 step 4).
type Subscription struct {
	orgID  string
	filter Filter

	events chan *Event
	done   chan struct{}

	closeOnce sync.Once
}

func newSubscription(orgID string, filter Filter) *Subscription {
	return &Subscription{
		orgID:  orgID,
		filter: filter,
		events: make(chan *Event, subscriberQueueSize),
		done:   make(chan struct{}),
	}
}

// Events is the channel the SSE Streamer reads from.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// EndOfStream is closed when the bus tears this subscription down: user
// revoked/frozen, org expired, or server stopping (§4.3c).
func (s *Subscription) EndOfStream() <-chan struct{} {
	return s.done
}

// deliver attempts a non-blocking send; a full queue means the subscriber is
// too slow and is disconnected instead of silently dropping events (§5).
func (s *Subscription) deliver(ev *Event) {
	select {
	case s.events <- ev:
		queueDepthHistogram.Observe(float64(len(s.events)))
	default:
		disconnectCounter.WithLabelValues("queue_overflow").Inc()
		s.endOfStream()
	}
}

func (s *Subscription) endOfStream() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Close releases the subscription's bus registration; the caller (the SSE
// handler, on peer disconnect) must call this to avoid leaking entries in
// the organization's subscriber set.
func (s *Subscription) Close(bus *Bus) {
	s.endOfStream()
	bus.unsubscribe(s.orgID, s)
}
