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

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ringSize is the number of most-recent events retained per organization for
// SSE resume (§4.3b).
const ringSize = 256

// subscriberQueueSize bounds each subscriber's delivery channel (§5: "bounded
// queues; on overflow the subscriber is disconnected").
const subscriberQueueSize = 64

var (
	subscriberGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "parsec",
		Subsystem: "events",
		Name:      "subscribers",
		Help:      "Number of live Event Bus subscriptions per organization.",
	}, []string{"org_id"})

	queueDepthHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "parsec",
		Subsystem: "events",
		Name:      "subscriber_queue_depth",
		Help:      "Observed subscriber queue depth at publish time.",
		Buckets:   prometheus.LinearBuckets(0, 8, 8),
	})

	disconnectCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parsec",
		Subsystem: "events",
		Name:      "subscriber_disconnects_total",
		Help:      "Subscribers torn down, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(subscriberGauge, queueDepthHistogram, disconnectCounter)
}

type ring struct {
	mu     sync.Mutex
	buf    []*Event
	byID   map[uuid.UUID]int // event ID -> index in buf
}

func newRing() *ring {
	return &ring{
		buf:  make([]*Event, 0, ringSize),
		byID: make(map[uuid.UUID]int),
	}
}

func (r *ring) push(ev *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == ringSize {
		evicted := r.buf[0]
		delete(r.byID, evicted.ID)
		r.buf = r.buf[1:]
		for id, idx := range r.byID {
			r.byID[id] = idx - 1
		}
	}
	r.byID[ev.ID] = len(r.buf)
	r.buf = append(r.buf, ev)
}

// after returns events strictly after lastEventID, and whether lastEventID
// was still present in the ring (false means the caller should be told
// missed_events instead, per §4.3b).
func (r *ring) after(lastEventID uuid.UUID) ([]*Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.byID[lastEventID]
	if !ok {
		return nil, false
	}
	out := make([]*Event, len(r.buf)-idx-1)
	copy(out, r.buf[idx+1:])
	return out, true
}

type orgBus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
	ring *ring
}

func newOrgBus() *orgBus {
	return &orgBus{
		subs: make(map[*Subscription]struct{}),
		ring: newRing(),
	}
}

// Bus is the in-process Event Bus (§4.3). The zero value is not usable; use
// NewBus.
type Bus struct {
	log *logrus.Entry

	mu   sync.Mutex
	orgs map[string]*orgBus
}

// NewBus returns an empty, ready-to-use Bus.
func NewBus(log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{log: log.WithField(trace.Component, "events"), orgs: make(map[string]*orgBus)}
}

func (b *Bus) org(orgID string) *orgBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orgs[orgID]
	if !ok {
		o = newOrgBus()
		b.orgs[orgID] = o
	}
	return o
}

// Filter scopes which events a Subscription receives: org-wide events (no
// RealmID) always match; realm-scoped events match only if RealmIDs contains
// the event's realm.
type Filter struct {
	UserID   string
	RealmIDs map[string]struct{}
}

func (f Filter) matches(ev *Event) bool {
	if ev.RealmID == "" {
		return true
	}
	_, ok := f.RealmIDs[ev.RealmID]
	return ok
}

// Subscribe registers a new Subscription for orgID matching filter (§4.3a).
func (b *Bus) Subscribe(orgID string, filter Filter) *Subscription {
	ob := b.org(orgID)
	sub := newSubscription(orgID, filter)
	ob.mu.Lock()
	ob.subs[sub] = struct{}{}
	ob.mu.Unlock()
	subscriberGauge.WithLabelValues(orgID).Inc()
	return sub
}

func (b *Bus) unsubscribe(orgID string, sub *Subscription) {
	ob := b.org(orgID)
	ob.mu.Lock()
	delete(ob.subs, sub)
	ob.mu.Unlock()
	subscriberGauge.WithLabelValues(orgID).Dec()
}

// ReplayAfter returns the buffered events after lastEventID for resume, and
// whether lastEventID was still present (§4.3b, §4.11 step 1).
func (b *Bus) ReplayAfter(orgID string, lastEventID uuid.UUID) ([]*Event, bool) {
	return b.org(orgID).ring.after(lastEventID)
}

// Publish delivers ev to every subscriber registered for its organization at
// the time of the call (§4.3a: "delivered to all subscribers registered at
// publish time"), and records it in the organization's ring buffer.
func (b *Bus) Publish(ev *Event) {
	ob := b.org(ev.OrgID)
	ob.ring.push(ev)

	ob.mu.Lock()
	subs := make([]*Subscription, 0, len(ob.subs))
	for s := range ob.subs {
		subs = append(subs, s)
	}
	ob.mu.Unlock()

	for _, sub := range subs {
		if !sub.filter.matches(ev) {
			continue
		}
		sub.deliver(ev)
	}
}

// DisconnectUser tears down every live subscription belonging to userID in
// orgID with EndOfStream (§4.3c): used when a user is revoked or frozen.
func (b *Bus) DisconnectUser(orgID, userID string) {
	ob := b.org(orgID)
	ob.mu.Lock()
	var victims []*Subscription
	for s := range ob.subs {
		if s.filter.UserID == userID {
			victims = append(victims, s)
		}
	}
	ob.mu.Unlock()
	for _, sub := range victims {
		disconnectCounter.WithLabelValues("user_invalidated").Inc()
		sub.endOfStream()
	}
}

// DisconnectOrg tears down every live subscription for orgID with
// EndOfStream (§4.3c): used when an organization is marked expired, or the
// server is stopping.
func (b *Bus) DisconnectOrg(orgID string) {
	ob := b.org(orgID)
	ob.mu.Lock()
	var victims []*Subscription
	for s := range ob.subs {
		victims = append(victims, s)
	}
	ob.mu.Unlock()
	for _, sub := range victims {
		disconnectCounter.WithLabelValues("org_invalidated").Inc()
		sub.endOfStream()
	}
}
