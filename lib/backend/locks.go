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

// Package backend defines the Data Store contract (§4.4): per-organization
// state with per-topic write-serialization and a timestamp ordering gate
// (§5). Two implementations satisfy this contract interchangeably — an
// in-memory reference store (lib/backend/memory) used here, and a
// relational one, out of scope per §1 — exactly as the teacher's own
// backend.Backend is satisfied by several concrete stores behind one
// interface.
package backend

import (
	"sort"
	"sync"
	"time"

	"github.com/parsec-io/parsec-server/api/types"
)

// TopicLocks manages the per-topic write-serialization and the
// last-certificate-or-vlob timestamp gate for a single organization (§4.4,
// §5). Two writes touching disjoint topics proceed concurrently; writes
// sharing a topic serialize on that topic's lock. The global last timestamp
// is the max across all topics' last timestamps, and gates every write: a
// write only commits if its own timestamp strictly exceeds it.
type TopicLocks struct {
	mu sync.Mutex // protects the maps below, held only for bookkeeping, never across a caller's critical section

	topicLocks map[types.Topic]*sync.RWMutex
	lastWrite  map[types.Topic]time.Time
}

// NewTopicLocks returns an empty TopicLocks ready to use.
func NewTopicLocks() *TopicLocks {
	return &TopicLocks{
		topicLocks: make(map[types.Topic]*sync.RWMutex),
		lastWrite:  make(map[types.Topic]time.Time),
	}
}

func (t *TopicLocks) lockFor(topic types.Topic) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.topicLocks[topic]
	if !ok {
		l = &sync.RWMutex{}
		t.topicLocks[topic] = l
	}
	return l
}

// WriteLock acquires write locks for topics in a stable order (sorted by
// name) to avoid deadlocks when two writers touch overlapping topic sets in
// different orders, then returns an unlock function. Topics are deduped.
func (t *TopicLocks) WriteLock(topics ...types.Topic) func() {
	uniq := dedupeSortTopics(topics)
	locks := make([]*sync.RWMutex, len(uniq))
	for i, topic := range uniq {
		locks[i] = t.lockFor(topic)
	}
	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// ReadLock acquires read locks for topics, same ordering discipline as
// WriteLock.
func (t *TopicLocks) ReadLock(topics ...types.Topic) func() {
	uniq := dedupeSortTopics(topics)
	locks := make([]*sync.RWMutex, len(uniq))
	for i, topic := range uniq {
		locks[i] = t.lockFor(topic)
	}
	for _, l := range locks {
		l.RLock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].RUnlock()
		}
	}
}

// GlobalLastTimestamp returns the max last-write timestamp across every
// topic: the ordering gate for new certificate/vlob writes (§3, §5).
func (t *TopicLocks) GlobalLastTimestamp() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	var max time.Time
	for _, ts := range t.lastWrite {
		if ts.After(max) {
			max = ts
		}
	}
	return max
}

// TopicLastTimestamp returns the last-write timestamp recorded for one
// topic, used to build the RepBadKeyIndex/RepBadVlobVersion watermark and
// the needed_*_certificate_timestamp fields (§4.8).
func (t *TopicLocks) TopicLastTimestamp(topic types.Topic) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastWrite[topic]
}

// RecordWrite stamps topic's last-write timestamp after a successful commit.
// Callers must hold a write lock on topic (acquired via WriteLock) for the
// whole validate-then-commit critical section; RecordWrite itself only
// updates bookkeeping.
func (t *TopicLocks) RecordWrite(topic types.Topic, timestamp time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timestamp.After(t.lastWrite[topic]) {
		t.lastWrite[topic] = timestamp
	}
}

func dedupeSortTopics(topics []types.Topic) []types.Topic {
	seen := make(map[types.Topic]struct{}, len(topics))
	out := make([]types.Topic, 0, len(topics))
	for _, topic := range topics {
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
