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

// Package events implements the Event Bus (§4.3): an in-process broker that
// fans published events out to registered subscribers, with a per-organization
// ring buffer so SSE subscribers can resume after a reconnect.
package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	apievents "github.com/parsec-io/parsec-server/api/types/events"
)

// Event is one envelope fanned out by the bus: a typed payload plus the
// addressing fields subscribers filter on.
type Event struct {
	ID        uuid.UUID
	OrgID     string
	Kind      apievents.Kind
	RealmID   string // set only for realm-scoped kinds (§4.3)
	UserID    string // set only for user-targeted kinds
	Payload   interface{}

	frame []byte
}

// New builds an Event and pre-renders its SSE wire frame (§12: "pre-serialized
// SSE frames"), so publication never pays JSON-encoding cost per subscriber.
func New(orgID string, kind apievents.Kind, payload interface{}) *Event {
	ev := &Event{
		ID:      uuid.New(),
		OrgID:   orgID,
		Kind:    kind,
		Payload: payload,
	}
	switch p := payload.(type) {
	case apievents.RealmCertificate:
		ev.RealmID = p.RealmID
	case apievents.Vlob:
		ev.RealmID = p.RealmID
	case apievents.UserRevokedOrFrozen:
		ev.UserID = p.UserID
	case apievents.UserUnfrozen:
		ev.UserID = p.UserID
	case apievents.UserUpdated:
		ev.UserID = p.UserID
	}
	ev.frame = ev.render()
	return ev
}

// render builds the W3C SSE frame: "event: <type>\ndata: <payload>\nid: <uuid>\n\n"
// (§4.3, §6), where <type> is the event kind in lower case (e.g.
// "organization_config"). The payload is JSON: unlike the msgpack RPC wire
// format, SSE frames are consumed as text by the grammar itself.
func (e *Event) render() []byte {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		data = []byte("null")
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n", strings.ToLower(string(e.Kind)), data, e.ID))
}

// Frame returns the pre-encoded SSE frame for this event.
func (e *Event) Frame() []byte {
	return e.frame
}

// missedEventsFrame is sent in place of a replay when a subscriber's
// Last-Event-Id has aged out of the ring buffer (§4.3b, §4.11).
var missedEventsFrame = []byte("event: missed_events\ndata:\n\n")

// keepaliveFrame is the distinct named keep-alive event (§6: "not a
// comment"), so its absence for 2x the interval signals connection loss.
var keepaliveFrame = []byte("event: keepalive\ndata:\n\n")

// MissedEventsFrame returns the frame the SSE Streamer sends in place of a
// replay when the client's Last-Event-Id has aged out of the ring buffer.
func MissedEventsFrame() []byte { return missedEventsFrame }

// KeepaliveFrame returns the frame the SSE Streamer sends on each
// keep-alive tick.
func KeepaliveFrame() []byte { return keepaliveFrame }
