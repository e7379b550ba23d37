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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apievents "github.com/parsec-io/parsec-server/api/types/events"
)

func TestPublishDeliversToRegisteredSubscriber(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("org1", Filter{UserID: "alice"})

	ev := New("org1", apievents.KindPinged, apievents.Pinged{Ping: "hello"})
	bus.Publish(ev)

	select {
	case got := <-sub.Events():
		require.Equal(t, ev.ID, got.ID)
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestRealmScopedEventsAreFiltered(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("org1", Filter{RealmIDs: map[string]struct{}{"realmA": {}}})

	bus.Publish(New("org1", apievents.KindRealmCertificate, apievents.RealmCertificate{RealmID: "realmB"}))
	select {
	case <-sub.Events():
		t.Fatal("did not expect delivery for a realm outside the filter")
	default:
	}

	bus.Publish(New("org1", apievents.KindRealmCertificate, apievents.RealmCertificate{RealmID: "realmA"}))
	select {
	case <-sub.Events():
	default:
		t.Fatal("expected delivery for a realm inside the filter")
	}
}

func TestReplayAfterUnknownIDSignalsMissedEvents(t *testing.T) {
	bus := NewBus(nil)
	_, ok := bus.ReplayAfter("org1", uuid.New())
	require.False(t, ok)
}

func TestReplayAfterReturnsEventsSincePublication(t *testing.T) {
	bus := NewBus(nil)
	first := New("org1", apievents.KindPinged, apievents.Pinged{Ping: "1"})
	bus.Publish(first)
	second := New("org1", apievents.KindPinged, apievents.Pinged{Ping: "2"})
	bus.Publish(second)

	after, ok := bus.ReplayAfter("org1", first.ID)
	require.True(t, ok)
	require.Len(t, after, 1)
	require.Equal(t, second.ID, after[0].ID)
}

func TestDisconnectUserSignalsEndOfStream(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("org1", Filter{UserID: "alice"})
	bus.DisconnectUser("org1", "alice")

	select {
	case <-sub.EndOfStream():
	default:
		t.Fatal("expected EndOfStream to be signalled")
	}
}

func TestQueueOverflowDisconnectsSubscriber(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("org1", Filter{})

	for i := 0; i < subscriberQueueSize+1; i++ {
		bus.Publish(New("org1", apievents.KindPinged, apievents.Pinged{Ping: "x"}))
	}

	select {
	case <-sub.EndOfStream():
	default:
		t.Fatal("expected overflow to disconnect the subscriber")
	}
}
