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

package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/parsec-io/parsec-server/api/types"
	apievents "github.com/parsec-io/parsec-server/api/types/events"
	"github.com/parsec-io/parsec-server/lib/auth"
	"github.com/parsec-io/parsec-server/lib/events"
)

// sseHandler implements the SSE Streamer (§4.11) for GET
// /authenticated/{org}/events.
func (h *Handler) sseHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		id, ok := h.cfg.AuthDeps.Authenticate(auth.ScopeAuthenticated, w, r, p)
		if !ok {
			return
		}

		flusher, canFlush := w.(http.Flusher)
		if !canFlush {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		filter, err := h.subscriptionFilter(r, id)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		sub := h.cfg.Bus.Subscribe(id.OrgID, filter)
		defer sub.Close(h.cfg.Bus)

		// If the subscription was torn down the instant it registered (an
		// identity invalidation raced the connect), abort before committing
		// to a 200 and the SSE content type (§4.11 state machine).
		select {
		case <-sub.EndOfStream():
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		default:
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if lastEventID, ok := lastEventIDHeader(r); ok {
			replayed, resumable := h.cfg.Bus.ReplayAfter(id.OrgID, lastEventID)
			if !resumable {
				w.Write(events.MissedEventsFrame())
			} else {
				for _, ev := range replayed {
					w.Write(ev.Frame())
				}
			}
			flusher.Flush()
		}

		org, err := h.cfg.Store.GetOrganization(r.Context(), id.OrgID)
		if err == nil {
			cfgEvent := events.New(id.OrgID, apievents.KindOrganizationConfig, apievents.OrganizationConfig{
				ActiveUsersLimitUnbounded: org.ActiveUsersLimit.Unbounded(),
				ActiveUsersLimit:          uint64(org.ActiveUsersLimit),
				OutsiderProfilePolicy:     string(org.OutsiderProfilePolicy),
				ClientAgentPolicy:         string(org.ClientAgentPolicy),
				TOSUpdatedAt:              tosUpdatedAt(org),
			})
			w.Write(cfgEvent.Frame())
			flusher.Flush()
		}

		h.streamLoop(w, r, flusher, sub)
	}
}

// streamLoop runs §4.11 step 3-4: await an event, the keep-alive tick, peer
// disconnect or EndOfStream, in the order the state machine implies.
func (h *Handler) streamLoop(w http.ResponseWriter, r *http.Request, flusher http.Flusher, sub *events.Subscription) {
	ticker := h.cfg.Clock.NewTicker(h.cfg.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			w.Write(ev.Frame())
			flusher.Flush()

		case <-ticker.Chan():
			w.Write(events.KeepaliveFrame())
			flusher.Flush()

		case <-sub.EndOfStream():
			return

		case <-r.Context().Done():
			return
		}
	}
}

// subscriptionFilter resolves which realms id's user currently or formerly
// belongs to, so realm-scoped events are delivered only to members (§4.3).
func (h *Handler) subscriptionFilter(r *http.Request, id *auth.Identity) (events.Filter, error) {
	realms, err := h.cfg.Store.ListRealmsForUser(r.Context(), id.OrgID, id.UserID)
	if err != nil {
		return events.Filter{}, err
	}
	realmIDs := make(map[string]struct{}, len(realms))
	for _, realm := range realms {
		realmIDs[realm.ID] = struct{}{}
	}
	return events.Filter{UserID: id.UserID, RealmIDs: realmIDs}, nil
}

// lastEventIDHeader parses the "Last-Event-Id: <uuid-hex>" resume header
// (§6, §4.11 step 1).
func lastEventIDHeader(r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("Last-Event-Id")
	if raw == "" {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}

func tosUpdatedAt(org *types.Organization) *time.Time {
	if org.TOS == nil {
		return nil
	}
	at := org.TOS.UpdatedAt
	return &at
}
