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

// Package web wires the Auth Pipeline and RPC Dispatcher (lib/auth) and the
// SSE Streamer (§4.11) into the HTTP routes of §6, using httprouter the way
// the teacher's own lib/web does.
package web

import (
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/lib/auth"
	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/events"
)

// defaultKeepalive is the SSE keep-alive tick used when Config.Keepalive is
// zero (§8 S5 uses 15s explicitly in its scenario).
const defaultKeepalive = 15 * time.Second

// Config bundles the collaborators a Handler is built from, following the
// teacher's small-Config-plus-CheckAndSetDefaults convention.
type Config struct {
	Store      backend.Store
	Components auth.Components
	Bus        *events.Bus
	AuthDeps   *auth.Deps
	Keepalive  time.Duration
	Clock      clockwork.Clock
	Log        *logrus.Entry
}

func (c *Config) checkAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if c.Bus == nil {
		return trace.BadParameter("missing parameter Bus")
	}
	if c.AuthDeps == nil {
		return trace.BadParameter("missing parameter AuthDeps")
	}
	if c.Keepalive == 0 {
		c.Keepalive = defaultKeepalive
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	c.Log = c.Log.WithField(trace.Component, "web")
	return nil
}

// Handler is the top-level Parsec HTTP handler (§6). It embeds
// *httprouter.Router so callers can pass a Handler directly to http.Server.
type Handler struct {
	*httprouter.Router

	cfg Config
}

// NewHandler builds a Handler with every route of §6 registered.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	h := &Handler{
		Router: httprouter.New(),
		cfg:    cfg,
	}

	h.POST("/anonymous/:org", h.rpcHandler(auth.ScopeAnonymous))
	h.GET("/anonymous/:org", h.probeHandler())
	h.POST("/invited/:org", h.rpcHandler(auth.ScopeInvited))
	h.POST("/authenticated/:org", h.rpcHandler(auth.ScopeAuthenticated))
	h.GET("/authenticated/:org/events", h.sseHandler())
	h.POST("/authenticated/:org/tos", h.rpcHandler(auth.ScopeAuthenticatedTOS))
	h.POST("/anonymous_account", h.accountHandler(auth.ScopeAnonymousAccount))
	h.POST("/authenticated_account", h.accountHandler(auth.ScopeAuthenticatedAccount))

	return h, nil
}

// probeHandler answers the bare GET liveness probe on the anonymous scope
// (§6: "GET returns 200 + empty body to probe"). It still runs the pipeline
// so a bad API version or unknown organization reports the same status a
// real RPC would.
func (h *Handler) probeHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if _, ok := h.cfg.AuthDeps.Authenticate(auth.ScopeAnonymous, w, r, p); !ok {
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
