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

package main

import (
	"net/http"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/lib/auth"
	"github.com/parsec-io/parsec-server/lib/backend/memory"
	"github.com/parsec-io/parsec-server/lib/config"
	"github.com/parsec-io/parsec-server/lib/crypto"
	"github.com/parsec-io/parsec-server/lib/events"
	"github.com/parsec-io/parsec-server/lib/joinserver"
	"github.com/parsec-io/parsec-server/lib/services"
	"github.com/parsec-io/parsec-server/lib/web"
)

// buildHandler wires the Data Store, Event Bus, Crypto Verifier, service
// components, Auth Pipeline and RPC Dispatcher into a single HTTP handler,
// the way the teacher's service.Process assembles its subsystems from one
// Config.
func buildHandler(cfg *config.Config, log *logrus.Logger) (http.Handler, error) {
	entry := logrus.NewEntry(log)
	clock := clockwork.NewRealClock()

	store := memory.New()
	bus := events.NewBus(entry.WithField(trace.Component, "events"))
	verifier := &crypto.Verifier{Clock: clock}

	svcDeps := services.Deps{Store: store, Bus: bus, Crypto: verifier, Clock: clock, Log: entry}

	orgs, err := services.NewOrganizations(svcDeps)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	users, err := services.NewUsers(svcDeps)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	realms, err := services.NewRealms(svcDeps)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	vlobs, err := services.NewVlobs(svcDeps)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sequester, err := services.NewSequester(svcDeps)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	invitations, err := joinserver.NewInvitations(joinserver.Deps{
		Store: store,
		Bus:   bus,
		Clock: clock,
		Log:   entry,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	authDeps := &auth.Deps{Store: store, Users: users, Crypto: verifier, Clock: clock, Log: entry}
	comps := auth.Components{
		Organizations: orgs,
		Users:         users,
		Realms:        realms,
		Vlobs:         vlobs,
		Invitations:   invitations,
		Sequester:     sequester,
		Crypto:        verifier,
		Clock:         clock,
	}

	handler, err := web.NewHandler(web.Config{
		Store:      store,
		Components: comps,
		Bus:        bus,
		AuthDeps:   authDeps,
		Keepalive:  cfg.Server.Keepalive,
		Clock:      clock,
		Log:        entry,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return handler, nil
}
