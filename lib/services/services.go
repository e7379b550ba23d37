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

// Package services implements the Organization, User, Realm and Vlob
// components (§4.5-§4.8): the business logic bound to RPC commands by the
// dispatcher, each one sequencing "resolve, validate, commit, emit" over the
// Data Store and Event Bus.
package services

import (
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/crypto"
	"github.com/parsec-io/parsec-server/lib/events"
)

// Deps are the shared collaborators every component is built from, mirroring
// the teacher's convention of small *Config structs with CheckAndSetDefaults
// rather than a single monolithic server object.
type Deps struct {
	Store   backend.Store
	Bus     *events.Bus
	Crypto  *crypto.Verifier
	Clock   clockwork.Clock
	Log     *logrus.Entry
}

func (d *Deps) checkAndSetDefaults(component string) error {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Crypto == nil {
		d.Crypto = &crypto.Verifier{Clock: d.Clock}
	}
	if d.Log == nil {
		d.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	d.Log = d.Log.WithField("component", component)
	return nil
}
