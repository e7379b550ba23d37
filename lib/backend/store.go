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

package backend

import (
	"context"
	"time"

	"github.com/parsec-io/parsec-server/api/types"
)

// Store is the Data Store contract (§4.4). It holds per-organization state
// (§3) and exposes the per-topic locking primitive (§4.4, §5) alongside
// plain CRUD-shaped accessors. Components (lib/services) are responsible
// for sequencing "acquire lock, validate, mutate, record write, unlock,
// emit event" themselves; Store only guarantees the mutations are
// consistent once they do.
type Store interface {
	// Locks returns the per-topic lock manager for an organization,
	// creating it if this is the first time the org is touched.
	Locks(orgID string) *TopicLocks

	// --- organizations -------------------------------------------------
	CreateOrganization(ctx context.Context, org *types.Organization) error
	GetOrganization(ctx context.Context, orgID string) (*types.Organization, error)
	UpdateOrganization(ctx context.Context, org *types.Organization) error
	ListOrganizations(ctx context.Context) ([]*types.Organization, error)

	// --- users / devices -------------------------------------------------
	CreateUser(ctx context.Context, orgID string, user *types.User, device *types.Device) error
	GetUser(ctx context.Context, orgID, userID string) (*types.User, error)
	GetUserByEmail(ctx context.Context, orgID, email string) (*types.User, error)
	UpdateUser(ctx context.Context, orgID string, user *types.User) error
	ListUsers(ctx context.Context, orgID string) ([]*types.User, error)

	CreateDevice(ctx context.Context, orgID string, device *types.Device) error
	GetDevice(ctx context.Context, orgID, deviceID string) (*types.Device, error)
	ListDevices(ctx context.Context, orgID, userID string) ([]*types.Device, error)

	// --- certificates ----------------------------------------------------
	// AppendCertificate stores a certificate under the given topic in
	// insertion order. Callers must hold the topic's write lock.
	AppendCertificate(ctx context.Context, orgID string, topic types.Topic, cert *types.Certificate) error
	// ListCertificates returns certificates recorded for topic with
	// Timestamp strictly after `after` (nil means since the beginning),
	// in insertion order.
	ListCertificates(ctx context.Context, orgID string, topic types.Topic, after *time.Time) ([]*types.Certificate, error)

	// --- realms ------------------------------------------------------------
	CreateRealm(ctx context.Context, orgID string, realm *types.Realm) error
	GetRealm(ctx context.Context, orgID, realmID string) (*types.Realm, error)
	UpdateRealm(ctx context.Context, orgID string, realm *types.Realm) error
	ListRealmsForUser(ctx context.Context, orgID, userID string) ([]*types.Realm, error)
	ListRealms(ctx context.Context, orgID string) ([]*types.Realm, error)

	// --- vlobs ---------------------------------------------------------
	CreateVlob(ctx context.Context, orgID, realmID string, vlob *types.Vlob) error
	GetVlob(ctx context.Context, orgID, realmID, vlobID string) (*types.Vlob, error)
	UpdateVlob(ctx context.Context, orgID, realmID string, vlob *types.Vlob) error
	ListVlobs(ctx context.Context, orgID, realmID string) ([]*types.Vlob, error)

	// --- invitations -----------------------------------------------------
	CreateInvitation(ctx context.Context, orgID string, inv *types.Invitation) error
	GetInvitation(ctx context.Context, orgID, token string) (*types.Invitation, error)
	UpdateInvitation(ctx context.Context, orgID string, inv *types.Invitation) error
	ListInvitations(ctx context.Context, orgID string) ([]*types.Invitation, error)
	DeleteInvitation(ctx context.Context, orgID, token string) error
}
