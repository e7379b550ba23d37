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

// Package memory is the in-memory reference implementation of
// backend.Store (§9: "a purely in-memory model (for tests)"). It is a
// complete implementation of the Data Store contract, suitable for both
// the test suite and a single-process deployment.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"

	"github.com/parsec-io/parsec-server/api/types"
	"github.com/parsec-io/parsec-server/lib/backend"
)

type certEntry struct {
	topic types.Topic
	cert  *types.Certificate
}

// orgState is one organization's full in-memory state (§3), guarded by mu
// for map-shaped mutations; ordering/timestamp-gate guarantees are the
// caller's responsibility via TopicLocks (§4.4).
type orgState struct {
	mu sync.RWMutex

	org *types.Organization

	users       map[string]*types.User
	usersByMail map[string]string // active users only, invariant 5
	devices     map[string]*types.Device

	certsByTopic map[types.Topic][]*types.Certificate

	realms map[string]*types.Realm
	vlobs  map[string]map[string]*types.Vlob // realmID -> vlobID -> vlob

	invitations map[string]*types.Invitation

	locks *backend.TopicLocks
}

func newOrgState() *orgState {
	return &orgState{
		users:        make(map[string]*types.User),
		usersByMail:  make(map[string]string),
		devices:      make(map[string]*types.Device),
		certsByTopic: make(map[types.Topic][]*types.Certificate),
		realms:       make(map[string]*types.Realm),
		vlobs:        make(map[string]map[string]*types.Vlob),
		invitations:  make(map[string]*types.Invitation),
		locks:        backend.NewTopicLocks(),
	}
}

// Store is the in-memory Data Store.
type Store struct {
	mu   sync.RWMutex
	orgs map[string]*orgState
}

var _ backend.Store = (*Store)(nil)

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{orgs: make(map[string]*orgState)}
}

func (s *Store) org(orgID string) (*orgState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[orgID]
	return o, ok
}

func (s *Store) orgOrCreate(orgID string) *orgState {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[orgID]
	if !ok {
		o = newOrgState()
		s.orgs[orgID] = o
	}
	return o
}

// Locks implements backend.Store.
func (s *Store) Locks(orgID string) *backend.TopicLocks {
	return s.orgOrCreate(orgID).locks
}

// --- organizations -------------------------------------------------------

func (s *Store) CreateOrganization(ctx context.Context, org *types.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[org.ID]
	if ok && o.org.IsBootstrapped() {
		return trace.AlreadyExists("organization %q already bootstrapped", org.ID)
	}
	if !ok {
		o = newOrgState()
		s.orgs[org.ID] = o
	}
	cp := *org
	o.org = &cp
	return nil
}

func (s *Store) GetOrganization(ctx context.Context, orgID string) (*types.Organization, error) {
	o, ok := s.org(orgID)
	if !ok || o.org == nil {
		return nil, trace.NotFound("organization %q not found", orgID)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	cp := *o.org
	return &cp, nil
}

func (s *Store) UpdateOrganization(ctx context.Context, org *types.Organization) error {
	o, ok := s.org(org.ID)
	if !ok {
		return trace.NotFound("organization %q not found", org.ID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := *org
	o.org = &cp
	return nil
}

func (s *Store) ListOrganizations(ctx context.Context) ([]*types.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		o.mu.RLock()
		if o.org != nil {
			cp := *o.org
			out = append(out, &cp)
		}
		o.mu.RUnlock()
	}
	return out, nil
}

// --- users / devices -------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, orgID string, user *types.User, device *types.Device) error {
	o := s.orgOrCreate(orgID)
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.users[user.ID]; exists {
		return trace.AlreadyExists("user %q already exists", user.ID)
	}
	if existingID, exists := o.usersByMail[user.HumanHandle.Email]; exists {
		return trace.AlreadyExists("email %q already in use by user %q", user.HumanHandle.Email, existingID)
	}
	if _, exists := o.devices[device.ID]; exists {
		return trace.AlreadyExists("device %q already exists", device.ID)
	}
	uc := *user
	o.users[user.ID] = &uc
	o.usersByMail[user.HumanHandle.Email] = user.ID
	dc := *device
	o.devices[device.ID] = &dc
	return nil
}

func (s *Store) GetUser(ctx context.Context, orgID, userID string) (*types.User, error) {
	o, ok := s.org(orgID)
	if !ok {
		return nil, trace.NotFound("organization %q not found", orgID)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	u, ok := o.users[userID]
	if !ok {
		return nil, trace.NotFound("user %q not found", userID)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, orgID, email string) (*types.User, error) {
	o, ok := s.org(orgID)
	if !ok {
		return nil, trace.NotFound("organization %q not found", orgID)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	id, ok := o.usersByMail[email]
	if !ok {
		return nil, trace.NotFound("no active user with email %q", email)
	}
	cp := *o.users[id]
	return &cp, nil
}

func (s *Store) UpdateUser(ctx context.Context, orgID string, user *types.User) error {
	o, ok := s.org(orgID)
	if !ok {
		return trace.NotFound("organization %q not found", orgID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	prev, ok := o.users[user.ID]
	if !ok {
		return trace.NotFound("user %q not found", user.ID)
	}
	// Keep the email index in sync with revocation: a revoked user frees
	// its email for reuse by future active users (invariant 5 only binds
	// "active" users).
	if prev.RevokedAt == nil && user.RevokedAt != nil {
		delete(o.usersByMail, prev.HumanHandle.Email)
	}
	cp := *user
	o.users[user.ID] = &cp
	return nil
}

func (s *Store) ListUsers(ctx context.Context, orgID string) ([]*types.User, error) {
	o, ok := s.org(orgID)
	if !ok {
		return nil, trace.NotFound("organization %q not found", orgID)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*types.User, 0, len(o.users))
	for _, u := range o.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) CreateDevice(ctx context.Context, orgID string, device *types.Device) error {
	o, ok := s.org(orgID)
	if !ok {
		return trace.NotFound("organization %q not found", orgID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.devices[device.ID]; exists {
		return trace.AlreadyExists("device %q already exists", device.ID)
	}
	if _, exists := o.users[device.UserID]; !exists {
		return trace.NotFound("user %q not found", device.UserID)
	}
	cp := *device
	o.devices[device.ID] = &cp
	return nil
}

func (s *Store) GetDevice(ctx context.Context, orgID, deviceID string) (*types.Device, error) {
	o, ok := s.org(orgID)
	if !ok {
		return nil, trace.NotFound("organization %q not found", orgID)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	d, ok := o.devices[deviceID]
	if !ok {
		return nil, trace.NotFound("device %q not found", deviceID)
	}
	cp := *d
	return &cp, nil
}

func (s *Store) ListDevices(ctx context.Context, orgID, userID string) ([]*types.Device, error) {
	o, ok := s.org(orgID)
	if !ok {
		return nil, trace.NotFound("organization %q not found", orgID)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*types.Device
	for _, d := range o.devices {
		if d.UserID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- certificates ------------------------------------------------------

func (s *Store) AppendCertificate(ctx context.Context, orgID string, topic types.Topic, cert *types.Certificate) error {
	o := s.orgOrCreate(orgID)
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := *cert
	o.certsByTopic[topic] = append(o.certsByTopic[topic], &cp)
	return nil
}

func (s *Store) ListCertificates(ctx context.Context, orgID string, topic types.Topic, after *time.Time) ([]*types.Certificate, error) {
	o, ok := s.org(orgID)
	if !ok {
		return nil, trace.NotFound("organization %q not found", orgID)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*types.Certificate
	for _, c := range o.certsByTopic[topic] {
		if after != nil && !c.Timestamp.After(*after) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// --- realms --------------------------------------------------------------

func (s *Store) CreateRealm(ctx context.Context, orgID string, realm *types.Realm) error {
	o := s.orgOrCreate(orgID)
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.realms[realm.ID]; exists {
		return trace.AlreadyExists("realm %q already exists", realm.ID)
	}
	cp := *realm
	o.realms[realm.ID] = &cp
	o.vlobs[realm.ID] = make(map[string]*types.Vlob)
	return nil
}

func (s *Store) GetRealm(ctx context.Context, orgID, realmID string) (*types.Realm, error) {
	o, ok := s.org(orgID)
	if !ok {
		return nil, trace.NotFound("organization %q not found", orgID)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.realms[realmID]
	if !ok {
		return nil, trace.NotFound("realm %q not found", realmID)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) UpdateRealm(ctx context.Context, orgID string, realm *types.Realm) error {
	o, ok := s.org(orgID)
	if !ok {
		return trace.NotFound("organization %q not found", orgID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.realms[realm.ID]; !exists {
		return trace.NotFound("realm %q not found", realm.ID)
	}
	cp := *realm
	o.realms[realm.ID] = &cp
	return nil
}

func (s *Store) ListRealmsForUser(ctx context.Context, orgID, userID string) ([]*types.Realm, error) {
	o, ok := s.org(orgID)
	if !ok {
		return nil, trace.NotFound("organization %q not found", orgID)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*types.Realm
	for _, r := range o.realms {
		if r.EverMember(userID) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListRealms(ctx context.Context, orgID string) ([]*types.Realm, error) {
	o, ok := s.org(orgID)
	if !ok {
		return nil, trace.NotFound("organization %q not found", orgID)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*types.Realm, 0, len(o.realms))
	for _, r := range o.realms {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

// --- vlobs ---------------------------------------------------------------

func (s *Store) CreateVlob(ctx context.Context, orgID, realmID string, vlob *types.Vlob) error {
	o, ok := s.org(orgID)
	if !ok {
		return trace.NotFound("organization %q not found", orgID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	realmVlobs, ok := o.vlobs[realmID]
	if !ok {
		return trace.NotFound("realm %q not found", realmID)
	}
	if _, exists := realmVlobs[vlob.ID]; exists {
		return trace.AlreadyExists("vlob %q already exists", vlob.ID)
	}
	cp := *vlob
	realmVlobs[vlob.ID] = &cp
	return nil
}

func (s *Store) GetVlob(ctx context.Context, orgID, realmID, vlobID string) (*types.Vlob, error) {
	o, ok := s.org(orgID)
	if !ok {
		return nil, trace.NotFound("organization %q not found", orgID)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	realmVlobs, ok := o.vlobs[realmID]
	if !ok {
		return nil, trace.NotFound("realm %q not found", realmID)
	}
	v, ok := realmVlobs[vlobID]
	if !ok {
		return nil, trace.NotFound("vlob %q not found", vlobID)
	}
	cp := *v
	return &cp, nil
}

func (s *Store) ListVlobs(ctx context.Context, orgID, realmID string) ([]*types.Vlob, error) {
	o, ok := s.org(orgID)
	if !ok {
		return nil, trace.NotFound("organization %q not found", orgID)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	realmVlobs, ok := o.vlobs[realmID]
	if !ok {
		return nil, trace.NotFound("realm %q not found", realmID)
	}
	out := make([]*types.Vlob, 0, len(realmVlobs))
	for _, v := range realmVlobs {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) UpdateVlob(ctx context.Context, orgID, realmID string, vlob *types.Vlob) error {
	o, ok := s.org(orgID)
	if !ok {
		return trace.NotFound("organization %q not found", orgID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	realmVlobs, ok := o.vlobs[realmID]
	if !ok {
		return trace.NotFound("realm %q not found", realmID)
	}
	if _, exists := realmVlobs[vlob.ID]; !exists {
		return trace.NotFound("vlob %q not found", vlob.ID)
	}
	cp := *vlob
	realmVlobs[vlob.ID] = &cp
	return nil
}

// --- invitations -----------------------------------------------------------

func (s *Store) CreateInvitation(ctx context.Context, orgID string, inv *types.Invitation) error {
	o := s.orgOrCreate(orgID)
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.invitations[inv.Token]; exists {
		return trace.AlreadyExists("invitation already exists")
	}
	cp := *inv
	o.invitations[inv.Token] = &cp
	return nil
}

func (s *Store) GetInvitation(ctx context.Context, orgID, token string) (*types.Invitation, error) {
	o, ok := s.org(orgID)
	if !ok {
		return nil, trace.NotFound("organization %q not found", orgID)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	inv, ok := o.invitations[token]
	if !ok {
		return nil, trace.NotFound("invitation not found")
	}
	cp := *inv
	return &cp, nil
}

func (s *Store) UpdateInvitation(ctx context.Context, orgID string, inv *types.Invitation) error {
	o, ok := s.org(orgID)
	if !ok {
		return trace.NotFound("organization %q not found", orgID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.invitations[inv.Token]; !exists {
		return trace.NotFound("invitation not found")
	}
	cp := *inv
	o.invitations[inv.Token] = &cp
	return nil
}

func (s *Store) ListInvitations(ctx context.Context, orgID string) ([]*types.Invitation, error) {
	o, ok := s.org(orgID)
	if !ok {
		return nil, trace.NotFound("organization %q not found", orgID)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*types.Invitation, 0, len(o.invitations))
	for _, inv := range o.invitations {
		cp := *inv
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) DeleteInvitation(ctx context.Context, orgID, token string) error {
	o, ok := s.org(orgID)
	if !ok {
		return trace.NotFound("organization %q not found", orgID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.invitations[token]; !exists {
		return trace.NotFound("invitation not found")
	}
	delete(o.invitations, token)
	return nil
}
