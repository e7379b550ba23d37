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

// Package joinserver implements the invitation-mediated join flow (§3, §6):
// an ADMIN issues an Invitation out of band of the certificate-mediated
// operations, and a claimant presents its token as the bearer credential on
// the "invited" scope to learn what it needs before calling
// user_create/device_create.
package joinserver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/api/types"
	apievents "github.com/parsec-io/parsec-server/api/types/events"
	"github.com/parsec-io/parsec-server/lib/codec"
	"github.com/parsec-io/parsec-server/lib/events"
)

// claimTimeout bounds Claim so that a request stuck on a slow Data Store
// cannot hold an invitation in a half-claimed state indefinitely.
const claimTimeout = time.Minute

// Deps are Invitations' collaborators, following the services package's
// small-Deps-plus-CheckAndSetDefaults convention.
type Deps struct {
	Store interface {
		GetOrganization(ctx context.Context, orgID string) (*types.Organization, error)
		GetDevice(ctx context.Context, orgID, deviceID string) (*types.Device, error)
		GetUser(ctx context.Context, orgID, userID string) (*types.User, error)
		CreateInvitation(ctx context.Context, orgID string, inv *types.Invitation) error
		GetInvitation(ctx context.Context, orgID, token string) (*types.Invitation, error)
		UpdateInvitation(ctx context.Context, orgID string, inv *types.Invitation) error
		ListInvitations(ctx context.Context, orgID string) ([]*types.Invitation, error)
	}
	Bus   *events.Bus
	Clock clockwork.Clock
	Log   *logrus.Entry
}

func (d *Deps) checkAndSetDefaults() error {
	if d.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if d.Bus == nil {
		return trace.BadParameter("missing parameter Bus")
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Log == nil {
		d.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	d.Log = d.Log.WithField(trace.Component, "joinserver")
	return nil
}

// Invitations implements the invitation lifecycle: Create, List, Cancel and
// Claim.
type Invitations struct {
	deps Deps
}

// NewInvitations builds an Invitations component from deps.
func NewInvitations(deps Deps) (*Invitations, error) {
	if err := deps.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Invitations{deps: deps}, nil
}

func (i *Invitations) resolveAuthor(ctx context.Context, orgID, deviceID string) (*types.User, error) {
	org, err := i.deps.Store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, codec.RepNotFound{What: "organization"}
	}
	if org.Expired {
		return nil, codec.RepNotAllowed{Reason: "organization expired"}
	}
	device, err := i.deps.Store.GetDevice(ctx, orgID, deviceID)
	if err != nil {
		return nil, codec.RepNotFound{What: "device"}
	}
	author, err := i.deps.Store.GetUser(ctx, orgID, device.UserID)
	if err != nil {
		return nil, codec.RepNotFound{What: "user"}
	}
	if author.Revoked() {
		return nil, codec.RepNotAllowed{Reason: "author is revoked"}
	}
	if author.CurrentProfile() != types.ProfileAdmin {
		return nil, codec.RepNotAllowed{Reason: "author profile insufficient"}
	}
	return author, nil
}

// Create issues a new invitation (§3): requires author ADMIN. Unlike the
// User/Realm/Vlob components, invitations carry no certificate and are not
// subject to the per-topic timestamp gate — they are operational records,
// not part of the certificate history.
func (i *Invitations) Create(ctx context.Context, orgID, authorDeviceID string, invType types.InvitationType, claimerEmail string) (*types.Invitation, error) {
	if _, err := i.resolveAuthor(ctx, orgID, authorDeviceID); err != nil {
		return nil, err
	}

	inv := &types.Invitation{
		Token:        uuid.NewString(),
		Type:         invType,
		OrgID:        orgID,
		CreatedBy:    authorDeviceID,
		CreatedAt:    i.deps.Clock.Now(),
		ClaimerEmail: claimerEmail,
	}
	if err := i.deps.Store.CreateInvitation(ctx, orgID, inv); err != nil {
		return nil, trace.Wrap(err)
	}
	i.deps.Bus.Publish(events.New(orgID, apievents.KindInvitation, apievents.Invitation{
		Token: inv.Token,
		Type:  string(inv.Type),
	}))
	return inv, nil
}

// List returns every invitation in orgID still usable, i.e. neither claimed
// nor cancelled (§3).
func (i *Invitations) List(ctx context.Context, orgID, authorDeviceID string) ([]*types.Invitation, error) {
	if _, err := i.resolveAuthor(ctx, orgID, authorDeviceID); err != nil {
		return nil, err
	}
	all, err := i.deps.Store.ListInvitations(ctx, orgID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	usable := make([]*types.Invitation, 0, len(all))
	for _, inv := range all {
		if inv.Usable() {
			usable = append(usable, inv)
		}
	}
	return usable, nil
}

// Cancel marks an invitation unusable without it ever being claimed (§3:
// "deleted or cancelled").
func (i *Invitations) Cancel(ctx context.Context, orgID, authorDeviceID, token string) error {
	if _, err := i.resolveAuthor(ctx, orgID, authorDeviceID); err != nil {
		return err
	}
	inv, err := i.deps.Store.GetInvitation(ctx, orgID, token)
	if err != nil {
		return codec.RepNotFound{What: "invitation"}
	}
	if !inv.Usable() {
		return codec.RepNotAllowed{Reason: "invitation already used or cancelled"}
	}
	now := i.deps.Clock.Now()
	inv.CancelledAt = &now
	if err := i.deps.Store.UpdateInvitation(ctx, orgID, inv); err != nil {
		return trace.Wrap(err)
	}
	i.deps.Bus.Publish(events.New(orgID, apievents.KindInvitation, apievents.Invitation{
		Token: inv.Token,
		Type:  string(inv.Type),
	}))
	return nil
}

// Claim is the invited-scope handshake operation (§6): it marks the
// invitation used. The write is bounded by claimTimeout so a stalled Data
// Store call cannot wedge the invitation in a half-claimed state, mirroring
// how the teacher's join service bounds its own handshake against a
// misbehaving counterpart.
func (i *Invitations) Claim(ctx context.Context, inv *types.Invitation) (*types.Invitation, error) {
	type result struct {
		inv *types.Invitation
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		claimed := *inv
		now := i.deps.Clock.Now()
		claimed.UsedAt = &now
		err := i.deps.Store.UpdateInvitation(ctx, inv.OrgID, &claimed)
		resultCh <- result{inv: &claimed, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, trace.Wrap(res.err)
		}
		i.deps.Bus.Publish(events.New(inv.OrgID, apievents.KindInvitation, apievents.Invitation{
			Token: inv.Token,
			Type:  string(inv.Type),
		}))
		return res.inv, nil
	case <-i.deps.Clock.After(claimTimeout):
		return nil, trace.LimitExceeded("invitation claim timed out after %s", claimTimeout)
	case <-ctx.Done():
		return nil, trace.Wrap(ctx.Err())
	}
}
