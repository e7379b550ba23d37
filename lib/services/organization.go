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

package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"golang.org/x/sync/singleflight"

	"github.com/parsec-io/parsec-server/api/types"
	apievents "github.com/parsec-io/parsec-server/api/types/events"
	"github.com/parsec-io/parsec-server/lib/codec"
	"github.com/parsec-io/parsec-server/lib/events"
)

// Organizations implements the Organization Component (§4.5).
type Organizations struct {
	deps Deps

	// bootstrapGroup collapses concurrent duplicate bootstrap requests for
	// the same organization onto a single winner, rather than letting every
	// racing caller run the full certificate-verification/commit sequence
	// only to have all but one fail on the already-bootstrapped check.
	bootstrapGroup singleflight.Group
}

// NewOrganizations builds an Organizations component from deps, filling in
// defaults.
func NewOrganizations(deps Deps) (*Organizations, error) {
	if err := deps.checkAndSetDefaults("organizations"); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Organizations{deps: deps}, nil
}

// Create is idempotent over not-yet-bootstrapped organizations: calling it
// again before bootstrap simply reissues a bootstrap token (§4.5).
func (o *Organizations) Create(ctx context.Context, orgID string) (string, error) {
	existing, err := o.deps.Store.GetOrganization(ctx, orgID)
	if err == nil && existing.IsBootstrapped() {
		return "", trace.AlreadyExists("organization %q already bootstrapped", orgID)
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	org := &types.Organization{
		ID:             orgID,
		BootstrapToken: token,
		CreatedAt:      o.deps.Clock.Now(),
	}
	if err := org.CheckAndSetDefaults(); err != nil {
		return "", trace.Wrap(err)
	}
	if err := o.deps.Store.CreateOrganization(ctx, org); err != nil {
		return "", trace.Wrap(err)
	}
	return token, nil
}

// BootstrapParams carries the bootstrap RPC's raw certificate material
// (§4.5).
type BootstrapParams struct {
	BootstrapToken       string
	RootVerifyKey        []byte
	UserCertificate      []byte
	UserCertificateRedacted []byte
	DeviceCertificate       []byte
	DeviceCertificateRedacted []byte
	SequesterCertificate       []byte
	SequesterCertificateRedacted []byte
}

// bootstrapResult bundles Bootstrap's two return certificates so they can
// travel through singleflight.Group.Do's single interface{} result.
type bootstrapResult struct {
	userCert   *types.Certificate
	deviceCert *types.Certificate
}

// Bootstrap validates and applies the first user/device (and optional
// sequester authority) of a freshly-created organization (§4.5). Concurrent
// calls for the same orgID are collapsed onto one winner via
// bootstrapGroup, so a duplicate client retry racing the original request
// observes the original's outcome rather than independently re-running
// certificate verification and the commit sequence.
func (o *Organizations) Bootstrap(ctx context.Context, orgID string, p BootstrapParams) (*types.Certificate, *types.Certificate, error) {
	v, err, _ := o.bootstrapGroup.Do(orgID, func() (interface{}, error) {
		userCert, deviceCert, err := o.bootstrap(ctx, orgID, p)
		if err != nil {
			return nil, err
		}
		return bootstrapResult{userCert: userCert, deviceCert: deviceCert}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	res := v.(bootstrapResult)
	return res.userCert, res.deviceCert, nil
}

// bootstrap is Bootstrap's actual body, run at most once concurrently per
// orgID.
func (o *Organizations) bootstrap(ctx context.Context, orgID string, p BootstrapParams) (*types.Certificate, *types.Certificate, error) {
	org, err := o.deps.Store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	if org.Expired {
		return nil, nil, codec.RepNotAllowed{Reason: "organization expired"}
	}
	if org.IsBootstrapped() {
		return nil, nil, codec.RepNotAllowed{Reason: "organization already bootstrapped"}
	}
	if p.BootstrapToken != org.BootstrapToken {
		return nil, nil, codec.RepNotAllowed{Reason: "bad bootstrap token"}
	}

	userCert, err := o.deps.Crypto.VerifyCertificate(types.CertificateUserCreation, p.UserCertificate, nonNil(p.UserCertificateRedacted), p.RootVerifyKey, "")
	if err != nil {
		return nil, nil, codec.RepInvalidCertificate{Reason: err.Error()}
	}
	deviceCert, err := o.deps.Crypto.VerifyCertificate(types.CertificateDeviceCreation, p.DeviceCertificate, nonNil(p.DeviceCertificateRedacted), p.RootVerifyKey, "")
	if err != nil {
		return nil, nil, codec.RepInvalidCertificate{Reason: err.Error()}
	}
	if deviceCert.DeviceID == "" || deviceCert.UserID != userCert.UserID {
		return nil, nil, codec.RepInvalidCertificate{Reason: "device certificate does not reference bootstrap user"}
	}

	lockTopics := []types.Topic{types.TopicCommon}
	if p.SequesterCertificate != nil {
		lockTopics = append(lockTopics, types.TopicSequester)
	}
	unlock := o.deps.Store.Locks(orgID).WriteLock(lockTopics...)
	defer unlock()

	now := userCert.Timestamp
	if deviceCert.Timestamp.After(now) {
		now = deviceCert.Timestamp
	}

	user := &types.User{
		ID:          userCert.UserID,
		HumanHandle: types.HumanHandle{Email: userCert.UserHandleEmail, Label: userCert.UserHandleLabel},
		Profile:     types.ProfileAdmin,
		CreatedAt:   userCert.Timestamp,
	}
	device := &types.Device{
		ID:        deviceCert.DeviceID,
		UserID:    userCert.UserID,
		VerifyKey: deviceCert.DeviceVerifyKey,
		CreatedBy: deviceCert.DeviceID,
		CreatedAt: deviceCert.Timestamp,
	}
	if err := o.deps.Store.CreateUser(ctx, orgID, user, device); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	if err := o.deps.Store.AppendCertificate(ctx, orgID, types.TopicCommon, userCert); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	if err := o.deps.Store.AppendCertificate(ctx, orgID, types.TopicCommon, deviceCert); err != nil {
		return nil, nil, trace.Wrap(err)
	}

	if p.SequesterCertificate != nil {
		seqCert, err := o.deps.Crypto.VerifyCertificate(types.CertificateSequesterAuthority, p.SequesterCertificate, nonNil(p.SequesterCertificateRedacted), p.RootVerifyKey, "")
		if err != nil {
			return nil, nil, codec.RepInvalidCertificate{Reason: err.Error()}
		}
		if err := o.deps.Store.AppendCertificate(ctx, orgID, types.TopicSequester, seqCert); err != nil {
			return nil, nil, trace.Wrap(err)
		}
		org.Sequester = &types.SequesterAuthority{
			VerifyKey:           seqCert.DeviceVerifyKey,
			Certificate:         p.SequesterCertificate,
			RedactedCertificate: p.SequesterCertificateRedacted,
		}
		o.deps.Store.Locks(orgID).RecordWrite(types.TopicSequester, seqCert.Timestamp)
	}

	org.Bootstrapped = true
	org.RootVerifyKey = p.RootVerifyKey
	if err := o.deps.Store.UpdateOrganization(ctx, org); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	o.deps.Store.Locks(orgID).RecordWrite(types.TopicCommon, now)

	o.deps.Bus.Publish(events.New(orgID, apievents.KindCommonCertificate, apievents.CommonCertificate{Timestamp: now}))
	return userCert, deviceCert, nil
}

// Get returns the organization's admin-plane view (§4.5).
func (o *Organizations) Get(ctx context.Context, orgID string) (*types.Organization, error) {
	org, err := o.deps.Store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return org, nil
}

// OrganizationUpdate carries the admin-plane mutable fields of
// OrganizationComponent.Update (§4.5); a nil field leaves that setting
// unchanged.
type OrganizationUpdate struct {
	Expired               *bool
	ActiveUsersLimit       *types.ActiveUsersLimit
	OutsiderProfilePolicy *types.OutsiderProfilePolicy
	ClientAgentPolicy     *types.ClientAgentPolicy
	TOS                   *types.TOS
}

// Update applies an admin-plane change, emitting ORGANIZATION_EXPIRED and/or
// ORGANIZATION_TOS_UPDATED as appropriate (§4.5).
func (o *Organizations) Update(ctx context.Context, orgID string, upd OrganizationUpdate) error {
	org, err := o.deps.Store.GetOrganization(ctx, orgID)
	if err != nil {
		return trace.Wrap(err)
	}

	becameExpired := false
	if upd.Expired != nil {
		becameExpired = *upd.Expired && !org.Expired
		org.Expired = *upd.Expired
	}
	if upd.ActiveUsersLimit != nil {
		org.ActiveUsersLimit = *upd.ActiveUsersLimit
	}
	if upd.OutsiderProfilePolicy != nil {
		org.OutsiderProfilePolicy = *upd.OutsiderProfilePolicy
	}
	if upd.ClientAgentPolicy != nil {
		org.ClientAgentPolicy = *upd.ClientAgentPolicy
	}
	tosUpdated := false
	if upd.TOS != nil {
		org.TOS = upd.TOS
		tosUpdated = true
	}

	if err := o.deps.Store.UpdateOrganization(ctx, org); err != nil {
		return trace.Wrap(err)
	}

	if becameExpired {
		o.deps.Bus.Publish(events.New(orgID, apievents.KindOrganizationExpired, apievents.OrganizationExpired{}))
		o.deps.Bus.DisconnectOrg(orgID)
	}
	if tosUpdated {
		o.deps.Bus.Publish(events.New(orgID, apievents.KindOrganizationTOSUpdated, apievents.OrganizationTOSUpdated{UpdatedAt: org.TOS.UpdatedAt}))
	}
	return nil
}

// Stats computes OrganizationComponent.Stats (§4.5): entity counts and
// aggregate sizes, optionally as of a historical timestamp `at`.
func (o *Organizations) Stats(ctx context.Context, orgID string, at *time.Time) (*types.OrganizationStats, error) {
	if _, err := o.deps.Store.GetOrganization(ctx, orgID); err != nil {
		return nil, trace.Wrap(err)
	}
	users, err := o.deps.Store.ListUsers(ctx, orgID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	stats := &types.OrganizationStats{
		At:           at,
		ActiveUsers:  make(map[types.Profile]int),
		RevokedUsers: make(map[types.Profile]int),
	}
	for _, u := range users {
		if at != nil && u.CreatedAt.After(*at) {
			continue
		}
		revoked := u.RevokedAt != nil && (at == nil || !u.RevokedAt.After(*at))
		if revoked {
			stats.RevokedUsers[u.CurrentProfile()]++
		} else {
			stats.ActiveUsers[u.CurrentProfile()]++
		}
	}

	realms, err := o.deps.Store.ListRealms(ctx, orgID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, r := range realms {
		if at != nil && r.CreatedAt.After(*at) {
			continue
		}
		stats.Realms++
		vlobs, err := o.deps.Store.ListVlobs(ctx, orgID, r.ID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		for _, v := range vlobs {
			for _, ver := range v.Versions {
				if at != nil && ver.Timestamp.After(*at) {
					continue
				}
				stats.MetadataSize += uint64(len(ver.Blob))
			}
		}
	}
	return stats, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return nil
	}
	return b
}
