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
	"time"

	"github.com/gravitational/trace"

	"github.com/parsec-io/parsec-server/api/types"
	apievents "github.com/parsec-io/parsec-server/api/types/events"
	"github.com/parsec-io/parsec-server/lib/codec"
	"github.com/parsec-io/parsec-server/lib/events"
)

// Users implements the User Component (§4.6). Every mutating operation
// follows the shared validation sequence described there: resolve org,
// resolve author, check profile/role, verify certificate, check subject
// preconditions, check the timestamp gate, commit, emit.
type Users struct {
	deps Deps
}

// NewUsers builds a Users component from deps.
func NewUsers(deps Deps) (*Users, error) {
	if err := deps.checkAndSetDefaults("users"); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Users{deps: deps}, nil
}

// authorContext is the result of resolving and checking an RPC's author
// device (§4.6 steps 1-3), common to every User/Realm/Vlob operation.
type authorContext struct {
	org    *types.Organization
	device *types.Device
	user   *types.User
}

func (u *Users) resolveAuthor(ctx context.Context, orgID, deviceID string, minProfile types.Profile) (*authorContext, error) {
	org, err := u.deps.Store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, codec.RepNotFound{What: "organization"}
	}
	if org.Expired {
		return nil, codec.RepNotAllowed{Reason: "organization expired"}
	}
	device, err := u.deps.Store.GetDevice(ctx, orgID, deviceID)
	if err != nil {
		return nil, codec.RepNotFound{What: "device"}
	}
	author, err := u.deps.Store.GetUser(ctx, orgID, device.UserID)
	if err != nil {
		return nil, codec.RepNotFound{What: "user"}
	}
	if author.Revoked() {
		return nil, codec.RepNotAllowed{Reason: "author is revoked"}
	}
	if minProfile != "" && !profileAtLeast(author.CurrentProfile(), minProfile) {
		return nil, codec.RepNotAllowed{Reason: "author profile insufficient"}
	}
	return &authorContext{org: org, device: device, user: author}, nil
}

func profileAtLeast(got, want types.Profile) bool {
	if want == types.ProfileAdmin {
		return got == types.ProfileAdmin
	}
	return true
}

// CreateUser implements create_user (§4.6): requires author ADMIN.
func (u *Users) CreateUser(ctx context.Context, orgID, authorDeviceID string, cert *types.Certificate, firstDevice *types.Device) (*types.User, error) {
	ac, err := u.resolveAuthor(ctx, orgID, authorDeviceID, types.ProfileAdmin)
	if err != nil {
		return nil, err
	}

	if !ac.org.ActiveUsersLimit.Unbounded() {
		users, err := u.deps.Store.ListUsers(ctx, orgID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		active := 0
		for _, existing := range users {
			if !existing.Revoked() {
				active++
			}
		}
		if uint64(active) >= uint64(ac.org.ActiveUsersLimit) {
			return nil, codec.RepActiveUsersLimitReached{}
		}
	}
	if _, err := u.deps.Store.GetUser(ctx, orgID, cert.UserID); err == nil {
		return nil, codec.RepAlreadyExists{What: "user"}
	}
	if _, err := u.deps.Store.GetUserByEmail(ctx, orgID, cert.UserHandleEmail); err == nil {
		return nil, codec.RepAlreadyExists{What: "human_handle"}
	}

	locks := u.deps.Store.Locks(orgID)
	unlock := locks.WriteLock(types.TopicCommon)
	defer unlock()

	if !cert.Timestamp.After(locks.GlobalLastTimestamp()) {
		return nil, codec.RepRequireGreaterTimestamp{StrictlyGreaterThan: locks.GlobalLastTimestamp()}
	}

	user := &types.User{
		ID:          cert.UserID,
		HumanHandle: types.HumanHandle{Email: cert.UserHandleEmail, Label: cert.UserHandleLabel},
		Profile:     cert.UserProfile,
		CreatedBy:   authorDeviceID,
		CreatedAt:   cert.Timestamp,
	}
	if err := u.deps.Store.CreateUser(ctx, orgID, user, firstDevice); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := u.deps.Store.AppendCertificate(ctx, orgID, types.TopicCommon, cert); err != nil {
		return nil, trace.Wrap(err)
	}
	locks.RecordWrite(types.TopicCommon, cert.Timestamp)

	u.deps.Bus.Publish(events.New(orgID, apievents.KindCommonCertificate, apievents.CommonCertificate{Timestamp: cert.Timestamp}))
	return user, nil
}

// CreateDevice implements create_device (§4.6): any non-revoked user may add
// their own devices.
func (u *Users) CreateDevice(ctx context.Context, orgID, authorDeviceID string, cert *types.Certificate) (*types.Device, error) {
	ac, err := u.resolveAuthor(ctx, orgID, authorDeviceID, "")
	if err != nil {
		return nil, err
	}
	if cert.UserID != ac.user.ID {
		return nil, codec.RepNotAllowed{Reason: "device certificate must be authored by the owning user"}
	}
	if _, err := u.deps.Store.GetDevice(ctx, orgID, cert.DeviceID); err == nil {
		return nil, codec.RepAlreadyExists{What: "device"}
	}

	locks := u.deps.Store.Locks(orgID)
	unlock := locks.WriteLock(types.TopicCommon)
	defer unlock()
	if !cert.Timestamp.After(locks.GlobalLastTimestamp()) {
		return nil, codec.RepRequireGreaterTimestamp{StrictlyGreaterThan: locks.GlobalLastTimestamp()}
	}

	device := &types.Device{
		ID:        cert.DeviceID,
		UserID:    cert.UserID,
		VerifyKey: cert.DeviceVerifyKey,
		CreatedBy: authorDeviceID,
		CreatedAt: cert.Timestamp,
	}
	if err := u.deps.Store.CreateDevice(ctx, orgID, device); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := u.deps.Store.AppendCertificate(ctx, orgID, types.TopicCommon, cert); err != nil {
		return nil, trace.Wrap(err)
	}
	locks.RecordWrite(types.TopicCommon, cert.Timestamp)

	u.deps.Bus.Publish(events.New(orgID, apievents.KindCommonCertificate, apievents.CommonCertificate{Timestamp: cert.Timestamp}))
	return device, nil
}

// RevokeUser implements revoke_user (§4.6): requires author ADMIN, idempotent.
func (u *Users) RevokeUser(ctx context.Context, orgID, authorDeviceID string, cert *types.Certificate) error {
	ac, err := u.resolveAuthor(ctx, orgID, authorDeviceID, types.ProfileAdmin)
	if err != nil {
		return err
	}
	subject, err := u.deps.Store.GetUser(ctx, orgID, cert.RevokedUserID)
	if err != nil {
		return codec.RepNotFound{What: "user"}
	}
	if subject.Revoked() {
		return codec.RepIdempotent{CertificateTimestamp: *subject.RevokedAt}
	}

	locks := u.deps.Store.Locks(orgID)
	unlock := locks.WriteLock(types.TopicCommon)
	defer unlock()
	if !cert.Timestamp.After(locks.GlobalLastTimestamp()) {
		return codec.RepRequireGreaterTimestamp{StrictlyGreaterThan: locks.GlobalLastTimestamp()}
	}

	ts := cert.Timestamp
	subject.RevokedAt = &ts
	subject.RevokedBy = authorDeviceID
	if err := u.deps.Store.UpdateUser(ctx, orgID, subject); err != nil {
		return trace.Wrap(err)
	}
	if err := u.deps.Store.AppendCertificate(ctx, orgID, types.TopicCommon, cert); err != nil {
		return trace.Wrap(err)
	}
	locks.RecordWrite(types.TopicCommon, cert.Timestamp)

	u.deps.Bus.Publish(events.New(orgID, apievents.KindCommonCertificate, apievents.CommonCertificate{Timestamp: cert.Timestamp}))
	u.deps.Bus.Publish(events.New(orgID, apievents.KindUserRevokedOrFrozen, apievents.UserRevokedOrFrozen{UserID: subject.ID}))
	u.deps.Bus.DisconnectUser(orgID, subject.ID)
	_ = ac
	return nil
}

// UpdateUser implements update_user (profile change, §4.6): requires author
// ADMIN; subject not revoked; new profile differs from current.
func (u *Users) UpdateUser(ctx context.Context, orgID, authorDeviceID string, cert *types.Certificate) error {
	if _, err := u.resolveAuthor(ctx, orgID, authorDeviceID, types.ProfileAdmin); err != nil {
		return err
	}
	subject, err := u.deps.Store.GetUser(ctx, orgID, cert.UserID)
	if err != nil {
		return codec.RepNotFound{What: "user"}
	}
	if subject.Revoked() {
		return codec.RepNotAllowed{Reason: "subject is revoked"}
	}
	if subject.CurrentProfile() == cert.UserProfile {
		return codec.RepNotAllowed{Reason: "profile unchanged"}
	}

	locks := u.deps.Store.Locks(orgID)
	unlock := locks.WriteLock(types.TopicCommon)
	defer unlock()
	if !cert.Timestamp.After(locks.GlobalLastTimestamp()) {
		return codec.RepRequireGreaterTimestamp{StrictlyGreaterThan: locks.GlobalLastTimestamp()}
	}

	subject.ProfileUpdates = append(subject.ProfileUpdates, types.ProfileUpdate{
		NewProfile: cert.UserProfile,
		By:         authorDeviceID,
		At:         cert.Timestamp,
	})
	if err := u.deps.Store.UpdateUser(ctx, orgID, subject); err != nil {
		return trace.Wrap(err)
	}
	if err := u.deps.Store.AppendCertificate(ctx, orgID, types.TopicCommon, cert); err != nil {
		return trace.Wrap(err)
	}
	locks.RecordWrite(types.TopicCommon, cert.Timestamp)

	u.deps.Bus.Publish(events.New(orgID, apievents.KindCommonCertificate, apievents.CommonCertificate{Timestamp: cert.Timestamp}))
	u.deps.Bus.Publish(events.New(orgID, apievents.KindUserUpdated, apievents.UserUpdated{UserID: subject.ID, NewProfile: string(cert.UserProfile)}))
	return nil
}

// CertificatesFilter carries get_certificates_as_user's per-topic watermarks
// (§4.6).
type CertificatesFilter struct {
	CommonAfter         *time.Time
	SequesterAfter      *time.Time
	ShamirRecoveryAfter *time.Time
	RealmAfter          map[string]time.Time
}

// GetCertificatesAsUser implements get_certificates_as_user (§4.6): bulk
// fetch filtered by per-topic watermark, redacted for OUTSIDER callers.
func (u *Users) GetCertificatesAsUser(ctx context.Context, orgID, callerUserID string, callerProfile types.Profile, filter CertificatesFilter) (common, sequester, shamir []*types.Certificate, realms map[string][]*types.Certificate, err error) {
	common, err = u.deps.Store.ListCertificates(ctx, orgID, types.TopicCommon, filter.CommonAfter)
	if err != nil {
		return nil, nil, nil, nil, trace.Wrap(err)
	}
	sequester, err = u.deps.Store.ListCertificates(ctx, orgID, types.TopicSequester, filter.SequesterAfter)
	if err != nil {
		return nil, nil, nil, nil, trace.Wrap(err)
	}
	shamir, err = u.deps.Store.ListCertificates(ctx, orgID, types.TopicShamirRecovery, filter.ShamirRecoveryAfter)
	if err != nil {
		return nil, nil, nil, nil, trace.Wrap(err)
	}

	memberships, err := u.deps.Store.ListRealmsForUser(ctx, orgID, callerUserID)
	if err != nil {
		return nil, nil, nil, nil, trace.Wrap(err)
	}
	realms = make(map[string][]*types.Certificate, len(memberships))
	for _, r := range memberships {
		var after *time.Time
		if filter.RealmAfter != nil {
			if t, ok := filter.RealmAfter[r.ID]; ok {
				after = &t
			}
		}
		certs, err := u.deps.Store.ListCertificates(ctx, orgID, types.RealmTopic(r.ID), after)
		if err != nil {
			return nil, nil, nil, nil, trace.Wrap(err)
		}
		realms[r.ID] = certs
	}

	if callerProfile == types.ProfileOutsider {
		common = redactAll(common)
		sequester = redactAll(sequester)
		shamir = redactAll(shamir)
		for id, certs := range realms {
			realms[id] = redactAll(certs)
		}
	}
	return common, sequester, shamir, realms, nil
}

// redactAll returns redacted twins (invariant 6): a copy of each certificate
// with Raw replaced by RedactedRaw where present.
func redactAll(certs []*types.Certificate) []*types.Certificate {
	out := make([]*types.Certificate, len(certs))
	for i, c := range certs {
		cp := *c
		if cp.RedactedRaw != nil {
			cp.Raw = cp.RedactedRaw
			cp.UserHandleEmail = ""
			cp.UserHandleLabel = ""
		}
		out[i] = &cp
	}
	return out
}

// GetActiveDeviceVerifyKey implements get_active_device_verify_key (§4.6),
// used by the Auth Pipeline to resolve a bearer token's signer.
func (u *Users) GetActiveDeviceVerifyKey(ctx context.Context, orgID, deviceID string) ([]byte, error) {
	device, err := u.deps.Store.GetDevice(ctx, orgID, deviceID)
	if err != nil {
		return nil, codec.RepNotFound{What: "device"}
	}
	owner, err := u.deps.Store.GetUser(ctx, orgID, device.UserID)
	if err != nil {
		return nil, codec.RepNotFound{What: "user"}
	}
	if owner.Revoked() {
		return nil, codec.RepNotAllowed{Reason: "user revoked"}
	}
	return device.VerifyKey, nil
}

// AcceptTOS records that userID has accepted the organization's current
// terms of service (§4.9, §12): an operational flag checked by the Auth
// Pipeline, not a certificate-bearing action.
func (u *Users) AcceptTOS(ctx context.Context, orgID, userID string, at time.Time) error {
	user, err := u.deps.Store.GetUser(ctx, orgID, userID)
	if err != nil {
		return codec.RepNotFound{What: "user"}
	}
	user.TOSAcceptedAt = &at
	if err := u.deps.Store.UpdateUser(ctx, orgID, user); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// FreezeUser implements freeze_user (§4.6): an operational, non-certificate
// toggle.
func (u *Users) FreezeUser(ctx context.Context, orgID, userID string, frozen bool) error {
	user, err := u.deps.Store.GetUser(ctx, orgID, userID)
	if err != nil {
		return codec.RepNotFound{What: "user"}
	}
	if user.Frozen == frozen {
		return nil
	}
	user.Frozen = frozen
	if err := u.deps.Store.UpdateUser(ctx, orgID, user); err != nil {
		return trace.Wrap(err)
	}
	if frozen {
		u.deps.Bus.Publish(events.New(orgID, apievents.KindUserRevokedOrFrozen, apievents.UserRevokedOrFrozen{UserID: userID}))
		u.deps.Bus.DisconnectUser(orgID, userID)
	} else {
		u.deps.Bus.Publish(events.New(orgID, apievents.KindUserUnfrozen, apievents.UserUnfrozen{UserID: userID}))
	}
	return nil
}
