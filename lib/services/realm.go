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

	"github.com/gravitational/trace"

	"github.com/parsec-io/parsec-server/api/types"
	apievents "github.com/parsec-io/parsec-server/api/types/events"
	"github.com/parsec-io/parsec-server/lib/codec"
	"github.com/parsec-io/parsec-server/lib/events"
)

// Realms implements the Realm Component (§4.7).
type Realms struct {
	deps Deps
}

// NewRealms builds a Realms component from deps.
func NewRealms(deps Deps) (*Realms, error) {
	if err := deps.checkAndSetDefaults("realms"); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Realms{deps: deps}, nil
}

// CreateRealm implements create_realm (§4.7): the first role certificate
// inserts an OWNER role and stamps the realm topic.
func (r *Realms) CreateRealm(ctx context.Context, orgID, authorDeviceID string, cert *types.Certificate) (*types.Realm, error) {
	if _, err := (&Users{deps: r.deps}).resolveAuthor(ctx, orgID, authorDeviceID, ""); err != nil {
		return nil, err
	}
	if _, err := r.deps.Store.GetRealm(ctx, orgID, cert.RealmID); err == nil {
		return nil, codec.RepAlreadyExists{What: "realm"}
	}
	owner, err := r.deps.Store.GetUser(ctx, orgID, cert.RealmRoleUserID)
	if err != nil {
		return nil, codec.RepNotFound{What: "user"}
	}
	if owner.CurrentProfile() == types.ProfileOutsider {
		return nil, codec.RepNotAllowed{Reason: "outsider profile cannot hold owner role"}
	}

	topic := types.RealmTopic(cert.RealmID)
	locks := r.deps.Store.Locks(orgID)
	unlock := locks.WriteLock(topic)
	defer unlock()
	if !cert.Timestamp.After(locks.GlobalLastTimestamp()) {
		return nil, codec.RepRequireGreaterTimestamp{StrictlyGreaterThan: locks.GlobalLastTimestamp()}
	}

	realm := &types.Realm{
		ID:        cert.RealmID,
		CreatedBy: authorDeviceID,
		CreatedAt: cert.Timestamp,
		Roles: []types.RealmRoleEntry{{
			UserID:    cert.RealmRoleUserID,
			Role:      types.RealmRoleOwner,
			GrantedBy: authorDeviceID,
			Timestamp: cert.Timestamp,
		}},
	}
	if err := r.deps.Store.CreateRealm(ctx, orgID, realm); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := r.deps.Store.AppendCertificate(ctx, orgID, topic, cert); err != nil {
		return nil, trace.Wrap(err)
	}
	locks.RecordWrite(topic, cert.Timestamp)

	r.deps.Bus.Publish(events.New(orgID, apievents.KindRealmCertificate, apievents.RealmCertificate{RealmID: realm.ID, Timestamp: cert.Timestamp}))
	return realm, nil
}

// Share implements share (role grant/change/revoke, §4.7): requires author
// with an appropriate current role; target must exist and not be revoked.
func (r *Realms) Share(ctx context.Context, orgID, authorDeviceID string, cert *types.Certificate) error {
	ac, err := (&Users{deps: r.deps}).resolveAuthor(ctx, orgID, authorDeviceID, "")
	if err != nil {
		return err
	}
	realm, err := r.deps.Store.GetRealm(ctx, orgID, cert.RealmID)
	if err != nil {
		return codec.RepNotFound{What: "realm"}
	}
	if realm.Expired {
		return codec.RepNotAllowed{Reason: "realm expired"}
	}
	authorRole := realm.CurrentRole(ac.user.ID)
	if !authorRole.AtLeast(types.RealmRoleManager) {
		return codec.RepNotAllowed{Reason: "author lacks manager role"}
	}
	if cert.RealmRoleGranted == types.RealmRoleOwner && !authorRole.AtLeast(types.RealmRoleOwner) {
		return codec.RepNotAllowed{Reason: "only an owner may grant owner"}
	}
	target, err := r.deps.Store.GetUser(ctx, orgID, cert.RealmRoleUserID)
	if err != nil {
		return codec.RepNotFound{What: "user"}
	}
	if target.Revoked() {
		return codec.RepNotAllowed{Reason: "target user is revoked"}
	}
	if target.CurrentProfile() == types.ProfileOutsider && cert.RealmRoleGranted.AtLeast(types.RealmRoleManager) {
		return codec.RepNotAllowed{Reason: "outsider profile cannot hold manager or owner role"}
	}

	topic := types.RealmTopic(cert.RealmID)
	locks := r.deps.Store.Locks(orgID)
	unlock := locks.WriteLock(topic)
	defer unlock()
	if !cert.Timestamp.After(locks.GlobalLastTimestamp()) {
		return codec.RepRequireGreaterTimestamp{StrictlyGreaterThan: locks.GlobalLastTimestamp()}
	}

	realm.Roles = append(realm.Roles, types.RealmRoleEntry{
		UserID:    cert.RealmRoleUserID,
		Role:      cert.RealmRoleGranted,
		GrantedBy: authorDeviceID,
		Timestamp: cert.Timestamp,
	})
	if err := r.deps.Store.UpdateRealm(ctx, orgID, realm); err != nil {
		return trace.Wrap(err)
	}
	if err := r.deps.Store.AppendCertificate(ctx, orgID, topic, cert); err != nil {
		return trace.Wrap(err)
	}
	locks.RecordWrite(topic, cert.Timestamp)

	r.deps.Bus.Publish(events.New(orgID, apievents.KindRealmCertificate, apievents.RealmCertificate{RealmID: realm.ID, Timestamp: cert.Timestamp}))
	return nil
}

// RotateKey implements rotate_key (§4.7): monotonic key-index, requires
// OWNER, recipients must cover every current non-revoked participant.
func (r *Realms) RotateKey(ctx context.Context, orgID, authorDeviceID string, cert *types.Certificate, perParticipantKeysBundleAccess map[string][]byte) error {
	ac, err := (&Users{deps: r.deps}).resolveAuthor(ctx, orgID, authorDeviceID, "")
	if err != nil {
		return err
	}
	realm, err := r.deps.Store.GetRealm(ctx, orgID, cert.RealmID)
	if err != nil {
		return codec.RepNotFound{What: "realm"}
	}
	if !realm.CurrentRole(ac.user.ID).AtLeast(types.RealmRoleOwner) {
		return codec.RepNotAllowed{Reason: "author is not owner"}
	}
	if cert.KeyIndex != realm.CurrentKeyIndex()+1 {
		return codec.RepBadKeyIndex{LastRealmCertificateTimestamp: realm.LastCertificateTimestamp()}
	}

	var missing []string
	for _, entry := range currentParticipants(realm) {
		if _, ok := perParticipantKeysBundleAccess[entry]; !ok {
			missing = append(missing, entry)
		}
	}
	if len(missing) > 0 {
		return codec.RepInvalidKeysBundle{MissingUserIDs: missing}
	}

	topic := types.RealmTopic(cert.RealmID)
	locks := r.deps.Store.Locks(orgID)
	unlock := locks.WriteLock(topic)
	defer unlock()
	if !cert.Timestamp.After(locks.GlobalLastTimestamp()) {
		return codec.RepRequireGreaterTimestamp{StrictlyGreaterThan: locks.GlobalLastTimestamp()}
	}

	realm.KeyRotations = append(realm.KeyRotations, types.RealmKeyRotation{
		KeyIndex:                       cert.KeyIndex,
		Timestamp:                      cert.Timestamp,
		PerParticipantKeysBundleAccess: perParticipantKeysBundleAccess,
		GrantedBy:                      authorDeviceID,
	})
	if err := r.deps.Store.UpdateRealm(ctx, orgID, realm); err != nil {
		return trace.Wrap(err)
	}
	if err := r.deps.Store.AppendCertificate(ctx, orgID, topic, cert); err != nil {
		return trace.Wrap(err)
	}
	locks.RecordWrite(topic, cert.Timestamp)

	r.deps.Bus.Publish(events.New(orgID, apievents.KindRealmCertificate, apievents.RealmCertificate{RealmID: realm.ID, Timestamp: cert.Timestamp}))
	return nil
}

// Rename implements rename (§4.7): OWNER-only, stamps the realm topic.
func (r *Realms) Rename(ctx context.Context, orgID, authorDeviceID string, cert *types.Certificate) error {
	ac, err := (&Users{deps: r.deps}).resolveAuthor(ctx, orgID, authorDeviceID, "")
	if err != nil {
		return err
	}
	realm, err := r.deps.Store.GetRealm(ctx, orgID, cert.RealmID)
	if err != nil {
		return codec.RepNotFound{What: "realm"}
	}
	if !realm.CurrentRole(ac.user.ID).AtLeast(types.RealmRoleOwner) {
		return codec.RepNotAllowed{Reason: "author is not owner"}
	}
	if len(cert.EncryptedRealmName) == 0 {
		return codec.RepInvalidEncryptedRealmName{Reason: "empty encrypted name"}
	}

	topic := types.RealmTopic(cert.RealmID)
	locks := r.deps.Store.Locks(orgID)
	unlock := locks.WriteLock(topic)
	defer unlock()
	if !cert.Timestamp.After(locks.GlobalLastTimestamp()) {
		return codec.RepRequireGreaterTimestamp{StrictlyGreaterThan: locks.GlobalLastTimestamp()}
	}

	realm.Renames = append(realm.Renames, types.RealmRenameEntry{
		EncryptedName: cert.EncryptedRealmName,
		Timestamp:     cert.Timestamp,
		RenamedBy:     authorDeviceID,
	})
	if err := r.deps.Store.UpdateRealm(ctx, orgID, realm); err != nil {
		return trace.Wrap(err)
	}
	if err := r.deps.Store.AppendCertificate(ctx, orgID, topic, cert); err != nil {
		return trace.Wrap(err)
	}
	locks.RecordWrite(topic, cert.Timestamp)

	r.deps.Bus.Publish(events.New(orgID, apievents.KindRealmCertificate, apievents.RealmCertificate{RealmID: realm.ID, Timestamp: cert.Timestamp}))
	return nil
}

// currentParticipants returns every user with a non-empty current role.
func currentParticipants(realm *types.Realm) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, entry := range realm.Roles {
		if realm.CurrentRole(entry.UserID) == "" {
			continue
		}
		if _, ok := seen[entry.UserID]; ok {
			continue
		}
		seen[entry.UserID] = struct{}{}
		out = append(out, entry.UserID)
	}
	return out
}
