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
	"golang.org/x/sync/errgroup"

	"github.com/parsec-io/parsec-server/api/types"
	apievents "github.com/parsec-io/parsec-server/api/types/events"
	"github.com/parsec-io/parsec-server/lib/codec"
	"github.com/parsec-io/parsec-server/lib/events"
)

// readVersionsFetchLimit bounds how many Data Store lookups read_versions
// runs concurrently per request (§5 "work crosses to worker pools only for
// CPU-heavy crypto and DB drivers").
const readVersionsFetchLimit = 8

// Vlobs implements the Vlob Component (§4.8).
type Vlobs struct {
	deps Deps
}

// NewVlobs builds a Vlobs component from deps.
func NewVlobs(deps Deps) (*Vlobs, error) {
	if err := deps.checkAndSetDefaults("vlobs"); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Vlobs{deps: deps}, nil
}

// realmTimestampGate validates the ballpark and the strictly-greater-than
// checks shared by create/update (§4.8): timestamp must exceed both the
// realm's and the common topic's last-certificate timestamp.
func (v *Vlobs) realmTimestampGate(realmID string, locks realmLocker, timestamp time.Time) error {
	last := locks.TopicLastTimestamp(types.RealmTopic(realmID))
	if commonLast := locks.TopicLastTimestamp(types.TopicCommon); commonLast.After(last) {
		last = commonLast
	}
	if !timestamp.After(last) {
		return codec.RepRequireGreaterTimestamp{StrictlyGreaterThan: last}
	}
	return nil
}

// realmLocker is the subset of *backend.TopicLocks used by realmTimestampGate,
// named here to keep this file's import list decoupled from lib/backend.
type realmLocker interface {
	TopicLastTimestamp(topic types.Topic) time.Time
}

// Create implements vlob create (§4.8): requires caller role >= CONTRIBUTOR;
// realm exists and not expired; vlob-ID fresh; key-index references the
// current rotation; strict timestamp ordering against the realm and common
// topics.
func (v *Vlobs) Create(ctx context.Context, orgID, authorDeviceID, realmID, vlobID string, keyIndex uint64, timestamp time.Time, blob []byte, sequesterBlob map[string][]byte) error {
	ac, err := (&Users{deps: v.deps}).resolveAuthor(ctx, orgID, authorDeviceID, "")
	if err != nil {
		return err
	}
	realm, err := v.deps.Store.GetRealm(ctx, orgID, realmID)
	if err != nil {
		return codec.RepNotFound{What: "realm"}
	}
	if realm.Expired {
		return codec.RepNotAllowed{Reason: "realm expired"}
	}
	if !realm.CurrentRole(ac.user.ID).AtLeast(types.RealmRoleContributor) {
		return codec.RepNotAllowed{Reason: "author lacks contributor role"}
	}
	if keyIndex != realm.CurrentKeyIndex() {
		return codec.RepBadKeyIndex{LastRealmCertificateTimestamp: realm.LastCertificateTimestamp()}
	}
	if err := v.deps.Crypto.CheckBallpark(timestamp); err != nil {
		return err
	}
	if _, err := v.deps.Store.GetVlob(ctx, orgID, realmID, vlobID); err == nil {
		return codec.RepAlreadyExists{What: "vlob"}
	}

	locks := v.deps.Store.Locks(orgID)
	unlock := locks.WriteLock(types.RealmTopic(realmID))
	defer unlock()
	if err := v.realmTimestampGate(realmID, locks, timestamp); err != nil {
		return err
	}

	vlob := &types.Vlob{
		ID:      vlobID,
		RealmID: realmID,
		Versions: []types.VlobVersion{{
			Version:       1,
			Author:        authorDeviceID,
			Timestamp:     timestamp,
			KeyIndex:      keyIndex,
			Blob:          blob,
			SequesterBlob: sequesterBlob,
		}},
	}
	if err := v.deps.Store.CreateVlob(ctx, orgID, realmID, vlob); err != nil {
		return trace.Wrap(err)
	}
	locks.RecordWrite(types.RealmTopic(realmID), timestamp)

	v.publishVlobEvent(orgID, realmID, vlobID, 1, keyIndex, timestamp, blob)
	return nil
}

// Update implements vlob update (§4.8): requires version contiguity and the
// same preconditions as create.
func (v *Vlobs) Update(ctx context.Context, orgID, authorDeviceID, realmID, vlobID string, version, keyIndex uint64, timestamp time.Time, blob []byte, sequesterBlob map[string][]byte) error {
	ac, err := (&Users{deps: v.deps}).resolveAuthor(ctx, orgID, authorDeviceID, "")
	if err != nil {
		return err
	}
	realm, err := v.deps.Store.GetRealm(ctx, orgID, realmID)
	if err != nil {
		return codec.RepNotFound{What: "realm"}
	}
	if realm.Expired {
		return codec.RepNotAllowed{Reason: "realm expired"}
	}
	if !realm.CurrentRole(ac.user.ID).AtLeast(types.RealmRoleContributor) {
		return codec.RepNotAllowed{Reason: "author lacks contributor role"}
	}
	if keyIndex != realm.CurrentKeyIndex() {
		return codec.RepBadKeyIndex{LastRealmCertificateTimestamp: realm.LastCertificateTimestamp()}
	}
	if err := v.deps.Crypto.CheckBallpark(timestamp); err != nil {
		return err
	}
	vlob, err := v.deps.Store.GetVlob(ctx, orgID, realmID, vlobID)
	if err != nil {
		return codec.RepNotFound{What: "vlob"}
	}
	if uint64(len(vlob.Versions)) != version-1 {
		return codec.RepBadVlobVersion{LastRealmCertificateTimestamp: realm.LastCertificateTimestamp()}
	}

	locks := v.deps.Store.Locks(orgID)
	unlock := locks.WriteLock(types.RealmTopic(realmID))
	defer unlock()
	if err := v.realmTimestampGate(realmID, locks, timestamp); err != nil {
		return err
	}

	vlob.Versions = append(vlob.Versions, types.VlobVersion{
		Version:       version,
		Author:        authorDeviceID,
		Timestamp:     timestamp,
		KeyIndex:      keyIndex,
		Blob:          blob,
		SequesterBlob: sequesterBlob,
	})
	if err := v.deps.Store.UpdateVlob(ctx, orgID, realmID, vlob); err != nil {
		return trace.Wrap(err)
	}
	locks.RecordWrite(types.RealmTopic(realmID), timestamp)

	v.publishVlobEvent(orgID, realmID, vlobID, version, keyIndex, timestamp, blob)
	return nil
}

func (v *Vlobs) publishVlobEvent(orgID, realmID, vlobID string, version, keyIndex uint64, timestamp time.Time, blob []byte) {
	payload := apievents.Vlob{
		RealmID:   realmID,
		VlobID:    vlobID,
		Version:   version,
		KeyIndex:  keyIndex,
		Timestamp: timestamp,
	}
	if len(blob) <= types.EventPayloadMaxBytes {
		payload.Blob = blob
	}
	v.deps.Bus.Publish(events.New(orgID, apievents.KindVlob, payload))
}

// ReadVersions implements read_versions (§4.8): read-only, requires current
// or past READER role.
func (v *Vlobs) ReadVersions(ctx context.Context, orgID, callerUserID, realmID string, refs []VlobVersionRef) ([]types.VlobVersionResult, time.Time, time.Time, error) {
	realm, err := v.deps.Store.GetRealm(ctx, orgID, realmID)
	if err != nil {
		return nil, time.Time{}, time.Time{}, codec.RepNotFound{What: "realm"}
	}
	if !realm.EverMember(callerUserID) {
		return nil, time.Time{}, time.Time{}, codec.RepNotAllowed{Reason: "caller was never a member of this realm"}
	}

	locks := v.deps.Store.Locks(orgID)
	neededRealm := locks.TopicLastTimestamp(types.RealmTopic(realmID))
	neededCommon := locks.TopicLastTimestamp(types.TopicCommon)

	results := make([]*types.VlobVersionResult, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readVersionsFetchLimit)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			vlob, err := v.deps.Store.GetVlob(gctx, orgID, realmID, ref.VlobID)
			if err != nil {
				return nil
			}
			for _, ver := range vlob.Versions {
				if ver.Version == ref.Version {
					results[i] = &types.VlobVersionResult{
						VlobID:    ref.VlobID,
						KeyIndex:  ver.KeyIndex,
						Author:    ver.Author,
						Version:   ver.Version,
						CreatedOn: ver.Timestamp,
						Blob:      ver.Blob,
					}
					break
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, time.Time{}, time.Time{}, trace.Wrap(err)
	}

	var out []types.VlobVersionResult
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, neededCommon, neededRealm, nil
}

// VlobVersionRef identifies one (vlob-id, version) pair requested by
// read_versions (§4.8).
type VlobVersionRef struct {
	VlobID  string
	Version uint64
}
