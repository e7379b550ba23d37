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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/api/types"
	"github.com/parsec-io/parsec-server/lib/codec"
)

// setupRealmWithContributor creates realm1 owned by the admin and grants
// user_member a CONTRIBUTOR role, returning the member's device ID.
func setupRealmWithContributor(t *testing.T, h *harness, realms *Realms, adminDeviceID string) string {
	t.Helper()
	memberDeviceID := h.createUser(t, testOrgID, "user_member", types.ProfileStandard)

	createCert := &types.Certificate{
		Type:            types.CertificateRealmRole,
		Timestamp:       h.clock.Now(),
		RealmID:         "realm1",
		RealmRoleUserID: "user_admin",
	}
	_, err := realms.CreateRealm(context.Background(), testOrgID, adminDeviceID, createCert)
	require.NoError(t, err)

	memberCert := &types.Certificate{
		Type:             types.CertificateRealmRole,
		Timestamp:        h.clock.Now().Add(time.Millisecond),
		RealmID:          "realm1",
		RealmRoleUserID:  "user_member",
		RealmRoleGranted: types.RealmRoleContributor,
	}
	require.NoError(t, realms.Share(context.Background(), testOrgID, adminDeviceID, memberCert))
	return memberDeviceID
}

func TestVlobCreateAndUpdateEnforceVersionContiguity(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)

	realms, err := NewRealms(h.deps())
	require.NoError(t, err)
	memberDeviceID := setupRealmWithContributor(t, h, realms, adminDeviceID)

	vlobs, err := NewVlobs(h.deps())
	require.NoError(t, err)

	err = vlobs.Create(context.Background(), testOrgID, memberDeviceID, "realm1", "vlob1", 0, h.clock.Now().Add(2*time.Millisecond), []byte("v1"), nil)
	require.NoError(t, err)

	// Skipping straight to version 3 without version 2 violates contiguity
	// (invariant 2).
	err = vlobs.Update(context.Background(), testOrgID, memberDeviceID, "realm1", "vlob1", 3, 0, h.clock.Now().Add(3*time.Millisecond), []byte("v3"), nil)
	require.Error(t, err)
	_, ok := err.(codec.RepBadVlobVersion)
	require.True(t, ok)

	err = vlobs.Update(context.Background(), testOrgID, memberDeviceID, "realm1", "vlob1", 2, 0, h.clock.Now().Add(4*time.Millisecond), []byte("v2"), nil)
	require.NoError(t, err)

	vlob, err := h.store.GetVlob(context.Background(), testOrgID, "realm1", "vlob1")
	require.NoError(t, err)
	require.Len(t, vlob.Versions, 2)
}

func TestVlobCreateRejectsBadKeyIndex(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)

	realms, err := NewRealms(h.deps())
	require.NoError(t, err)
	memberDeviceID := setupRealmWithContributor(t, h, realms, adminDeviceID)

	vlobs, err := NewVlobs(h.deps())
	require.NoError(t, err)

	err = vlobs.Create(context.Background(), testOrgID, memberDeviceID, "realm1", "vlob1", 1, h.clock.Now().Add(2*time.Millisecond), []byte("v1"), nil)
	require.Error(t, err)
	_, ok := err.(codec.RepBadKeyIndex)
	require.True(t, ok)
}

func TestVlobCreateRejectsStaleTimestamp(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)

	realms, err := NewRealms(h.deps())
	require.NoError(t, err)
	memberDeviceID := setupRealmWithContributor(t, h, realms, adminDeviceID)

	vlobs, err := NewVlobs(h.deps())
	require.NoError(t, err)

	// The realm topic's last write is the Share certificate at +1ms; a vlob
	// create at the same timestamp (not strictly after) must be rejected
	// (§5, §8 S2).
	err = vlobs.Create(context.Background(), testOrgID, memberDeviceID, "realm1", "vlob1", 0, h.clock.Now().Add(time.Millisecond), []byte("v1"), nil)
	require.Error(t, err)
	_, ok := err.(codec.RepRequireGreaterTimestamp)
	require.True(t, ok)
}

func TestReadVersionsPreservesOrderingAcrossConcurrentFetches(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)

	realms, err := NewRealms(h.deps())
	require.NoError(t, err)
	memberDeviceID := setupRealmWithContributor(t, h, realms, adminDeviceID)

	vlobs, err := NewVlobs(h.deps())
	require.NoError(t, err)

	const nVlobs = 20
	refs := make([]VlobVersionRef, nVlobs)
	for i := 0; i < nVlobs; i++ {
		vlobID := fmt.Sprintf("vlob%d", i)
		ts := h.clock.Now().Add(time.Duration(i+2) * time.Millisecond)
		require.NoError(t, vlobs.Create(context.Background(), testOrgID, memberDeviceID, "realm1", vlobID, 0, ts, []byte(fmt.Sprintf("blob%d", i)), nil))
		refs[i] = VlobVersionRef{VlobID: vlobID, Version: 1}
	}

	results, _, _, err := vlobs.ReadVersions(context.Background(), testOrgID, "user_member", "realm1", refs)
	require.NoError(t, err)
	require.Len(t, results, nVlobs)
	for i, r := range results {
		require.Equal(t, fmt.Sprintf("vlob%d", i), r.VlobID, "result order must match the requested ref order despite concurrent fetches")
		require.Equal(t, []byte(fmt.Sprintf("blob%d", i)), r.Blob)
	}
}

func TestReadVersionsRejectsNonMember(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)

	realms, err := NewRealms(h.deps())
	require.NoError(t, err)
	setupRealmWithContributor(t, h, realms, adminDeviceID)
	h.createUser(t, testOrgID, "user_stranger", types.ProfileStandard)

	vlobs, err := NewVlobs(h.deps())
	require.NoError(t, err)

	_, _, _, err = vlobs.ReadVersions(context.Background(), testOrgID, "user_stranger", "realm1", nil)
	require.Error(t, err)
	_, ok := err.(codec.RepNotAllowed)
	require.True(t, ok)
}
