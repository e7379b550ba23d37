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

package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProfileValid(t *testing.T) {
	require.True(t, ProfileAdmin.Valid())
	require.True(t, ProfileStandard.Valid())
	require.True(t, ProfileOutsider.Valid())
	require.False(t, Profile("BOGUS").Valid())
}

func TestRealmRoleAtLeast(t *testing.T) {
	require.True(t, RealmRoleOwner.AtLeast(RealmRoleReader))
	require.True(t, RealmRoleOwner.AtLeast(RealmRoleOwner))
	require.False(t, RealmRoleReader.AtLeast(RealmRoleContributor))
	require.False(t, RealmRoleReader.AtLeast(RealmRoleOwner))
	require.False(t, RealmRole("BOGUS").AtLeast(RealmRoleReader))
	require.False(t, RealmRoleOwner.AtLeast(RealmRole("BOGUS")))
}

func TestClientAgentPolicyAllows(t *testing.T) {
	require.True(t, ClientAgentPolicyNativeOrWeb.Allows(ClientAgentWeb))
	require.True(t, ClientAgentPolicyNativeOrWeb.Allows(ClientAgentNative))
	require.True(t, ClientAgentPolicyNativeOnly.Allows(ClientAgentNative))
	require.False(t, ClientAgentPolicyNativeOnly.Allows(ClientAgentWeb))
}

func TestActiveUsersLimitUnbounded(t *testing.T) {
	require.True(t, ActiveUsersLimit(0).Unbounded())
	require.False(t, ActiveUsersLimit(10).Unbounded())
}

func TestRealmTopicNaming(t *testing.T) {
	require.Equal(t, Topic("realm/realm1"), RealmTopic("realm1"))
}

func TestUserCurrentProfileAndRevoked(t *testing.T) {
	now := time.Now()
	u := &User{Profile: ProfileStandard}
	require.Equal(t, ProfileStandard, u.CurrentProfile())
	require.False(t, u.Revoked())

	u.ProfileUpdates = append(u.ProfileUpdates, ProfileUpdate{NewProfile: ProfileOutsider, At: now})
	require.Equal(t, ProfileOutsider, u.CurrentProfile())

	u.RevokedAt = &now
	require.True(t, u.Revoked())
}

func TestRealmCurrentRoleReflectsMostRecentEntry(t *testing.T) {
	r := &Realm{
		Roles: []RealmRoleEntry{
			{UserID: "alice", Role: RealmRoleOwner, Timestamp: time.Unix(0, 0)},
			{UserID: "bob", Role: RealmRoleReader, Timestamp: time.Unix(1, 0)},
			{UserID: "alice", Role: "", Timestamp: time.Unix(2, 0)}, // revoked
		},
	}
	require.Equal(t, RealmRole(""), r.CurrentRole("alice"))
	require.Equal(t, RealmRoleReader, r.CurrentRole("bob"))
	require.Equal(t, RealmRole(""), r.CurrentRole("nobody"))

	require.True(t, r.EverMember("alice"))
	require.True(t, r.EverMember("bob"))
	require.False(t, r.EverMember("nobody"))
}

func TestRealmCurrentKeyIndexAndLastCertificateTimestamp(t *testing.T) {
	r := &Realm{}
	require.Equal(t, uint64(0), r.CurrentKeyIndex())
	require.True(t, r.LastCertificateTimestamp().IsZero())

	t1 := time.Unix(10, 0)
	t2 := time.Unix(20, 0)
	t3 := time.Unix(5, 0)
	r.Roles = append(r.Roles, RealmRoleEntry{UserID: "alice", Role: RealmRoleOwner, Timestamp: t1})
	r.KeyRotations = append(r.KeyRotations, RealmKeyRotation{KeyIndex: 1, Timestamp: t2})
	r.Renames = append(r.Renames, RealmRenameEntry{Timestamp: t3})

	require.Equal(t, uint64(1), r.CurrentKeyIndex())
	require.True(t, r.LastCertificateTimestamp().Equal(t2))
}

func TestOrganizationIsBootstrapped(t *testing.T) {
	o := &Organization{}
	require.False(t, o.IsBootstrapped())

	o.Bootstrapped = true
	require.False(t, o.IsBootstrapped(), "bootstrapped flag alone is not enough without a root verify key")

	o.RootVerifyKey = []byte("key")
	require.True(t, o.IsBootstrapped())
}

func TestOrganizationCheckAndSetDefaults(t *testing.T) {
	o := &Organization{}
	require.Error(t, o.CheckAndSetDefaults(), "missing ID must be rejected")

	o = &Organization{ID: "acme"}
	require.NoError(t, o.CheckAndSetDefaults())
	require.Equal(t, ClientAgentPolicyNativeOrWeb, o.ClientAgentPolicy)
	require.Equal(t, OutsiderAllowed, o.OutsiderProfilePolicy)
}

func TestInvitationUsable(t *testing.T) {
	inv := &Invitation{}
	require.True(t, inv.Usable())

	usedAt := time.Now()
	inv.UsedAt = &usedAt
	require.False(t, inv.Usable())

	inv2 := &Invitation{}
	cancelledAt := time.Now()
	inv2.CancelledAt = &cancelledAt
	require.False(t, inv2.Usable())
}
