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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/api/types"
	"github.com/parsec-io/parsec-server/lib/codec"
)

func TestCreateRealmInsertsOwnerRole(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)

	realms, err := NewRealms(h.deps())
	require.NoError(t, err)

	cert := &types.Certificate{
		Type:            types.CertificateRealmRole,
		Timestamp:       h.clock.Now(),
		RealmID:         "realm1",
		RealmRoleUserID: "user_admin",
	}
	realm, err := realms.CreateRealm(context.Background(), testOrgID, adminDeviceID, cert)
	require.NoError(t, err)
	require.Equal(t, types.RealmRoleOwner, realm.CurrentRole("user_admin"))
}

// TestCreateRealmRejectsOutsiderOwner is the regression test for the fix
// requiring CreateRealm to reject an OUTSIDER-profile owner, matching
// Share's existing invariant (§4.7, realm invariant).
func TestCreateRealmRejectsOutsiderOwner(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)
	h.createUser(t, testOrgID, "user_outsider", types.ProfileOutsider)

	realms, err := NewRealms(h.deps())
	require.NoError(t, err)

	cert := &types.Certificate{
		Type:            types.CertificateRealmRole,
		Timestamp:       h.clock.Now(),
		RealmID:         "realm1",
		RealmRoleUserID: "user_outsider",
	}
	_, err = realms.CreateRealm(context.Background(), testOrgID, adminDeviceID, cert)
	require.Error(t, err)
	_, ok := err.(codec.RepNotAllowed)
	require.True(t, ok)

	_, getErr := h.store.GetRealm(context.Background(), testOrgID, "realm1")
	require.Error(t, getErr, "the rejected realm must not have been created")
}

func TestShareRejectsOutsiderManagerOrOwnerGrant(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)
	h.createUser(t, testOrgID, "user_outsider", types.ProfileOutsider)

	realms, err := NewRealms(h.deps())
	require.NoError(t, err)

	createCert := &types.Certificate{
		Type:            types.CertificateRealmRole,
		Timestamp:       h.clock.Now(),
		RealmID:         "realm1",
		RealmRoleUserID: "user_admin",
	}
	_, err = realms.CreateRealm(context.Background(), testOrgID, adminDeviceID, createCert)
	require.NoError(t, err)

	shareCert := &types.Certificate{
		Type:             types.CertificateRealmRole,
		Timestamp:        h.clock.Now().Add(time.Millisecond),
		RealmID:          "realm1",
		RealmRoleUserID:  "user_outsider",
		RealmRoleGranted: types.RealmRoleManager,
	}
	err = realms.Share(context.Background(), testOrgID, adminDeviceID, shareCert)
	require.Error(t, err)
	_, ok := err.(codec.RepNotAllowed)
	require.True(t, ok)
}

func TestShareGrantsReaderRoleToOutsider(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)
	h.createUser(t, testOrgID, "user_outsider", types.ProfileOutsider)

	realms, err := NewRealms(h.deps())
	require.NoError(t, err)

	createCert := &types.Certificate{
		Type:            types.CertificateRealmRole,
		Timestamp:       h.clock.Now(),
		RealmID:         "realm1",
		RealmRoleUserID: "user_admin",
	}
	_, err = realms.CreateRealm(context.Background(), testOrgID, adminDeviceID, createCert)
	require.NoError(t, err)

	shareCert := &types.Certificate{
		Type:             types.CertificateRealmRole,
		Timestamp:        h.clock.Now().Add(time.Millisecond),
		RealmID:          "realm1",
		RealmRoleUserID:  "user_outsider",
		RealmRoleGranted: types.RealmRoleReader,
	}
	require.NoError(t, realms.Share(context.Background(), testOrgID, adminDeviceID, shareCert))

	realm, err := h.store.GetRealm(context.Background(), testOrgID, "realm1")
	require.NoError(t, err)
	require.Equal(t, types.RealmRoleReader, realm.CurrentRole("user_outsider"))
}

func TestRotateKeyRequiresMonotonicIndexAndFullParticipantCoverage(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)
	h.createUser(t, testOrgID, "user_member", types.ProfileStandard)

	realms, err := NewRealms(h.deps())
	require.NoError(t, err)

	createCert := &types.Certificate{
		Type:            types.CertificateRealmRole,
		Timestamp:       h.clock.Now(),
		RealmID:         "realm1",
		RealmRoleUserID: "user_admin",
	}
	_, err = realms.CreateRealm(context.Background(), testOrgID, adminDeviceID, createCert)
	require.NoError(t, err)

	memberCert := &types.Certificate{
		Type:             types.CertificateRealmRole,
		Timestamp:        h.clock.Now().Add(time.Millisecond),
		RealmID:          "realm1",
		RealmRoleUserID:  "user_member",
		RealmRoleGranted: types.RealmRoleContributor,
	}
	require.NoError(t, realms.Share(context.Background(), testOrgID, adminDeviceID, memberCert))

	// Missing the new member's key share is rejected.
	rotateCert := &types.Certificate{
		Type:      types.CertificateRealmKeyRotation,
		Timestamp: h.clock.Now().Add(2 * time.Millisecond),
		RealmID:   "realm1",
		KeyIndex:  1,
	}
	err = realms.RotateKey(context.Background(), testOrgID, adminDeviceID, rotateCert, map[string][]byte{
		"user_admin": []byte("key-for-admin"),
	})
	require.Error(t, err)
	_, ok := err.(codec.RepInvalidKeysBundle)
	require.True(t, ok)

	// A full bundle at the right (first) key index succeeds.
	err = realms.RotateKey(context.Background(), testOrgID, adminDeviceID, rotateCert, map[string][]byte{
		"user_admin":  []byte("key-for-admin"),
		"user_member": []byte("key-for-member"),
	})
	require.NoError(t, err)

	// Re-using key index 1 again (not 2) violates monotonicity.
	staleCert := &types.Certificate{
		Type:      types.CertificateRealmKeyRotation,
		Timestamp: h.clock.Now().Add(3 * time.Millisecond),
		RealmID:   "realm1",
		KeyIndex:  1,
	}
	err = realms.RotateKey(context.Background(), testOrgID, adminDeviceID, staleCert, map[string][]byte{
		"user_admin":  []byte("key-for-admin"),
		"user_member": []byte("key-for-member"),
	})
	require.Error(t, err)
	_, ok = err.(codec.RepBadKeyIndex)
	require.True(t, ok)
}

func TestRenameRequiresOwnerAndNonEmptyName(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)
	memberDeviceID := h.createUser(t, testOrgID, "user_member", types.ProfileStandard)

	realms, err := NewRealms(h.deps())
	require.NoError(t, err)

	createCert := &types.Certificate{
		Type:            types.CertificateRealmRole,
		Timestamp:       h.clock.Now(),
		RealmID:         "realm1",
		RealmRoleUserID: "user_admin",
	}
	_, err = realms.CreateRealm(context.Background(), testOrgID, adminDeviceID, createCert)
	require.NoError(t, err)

	emptyNameCert := &types.Certificate{
		Type:      types.CertificateRealmRename,
		Timestamp: h.clock.Now().Add(time.Millisecond),
		RealmID:   "realm1",
	}
	err = realms.Rename(context.Background(), testOrgID, adminDeviceID, emptyNameCert)
	require.Error(t, err)

	memberCert := &types.Certificate{
		Type:               types.CertificateRealmRename,
		Timestamp:          h.clock.Now().Add(2 * time.Millisecond),
		RealmID:            "realm1",
		EncryptedRealmName: []byte("encrypted"),
	}
	err = realms.Rename(context.Background(), testOrgID, memberDeviceID, memberCert)
	require.Error(t, err)
	_, ok := err.(codec.RepNotAllowed)
	require.True(t, ok)
}
