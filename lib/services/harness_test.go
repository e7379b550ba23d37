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

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/ed25519"

	"github.com/parsec-io/parsec-server/api/types"
	"github.com/parsec-io/parsec-server/lib/backend/memory"
	"github.com/parsec-io/parsec-server/lib/crypto"
	"github.com/parsec-io/parsec-server/lib/events"
)

const testOrgID = "acme"

// harness bundles the collaborators every component test builds its Deps
// from, mirroring lib/joinserver/joinserver_test.go's newHarness convention.
type harness struct {
	store *memory.Store
	bus   *events.Bus
	clock clockwork.Clock
	crypto *crypto.Verifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	return &harness{
		store:  memory.New(),
		bus:    events.NewBus(nil),
		clock:  clock,
		crypto: &crypto.Verifier{Clock: clock},
	}
}

func (h *harness) deps() Deps {
	return Deps{Store: h.store, Bus: h.bus, Crypto: h.crypto, Clock: h.clock}
}

// createOrg seeds an organization with one ADMIN user and device, returning
// the device ID, as most component operations need an existing author.
func (h *harness) createOrg(t *testing.T, orgID string) (adminUserID, adminDeviceID string) {
	t.Helper()
	require.NoError(t, h.store.CreateOrganization(context.Background(), &types.Organization{
		ID:           orgID,
		Bootstrapped: true,
		RootVerifyKey: []byte("unused-root-key-------------------------"),
		CreatedAt:    h.clock.Now(),
	}))
	admin := &types.User{
		ID:          "user_admin",
		HumanHandle: types.HumanHandle{Email: "admin@example.com", Label: "Admin"},
		Profile:     types.ProfileAdmin,
		CreatedAt:   h.clock.Now(),
	}
	device := &types.Device{ID: "device_admin", UserID: admin.ID, CreatedAt: h.clock.Now()}
	require.NoError(t, h.store.CreateUser(context.Background(), orgID, admin, device))
	return admin.ID, device.ID
}

// createUser seeds an additional user+device directly in the store (bypassing
// CreateUser's certificate path, since most tests only care about the
// resulting fixture, not the create_user flow itself).
func (h *harness) createUser(t *testing.T, orgID, userID string, profile types.Profile) (deviceID string) {
	t.Helper()
	user := &types.User{
		ID:          userID,
		HumanHandle: types.HumanHandle{Email: userID + "@example.com"},
		Profile:     profile,
		CreatedAt:   h.clock.Now(),
	}
	device := &types.Device{ID: "device_" + userID, UserID: userID, CreatedAt: h.clock.Now()}
	require.NoError(t, h.store.CreateUser(context.Background(), orgID, user, device))
	return device.ID
}

// certPayload mirrors lib/crypto's unexported certificatePayload field for
// field, since msgpack dispatches on exported field names rather than Go
// type identity; this lets tests build certificate bytes without a
// crypto-internal export.
type certPayload struct {
	Type      types.CertificateType
	Author    string
	Timestamp time.Time

	UserID             string
	UserHandleEmail    string
	UserHandleLabel    string
	UserProfile        types.Profile
	DeviceID           string
	DeviceVerifyKey    []byte
	RevokedUserID      string
	RealmID            string
	RealmRoleUserID    string
	RealmRoleGranted   types.RealmRole
	KeyIndex           uint64
	EncryptedRealmName []byte
	SequesterServiceID string
}

// signCert builds a *types.Certificate the way resolveAuthor's callers
// receive one from the dispatcher: already verified, with Raw/RedactedRaw
// populated from a real detached signature over p, signed by key.
func signCert(t *testing.T, key ed25519.PrivateKey, p certPayload) *types.Certificate {
	t.Helper()
	payload, err := msgpack.Marshal(p)
	require.NoError(t, err)
	blob := crypto.Sign(key, payload)
	return &types.Certificate{
		Type:               p.Type,
		Raw:                blob.Bytes(),
		Author:             p.Author,
		Timestamp:          p.Timestamp,
		UserID:             p.UserID,
		UserHandleEmail:    p.UserHandleEmail,
		UserHandleLabel:    p.UserHandleLabel,
		UserProfile:        p.UserProfile,
		DeviceID:           p.DeviceID,
		DeviceVerifyKey:    p.DeviceVerifyKey,
		RevokedUserID:      p.RevokedUserID,
		RealmID:            p.RealmID,
		RealmRoleUserID:    p.RealmRoleUserID,
		RealmRoleGranted:   p.RealmRoleGranted,
		KeyIndex:           p.KeyIndex,
		EncryptedRealmName: p.EncryptedRealmName,
		SequesterServiceID: p.SequesterServiceID,
	}
}

func generateKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, priv
}
