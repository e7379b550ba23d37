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

package auth

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/parsec-io/parsec-server/api/types"
	"github.com/parsec-io/parsec-server/lib/backend/memory"
	"github.com/parsec-io/parsec-server/lib/codec"
	"github.com/parsec-io/parsec-server/lib/crypto"
	"github.com/parsec-io/parsec-server/lib/events"
	"github.com/parsec-io/parsec-server/lib/joinserver"
	"github.com/parsec-io/parsec-server/lib/services"
)

// wireEnvelope mirrors codec's unexported envelope shape by tag name, since
// msgpack dispatches on tags rather than Go type identity; it lets tests
// build request bytes the same way a client would without a codec-internal
// export.
type wireEnvelope struct {
	Cmd  codec.Cmd          `msgpack:"cmd"`
	Body msgpack.RawMessage `msgpack:"body"`
}

func encodeRequest(t *testing.T, cmd codec.Cmd, req interface{}) []byte {
	t.Helper()
	body, err := msgpack.Marshal(req)
	require.NoError(t, err)
	out, err := msgpack.Marshal(wireEnvelope{Cmd: cmd, Body: body})
	require.NoError(t, err)
	return out
}

func TestScopeAllows(t *testing.T) {
	cases := []struct {
		scope Scope
		req   codec.Request
		want  bool
	}{
		{ScopeAnonymous, &codec.PingRequest{}, true},
		{ScopeAnonymous, &codec.OrganizationBootstrapRequest{}, true},
		{ScopeAnonymous, &codec.VlobCreateRequest{}, false},
		{ScopeInvited, &codec.InvitationClaimRequest{}, true},
		{ScopeInvited, &codec.PingRequest{}, false},
		{ScopeAuthenticatedTOS, &codec.TOSAcceptRequest{}, true},
		{ScopeAuthenticatedTOS, &codec.OrganizationGetRequest{}, false},
		{ScopeAuthenticated, &codec.VlobCreateRequest{}, true},
		{ScopeAuthenticated, &codec.InvitationCreateRequest{}, true},
		{ScopeAuthenticated, &codec.OrganizationBootstrapRequest{}, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, scopeAllows(tc.scope, tc.req))
	}
}

func TestDispatchPingOnAnonymousScope(t *testing.T) {
	body := encodeRequest(t, codec.CmdPing, &codec.PingRequest{Ping: "hello"})
	id := &Identity{Scope: ScopeAnonymous, OrgID: "acme"}

	cmd, reply, err := Dispatch(context.Background(), id, Components{}, body)
	require.NoError(t, err)
	require.Equal(t, codec.CmdPing, cmd)
	require.Equal(t, codec.PingReply{Pong: "hello"}, reply)
}

func TestDispatchRejectsCommandOutsideScope(t *testing.T) {
	body := encodeRequest(t, codec.CmdVlobCreate, &codec.VlobCreateRequest{RealmID: "r1", VlobID: "v1"})
	id := &Identity{Scope: ScopeAnonymous, OrgID: "acme"}

	_, _, err := Dispatch(context.Background(), id, Components{}, body)
	require.Error(t, err)
}

func TestDispatchTOSAccept(t *testing.T) {
	store := memory.New()
	clock := clockwork.NewFakeClock()
	bus := events.NewBus(nil)
	verifier := &crypto.Verifier{Clock: clock}

	require.NoError(t, store.CreateOrganization(context.Background(), &types.Organization{ID: "acme"}))
	user := &types.User{ID: "user1", HumanHandle: types.HumanHandle{Email: "a@example.com"}, Profile: types.ProfileStandard, CreatedAt: clock.Now()}
	device := &types.Device{ID: "device1", UserID: user.ID, CreatedAt: clock.Now()}
	require.NoError(t, store.CreateUser(context.Background(), "acme", user, device))

	users, err := services.NewUsers(services.Deps{Store: store, Bus: bus, Crypto: verifier, Clock: clock})
	require.NoError(t, err)

	comps := Components{Users: users, Clock: clock}
	id := &Identity{Scope: ScopeAuthenticatedTOS, OrgID: "acme", DeviceID: device.ID, UserID: user.ID}

	body := encodeRequest(t, codec.CmdTOSAccept, &codec.TOSAcceptRequest{})
	cmd, reply, err := Dispatch(context.Background(), id, comps, body)
	require.NoError(t, err)
	require.Equal(t, codec.CmdTOSAccept, cmd)
	accept, ok := reply.(codec.TOSAcceptReply)
	require.True(t, ok)
	require.True(t, clock.Now().Equal(accept.AcceptedAt))

	updated, err := store.GetUser(context.Background(), "acme", user.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.TOSAcceptedAt)
}

func TestDispatchInvitationLifecycle(t *testing.T) {
	store := memory.New()
	clock := clockwork.NewFakeClock()
	bus := events.NewBus(nil)

	require.NoError(t, store.CreateOrganization(context.Background(), &types.Organization{ID: "acme"}))
	admin := &types.User{ID: "admin1", HumanHandle: types.HumanHandle{Email: "admin@example.com"}, Profile: types.ProfileAdmin, CreatedAt: clock.Now()}
	device := &types.Device{ID: "device_admin", UserID: admin.ID, CreatedAt: clock.Now()}
	require.NoError(t, store.CreateUser(context.Background(), "acme", admin, device))

	invitations, err := joinserver.NewInvitations(joinserver.Deps{Store: store, Bus: bus, Clock: clock})
	require.NoError(t, err)

	comps := Components{Invitations: invitations, Clock: clock}
	id := &Identity{Scope: ScopeAuthenticated, OrgID: "acme", DeviceID: device.ID, Profile: types.ProfileAdmin}

	createBody := encodeRequest(t, codec.CmdInvitationCreate, &codec.InvitationCreateRequest{Type: string(types.InvitationUser), ClaimerEmail: "new@example.com"})
	cmd, reply, err := Dispatch(context.Background(), id, comps, createBody)
	require.NoError(t, err)
	require.Equal(t, codec.CmdInvitationCreate, cmd)
	created, ok := reply.(codec.InvitationCreateReply)
	require.True(t, ok)
	require.NotEmpty(t, created.Token)

	listBody := encodeRequest(t, codec.CmdInvitationList, &codec.InvitationListRequest{})
	cmd, reply, err = Dispatch(context.Background(), id, comps, listBody)
	require.NoError(t, err)
	require.Equal(t, codec.CmdInvitationList, cmd)
	list, ok := reply.(codec.InvitationListReply)
	require.True(t, ok)
	require.Len(t, list.Invitations, 1)
	require.Equal(t, created.Token, list.Invitations[0].Token)

	cancelBody := encodeRequest(t, codec.CmdInvitationCancel, &codec.InvitationCancelRequest{Token: created.Token})
	cmd, reply, err = Dispatch(context.Background(), id, comps, cancelBody)
	require.NoError(t, err)
	require.Equal(t, codec.CmdInvitationCancel, cmd)
	require.Equal(t, codec.Ok{}, reply)
}
