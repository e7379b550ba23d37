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
	"io"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/parsec-io/parsec-server/api/types"
	"github.com/parsec-io/parsec-server/lib/codec"
	"github.com/parsec-io/parsec-server/lib/crypto"
	"github.com/parsec-io/parsec-server/lib/joinserver"
	"github.com/parsec-io/parsec-server/lib/services"
)

// Components bundles the service-layer components the dispatcher binds
// decoded commands to (§4.10).
type Components struct {
	Organizations *services.Organizations
	Users         *services.Users
	Realms        *services.Realms
	Vlobs         *services.Vlobs
	Invitations   *joinserver.Invitations
	Sequester     *services.Sequester
	Crypto        *crypto.Verifier
	// Clock supplies server-now for operational (non-certificate-bearing)
	// timestamps such as tos_accept; defaults to the real clock if nil.
	Clock clockwork.Clock
}

func (c Components) clock() clockwork.Clock {
	if c.Clock == nil {
		return clockwork.NewRealClock()
	}
	return c.Clock
}

// ReadBody reads r's body capped at MaxRequestBodyBytes (§4.1, §4.10,
// §10): a stream that keeps sending past the cap, including one that stalls
// mid-body, never grows past one extra byte before erroring.
func ReadBody(r *http.Request) ([]byte, error) {
	limited := io.LimitReader(r.Body, types.MaxRequestBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(body) > types.MaxRequestBodyBytes {
		return nil, trace.BadParameter("request body exceeds %d bytes", types.MaxRequestBodyBytes)
	}
	return body, nil
}

// Dispatch implements the RPC Dispatcher (§4.10): decodes body, invokes the
// component method bound to the concrete request variant, and returns the
// cmd (for Encode's envelope) and typed reply. A returned error is either a
// decode or routing failure, a trace.BadParameter (maps to HTTP 415), or an
// internal failure that matches no typed reply (maps to HTTP 500); every
// other component-level outcome, including the typed §7 error variants,
// comes back as a non-nil reply with a nil error.
func Dispatch(ctx context.Context, id *Identity, comps Components, body []byte) (codec.Cmd, codec.Reply, error) {
	req, err := codec.Decode(body)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	if !scopeAllows(id.Scope, req) {
		return "", nil, trace.BadParameter("bad content: command %T not valid on this route", req)
	}

	switch r := req.(type) {
	case *codec.OrganizationBootstrapRequest:
		_, _, err := comps.Organizations.Bootstrap(ctx, id.OrgID, services.BootstrapParams{
			BootstrapToken:                r.BootstrapToken,
			RootVerifyKey:                 r.RootVerifyKey,
			UserCertificate:               r.UserCertificate,
			UserCertificateRedacted:       r.RedactedUserCertificate,
			DeviceCertificate:             r.DeviceCertificate,
			DeviceCertificateRedacted:     r.RedactedDeviceCertificate,
			SequesterCertificate:          r.SequesterAuthorityCertificate,
		})
		return replyOrError(codec.CmdOrganizationBootstrap, codec.OrganizationBootstrapReply{Ok: &codec.Ok{}}, err)

	case *codec.OrganizationGetRequest:
		org, err := comps.Organizations.Get(ctx, id.OrgID)
		if err != nil {
			return codec.CmdOrganizationGet, errorReply(err), nil
		}
		reply := codec.OrganizationGetReply{
			IsBootstrapped:            org.IsBootstrapped(),
			RootVerifyKey:             org.RootVerifyKey,
			Expired:                   org.Expired,
			ActiveUsersLimitUnbounded: org.ActiveUsersLimit.Unbounded(),
			ActiveUsersLimit:          uint64(org.ActiveUsersLimit),
			OutsiderProfilePolicy:     string(org.OutsiderProfilePolicy),
			ClientAgentPolicy:         string(org.ClientAgentPolicy),
		}
		if org.TOS != nil {
			reply.TOSPerLocaleURL = org.TOS.PerLocaleURL
			reply.TOSUpdatedAt = &org.TOS.UpdatedAt
		}
		return codec.CmdOrganizationGet, reply, nil

	case *codec.OrganizationUpdateRequest:
		if id.Profile != types.ProfileAdmin {
			return codec.CmdOrganizationUpdate, codec.RepNotAllowed{Reason: "organization_update requires an admin caller"}, nil
		}
		upd := services.OrganizationUpdate{Expired: r.Expired}
		if r.ActiveUsersLimit != nil {
			limit := types.ActiveUsersLimit(*r.ActiveUsersLimit)
			upd.ActiveUsersLimit = &limit
		}
		if r.OutsiderProfilePolicy != "" {
			policy := types.OutsiderProfilePolicy(r.OutsiderProfilePolicy)
			upd.OutsiderProfilePolicy = &policy
		}
		if r.ClientAgentPolicy != "" {
			policy := types.ClientAgentPolicy(r.ClientAgentPolicy)
			upd.ClientAgentPolicy = &policy
		}
		if r.TOSUpdatedAt != nil {
			upd.TOS = &types.TOS{PerLocaleURL: r.TOSPerLocaleURL, UpdatedAt: *r.TOSUpdatedAt}
		}
		err := comps.Organizations.Update(ctx, id.OrgID, upd)
		return replyOrError(codec.CmdOrganizationUpdate, codec.Ok{}, err)

	case *codec.OrganizationStatsRequest:
		stats, err := comps.Organizations.Stats(ctx, id.OrgID, r.At)
		if err != nil {
			return codec.CmdOrganizationStats, errorReply(err), nil
		}
		reply := codec.OrganizationStatsReply{
			ActiveUsers:  make(map[string]int, len(stats.ActiveUsers)),
			RevokedUsers: make(map[string]int, len(stats.RevokedUsers)),
			Realms:       stats.Realms,
			MetadataSize: stats.MetadataSize,
			DataSize:     stats.DataSize,
		}
		for p, n := range stats.ActiveUsers {
			reply.ActiveUsers[string(p)] = n
		}
		for p, n := range stats.RevokedUsers {
			reply.RevokedUsers[string(p)] = n
		}
		return codec.CmdOrganizationStats, reply, nil

	case *codec.UserCreateRequest:
		authorKey, err := comps.Users.GetActiveDeviceVerifyKey(ctx, id.OrgID, id.DeviceID)
		if err != nil {
			return codec.CmdUserCreate, errorReply(err), nil
		}
		userCert, err := comps.Crypto.VerifyCertificate(types.CertificateUserCreation, r.UserCertificate, nonNilBytes(r.RedactedUserCertificate), authorKey, id.DeviceID)
		if err != nil {
			return codec.CmdUserCreate, codec.RepInvalidCertificate{Reason: err.Error()}, nil
		}
		deviceCert, err := comps.Crypto.VerifyCertificate(types.CertificateDeviceCreation, r.DeviceCertificate, nonNilBytes(r.RedactedDeviceCertificate), authorKey, id.DeviceID)
		if err != nil {
			return codec.CmdUserCreate, codec.RepInvalidCertificate{Reason: err.Error()}, nil
		}
		firstDevice := &types.Device{
			ID:        deviceCert.DeviceID,
			UserID:    userCert.UserID,
			VerifyKey: deviceCert.DeviceVerifyKey,
			CreatedBy: id.DeviceID,
			CreatedAt: deviceCert.Timestamp,
		}
		_, err = comps.Users.CreateUser(ctx, id.OrgID, id.DeviceID, userCert, firstDevice)
		return replyOrError(codec.CmdUserCreate, codec.Ok{}, err)

	case *codec.DeviceCreateRequest:
		authorKey, err := comps.Users.GetActiveDeviceVerifyKey(ctx, id.OrgID, id.DeviceID)
		if err != nil {
			return codec.CmdDeviceCreate, errorReply(err), nil
		}
		deviceCert, err := comps.Crypto.VerifyCertificate(types.CertificateDeviceCreation, r.DeviceCertificate, nonNilBytes(r.RedactedDeviceCertificate), authorKey, id.DeviceID)
		if err != nil {
			return codec.CmdDeviceCreate, codec.RepInvalidCertificate{Reason: err.Error()}, nil
		}
		_, err = comps.Users.CreateDevice(ctx, id.OrgID, id.DeviceID, deviceCert)
		return replyOrError(codec.CmdDeviceCreate, codec.Ok{}, err)

	case *codec.UserRevokeRequest:
		authorKey, err := comps.Users.GetActiveDeviceVerifyKey(ctx, id.OrgID, id.DeviceID)
		if err != nil {
			return codec.CmdUserRevoke, errorReply(err), nil
		}
		cert, err := comps.Crypto.VerifyCertificate(types.CertificateUserRevocation, r.RevokedUserCertificate, nil, authorKey, id.DeviceID)
		if err != nil {
			return codec.CmdUserRevoke, codec.RepInvalidCertificate{Reason: err.Error()}, nil
		}
		err = comps.Users.RevokeUser(ctx, id.OrgID, id.DeviceID, cert)
		return replyOrError(codec.CmdUserRevoke, codec.Ok{}, err)

	case *codec.UserUpdateRequest:
		authorKey, err := comps.Users.GetActiveDeviceVerifyKey(ctx, id.OrgID, id.DeviceID)
		if err != nil {
			return codec.CmdUserUpdate, errorReply(err), nil
		}
		cert, err := comps.Crypto.VerifyCertificate(types.CertificateUserUpdate, r.UserUpdateCertificate, nil, authorKey, id.DeviceID)
		if err != nil {
			return codec.CmdUserUpdate, codec.RepInvalidCertificate{Reason: err.Error()}, nil
		}
		err = comps.Users.UpdateUser(ctx, id.OrgID, id.DeviceID, cert)
		return replyOrError(codec.CmdUserUpdate, codec.Ok{}, err)

	case *codec.CertificateGetRequest:
		common, sequester, shamir, realms, err := comps.Users.GetCertificatesAsUser(ctx, id.OrgID, id.UserID, id.Profile, services.CertificatesFilter{
			CommonAfter:         r.CommonAfter,
			SequesterAfter:      r.SequesterAfter,
			ShamirRecoveryAfter: r.ShamirRecoveryAfter,
			RealmAfter:          r.RealmAfter,
		})
		if err != nil {
			return codec.CmdCertificateGet, errorReply(err), nil
		}
		reply := codec.CertificateGetReply{
			Common:         rawBytes(common),
			Sequester:      rawBytes(sequester),
			ShamirRecovery: rawBytes(shamir),
			Realm:          make(map[string][][]byte, len(realms)),
		}
		for realmID, certs := range realms {
			reply.Realm[realmID] = rawBytes(certs)
		}
		return codec.CmdCertificateGet, reply, nil

	case *codec.RealmCreateRequest:
		authorKey, err := comps.Users.GetActiveDeviceVerifyKey(ctx, id.OrgID, id.DeviceID)
		if err != nil {
			return codec.CmdRealmCreate, errorReply(err), nil
		}
		cert, err := comps.Crypto.VerifyCertificate(types.CertificateRealmRole, r.RealmRoleCertificate, nil, authorKey, id.DeviceID)
		if err != nil {
			return codec.CmdRealmCreate, codec.RepInvalidCertificate{Reason: err.Error()}, nil
		}
		_, err = comps.Realms.CreateRealm(ctx, id.OrgID, id.DeviceID, cert)
		return replyOrError(codec.CmdRealmCreate, codec.Ok{}, err)

	case *codec.RealmShareRequest:
		authorKey, err := comps.Users.GetActiveDeviceVerifyKey(ctx, id.OrgID, id.DeviceID)
		if err != nil {
			return codec.CmdRealmShare, errorReply(err), nil
		}
		cert, err := comps.Crypto.VerifyCertificate(types.CertificateRealmRole, r.RealmRoleCertificate, nil, authorKey, id.DeviceID)
		if err != nil {
			return codec.CmdRealmShare, codec.RepInvalidCertificate{Reason: err.Error()}, nil
		}
		err = comps.Realms.Share(ctx, id.OrgID, id.DeviceID, cert)
		return replyOrError(codec.CmdRealmShare, codec.Ok{}, err)

	case *codec.RealmRotateKeyRequest:
		authorKey, err := comps.Users.GetActiveDeviceVerifyKey(ctx, id.OrgID, id.DeviceID)
		if err != nil {
			return codec.CmdRealmRotateKey, errorReply(err), nil
		}
		cert, err := comps.Crypto.VerifyCertificate(types.CertificateRealmKeyRotation, r.RealmKeyRotationCertificate, nil, authorKey, id.DeviceID)
		if err != nil {
			return codec.CmdRealmRotateKey, codec.RepInvalidCertificate{Reason: err.Error()}, nil
		}
		err = comps.Realms.RotateKey(ctx, id.OrgID, id.DeviceID, cert, r.PerParticipantKeysBundleAccess)
		return replyOrError(codec.CmdRealmRotateKey, codec.Ok{}, err)

	case *codec.RealmRenameRequest:
		authorKey, err := comps.Users.GetActiveDeviceVerifyKey(ctx, id.OrgID, id.DeviceID)
		if err != nil {
			return codec.CmdRealmRename, errorReply(err), nil
		}
		cert, err := comps.Crypto.VerifyCertificate(types.CertificateRealmRename, r.RealmRenameCertificate, nil, authorKey, id.DeviceID)
		if err != nil {
			return codec.CmdRealmRename, codec.RepInvalidCertificate{Reason: err.Error()}, nil
		}
		err = comps.Realms.Rename(ctx, id.OrgID, id.DeviceID, cert)
		return replyOrError(codec.CmdRealmRename, codec.Ok{}, err)

	case *codec.VlobCreateRequest:
		err := comps.Vlobs.Create(ctx, id.OrgID, id.DeviceID, r.RealmID, r.VlobID, r.KeyIndex, r.Timestamp, r.Blob, r.SequesterBlob)
		return replyOrError(codec.CmdVlobCreate, codec.Ok{}, err)

	case *codec.VlobUpdateRequest:
		err := comps.Vlobs.Update(ctx, id.OrgID, id.DeviceID, r.RealmID, r.VlobID, r.Version, r.KeyIndex, r.Timestamp, r.Blob, r.SequesterBlob)
		return replyOrError(codec.CmdVlobUpdate, codec.Ok{}, err)

	case *codec.VlobReadVersionsRequest:
		refs := make([]services.VlobVersionRef, len(r.Items))
		for i, item := range r.Items {
			refs[i] = services.VlobVersionRef{VlobID: item.VlobID, Version: item.Version}
		}
		results, neededCommon, neededRealm, err := comps.Vlobs.ReadVersions(ctx, id.OrgID, id.UserID, r.RealmID, refs)
		if err != nil {
			return codec.CmdVlobReadVersions, errorReply(err), nil
		}
		reply := codec.VlobReadVersionsReply{
			Items:                            make([]codec.VlobVersionItem, len(results)),
			NeededCommonCertificateTimestamp: neededCommon,
			NeededRealmCertificateTimestamp:  neededRealm,
		}
		for i, res := range results {
			reply.Items[i] = codec.VlobVersionItem{
				VlobID:    res.VlobID,
				KeyIndex:  res.KeyIndex,
				Author:    res.Author,
				Version:   res.Version,
				CreatedOn: res.CreatedOn,
				Blob:      res.Blob,
			}
		}
		return codec.CmdVlobReadVersions, reply, nil

	case *codec.PingRequest:
		return codec.CmdPing, codec.PingReply{Pong: r.Ping}, nil

	case *codec.InvitationCreateRequest:
		inv, err := comps.Invitations.Create(ctx, id.OrgID, id.DeviceID, types.InvitationType(r.Type), r.ClaimerEmail)
		if err != nil {
			return codec.CmdInvitationCreate, errorReply(err), nil
		}
		return codec.CmdInvitationCreate, codec.InvitationCreateReply{Token: inv.Token, CreatedAt: inv.CreatedAt}, nil

	case *codec.InvitationListRequest:
		invs, err := comps.Invitations.List(ctx, id.OrgID, id.DeviceID)
		if err != nil {
			return codec.CmdInvitationList, errorReply(err), nil
		}
		items := make([]codec.InvitationItem, len(invs))
		for i, inv := range invs {
			items[i] = codec.InvitationItem{
				Token:        inv.Token,
				Type:         string(inv.Type),
				ClaimerEmail: inv.ClaimerEmail,
				CreatedAt:    inv.CreatedAt,
			}
		}
		return codec.CmdInvitationList, codec.InvitationListReply{Invitations: items}, nil

	case *codec.InvitationCancelRequest:
		err := comps.Invitations.Cancel(ctx, id.OrgID, id.DeviceID, r.Token)
		return replyOrError(codec.CmdInvitationCancel, codec.Ok{}, err)

	case *codec.InvitationClaimRequest:
		inv, err := comps.Invitations.Claim(ctx, id.Invitation)
		if err != nil {
			return codec.CmdInvitationClaim, errorReply(err), nil
		}
		return codec.CmdInvitationClaim, codec.InvitationClaimReply{
			Type:         string(inv.Type),
			ClaimerEmail: inv.ClaimerEmail,
			CreatedBy:    inv.CreatedBy,
			CreatedAt:    inv.CreatedAt,
		}, nil

	case *codec.SequesterServiceRegisterRequest:
		org, err := comps.Organizations.Get(ctx, id.OrgID)
		if err != nil {
			return codec.CmdSequesterServiceRegister, errorReply(err), nil
		}
		if org.Sequester == nil {
			return codec.CmdSequesterServiceRegister, codec.RepNotAllowed{Reason: "organization has no sequester authority"}, nil
		}
		cert, err := comps.Crypto.VerifyCertificate(types.CertificateSequesterService, r.SequesterServiceCertificate, nonNilBytes(r.RedactedSequesterServiceCertificate), org.Sequester.VerifyKey, "")
		if err != nil {
			return codec.CmdSequesterServiceRegister, codec.RepInvalidCertificate{Reason: err.Error()}, nil
		}
		svc, err := comps.Sequester.RegisterService(ctx, id.OrgID, id.DeviceID, cert)
		if err != nil {
			return codec.CmdSequesterServiceRegister, errorReply(err), nil
		}
		return codec.CmdSequesterServiceRegister, codec.SequesterServiceRegisterReply{RegisteredAt: svc.RegisteredAt}, nil

	case *codec.TOSAcceptRequest:
		now := comps.clock().Now()
		if err := comps.Users.AcceptTOS(ctx, id.OrgID, id.UserID, now); err != nil {
			return codec.CmdTOSAccept, errorReply(err), nil
		}
		return codec.CmdTOSAccept, codec.TOSAcceptReply{AcceptedAt: now}, nil

	default:
		return "", nil, trace.BadParameter("bad content: unhandled request type %T", req)
	}
}

// scopeAllows reports whether req's concrete command is valid on the route
// that resolved scope (§6): each route only exposes the commands its
// handshake makes sense for, e.g. a signed bearer token never accompanies
// organization_bootstrap.
func scopeAllows(scope Scope, req codec.Request) bool {
	switch scope {
	case ScopeAnonymous:
		switch req.(type) {
		case *codec.OrganizationBootstrapRequest, *codec.PingRequest:
			return true
		}
	case ScopeInvited:
		switch req.(type) {
		case *codec.InvitationClaimRequest:
			return true
		}
	case ScopeAuthenticatedTOS:
		switch req.(type) {
		case *codec.TOSAcceptRequest:
			return true
		}
	case ScopeAuthenticated:
		switch req.(type) {
		case *codec.OrganizationGetRequest, *codec.OrganizationUpdateRequest, *codec.OrganizationStatsRequest,
			*codec.UserCreateRequest, *codec.DeviceCreateRequest, *codec.UserRevokeRequest, *codec.UserUpdateRequest,
			*codec.CertificateGetRequest, *codec.RealmCreateRequest, *codec.RealmShareRequest, *codec.RealmRotateKeyRequest,
			*codec.RealmRenameRequest, *codec.VlobCreateRequest, *codec.VlobUpdateRequest, *codec.VlobReadVersionsRequest,
			*codec.PingRequest, *codec.InvitationCreateRequest, *codec.InvitationListRequest, *codec.InvitationCancelRequest,
			*codec.SequesterServiceRegisterRequest:
			return true
		}
	}
	return false
}

// replyOrError returns cmd with ok on success, or with err's reply if it
// carries one (§7), mapping the Data Store's trace error taxonomy to the
// matching typed reply; anything else is promoted to an opaque internal
// failure the HTTP layer maps to 500.
func replyOrError(cmd codec.Cmd, ok codec.Reply, err error) (codec.Cmd, codec.Reply, error) {
	if err == nil {
		return cmd, ok, nil
	}
	if rep, isStoreErr := traceReply(err); isStoreErr {
		return cmd, rep, nil
	}
	return cmd, nil, trace.Wrap(err)
}

func errorReply(err error) codec.Reply {
	if rep, ok := traceReply(err); ok {
		return rep
	}
	return codec.RepNotFound{What: "entity"}
}

// traceReply recognizes a typed §7 reply (returned directly by a service
// method) or a bare Data Store trace error, and maps either to its wire
// reply. The second return is false only for an error neither form
// recognizes, signaling "internal, map to 500" to the caller.
func traceReply(err error) (codec.Reply, bool) {
	if rep, isTyped := err.(codec.Reply); isTyped {
		return rep, true
	}
	switch {
	case trace.IsNotFound(err):
		return codec.RepNotFound{What: "entity"}, true
	case trace.IsAlreadyExists(err):
		return codec.RepAlreadyExists{What: "entity"}, true
	case trace.IsAccessDenied(err):
		return codec.RepNotAllowed{Reason: err.Error()}, true
	case trace.IsBadParameter(err):
		return codec.RepInvalidCertificate{Reason: err.Error()}, true
	}
	return nil, false
}

func nonNilBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func rawBytes(certs []*types.Certificate) [][]byte {
	out := make([][]byte, len(certs))
	for i, c := range certs {
		out[i] = c.Raw
	}
	return out
}
