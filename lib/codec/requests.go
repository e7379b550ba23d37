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

package codec

import "time"

func init() {
	registerRequest(CmdOrganizationBootstrap, func() Request { return &OrganizationBootstrapRequest{} })
	registerRequest(CmdOrganizationGet, func() Request { return &OrganizationGetRequest{} })
	registerRequest(CmdOrganizationUpdate, func() Request { return &OrganizationUpdateRequest{} })
	registerRequest(CmdOrganizationStats, func() Request { return &OrganizationStatsRequest{} })
	registerRequest(CmdUserCreate, func() Request { return &UserCreateRequest{} })
	registerRequest(CmdDeviceCreate, func() Request { return &DeviceCreateRequest{} })
	registerRequest(CmdUserRevoke, func() Request { return &UserRevokeRequest{} })
	registerRequest(CmdUserUpdate, func() Request { return &UserUpdateRequest{} })
	registerRequest(CmdCertificateGet, func() Request { return &CertificateGetRequest{} })
	registerRequest(CmdRealmCreate, func() Request { return &RealmCreateRequest{} })
	registerRequest(CmdRealmShare, func() Request { return &RealmShareRequest{} })
	registerRequest(CmdRealmRotateKey, func() Request { return &RealmRotateKeyRequest{} })
	registerRequest(CmdRealmRename, func() Request { return &RealmRenameRequest{} })
	registerRequest(CmdVlobCreate, func() Request { return &VlobCreateRequest{} })
	registerRequest(CmdVlobUpdate, func() Request { return &VlobUpdateRequest{} })
	registerRequest(CmdVlobReadVersions, func() Request { return &VlobReadVersionsRequest{} })
	registerRequest(CmdPing, func() Request { return &PingRequest{} })
	registerRequest(CmdInvitationCreate, func() Request { return &InvitationCreateRequest{} })
	registerRequest(CmdInvitationList, func() Request { return &InvitationListRequest{} })
	registerRequest(CmdInvitationCancel, func() Request { return &InvitationCancelRequest{} })
	registerRequest(CmdInvitationClaim, func() Request { return &InvitationClaimRequest{} })
	registerRequest(CmdTOSAccept, func() Request { return &TOSAcceptRequest{} })
	registerRequest(CmdSequesterServiceRegister, func() Request { return &SequesterServiceRegisterRequest{} })
}

// OrganizationBootstrapRequest is the anonymous-scope bootstrap command
// (§4.5, §8 S1).
type OrganizationBootstrapRequest struct {
	BootstrapToken      string
	RootVerifyKey       []byte
	UserCertificate      []byte
	RedactedUserCertificate []byte
	DeviceCertificate      []byte
	RedactedDeviceCertificate []byte
	SequesterAuthorityCertificate []byte
}

func (*OrganizationBootstrapRequest) isParsecRequest() {}

// OrganizationGetRequest fetches organization config (§4.5, administration
// plane, shared with the authenticated scope for self-service reads).
type OrganizationGetRequest struct{}

func (*OrganizationGetRequest) isParsecRequest() {}

// OrganizationUpdateRequest toggles expired/limits/policies/TOS (§4.5).
type OrganizationUpdateRequest struct {
	Expired                *bool
	ActiveUsersLimit       *uint64
	OutsiderProfilePolicy  string
	ClientAgentPolicy      string
	TOSPerLocaleURL        map[string]string
	TOSUpdatedAt           *time.Time
}

func (*OrganizationUpdateRequest) isParsecRequest() {}

// OrganizationStatsRequest requests usage counters, optionally historical
// (§4.5).
type OrganizationStatsRequest struct {
	At *time.Time
}

func (*OrganizationStatsRequest) isParsecRequest() {}

// UserCreateRequest is the certificate-mediated create_user operation
// (§4.6).
type UserCreateRequest struct {
	UserCertificate           []byte
	RedactedUserCertificate   []byte
	DeviceCertificate         []byte
	RedactedDeviceCertificate []byte
}

func (*UserCreateRequest) isParsecRequest() {}

// DeviceCreateRequest is create_device (§4.6).
type DeviceCreateRequest struct {
	DeviceCertificate         []byte
	RedactedDeviceCertificate []byte
}

func (*DeviceCreateRequest) isParsecRequest() {}

// UserRevokeRequest is revoke_user (§4.6).
type UserRevokeRequest struct {
	RevokedUserCertificate []byte
}

func (*UserRevokeRequest) isParsecRequest() {}

// UserUpdateRequest is update_user, a profile change (§4.6).
type UserUpdateRequest struct {
	UserUpdateCertificate []byte
}

func (*UserUpdateRequest) isParsecRequest() {}

// CertificateGetRequest is get_certificates_as_user, filtered by per-topic
// watermarks (§4.6).
type CertificateGetRequest struct {
	CommonAfter          *time.Time
	SequesterAfter       *time.Time
	ShamirRecoveryAfter  *time.Time
	RealmAfter           map[string]time.Time
}

func (*CertificateGetRequest) isParsecRequest() {}

// RealmCreateRequest is create_realm (§4.7).
type RealmCreateRequest struct {
	RealmRoleCertificate []byte
}

func (*RealmCreateRequest) isParsecRequest() {}

// RealmShareRequest is share: grant/change/revoke a realm role (§4.7).
type RealmShareRequest struct {
	RealmRoleCertificate []byte
	RecipientKeysBundleAccess []byte
}

func (*RealmShareRequest) isParsecRequest() {}

// RealmRotateKeyRequest is rotate_key (§4.7).
type RealmRotateKeyRequest struct {
	RealmKeyRotationCertificate []byte
	PerParticipantKeysBundleAccess map[string][]byte
}

func (*RealmRotateKeyRequest) isParsecRequest() {}

// RealmRenameRequest is rename (§4.7).
type RealmRenameRequest struct {
	RealmRenameCertificate []byte
}

func (*RealmRenameRequest) isParsecRequest() {}

// VlobCreateRequest is vlob create (§4.8).
type VlobCreateRequest struct {
	RealmID       string
	VlobID        string
	KeyIndex      uint64
	Timestamp     time.Time
	Blob          []byte
	SequesterBlob map[string][]byte
}

func (*VlobCreateRequest) isParsecRequest() {}

// VlobUpdateRequest is vlob update (§4.8).
type VlobUpdateRequest struct {
	RealmID       string
	VlobID        string
	Version       uint64
	KeyIndex      uint64
	Timestamp     time.Time
	Blob          []byte
	SequesterBlob map[string][]byte
}

func (*VlobUpdateRequest) isParsecRequest() {}

// VlobVersionRef identifies one requested (vlob, version) pair.
type VlobVersionRef struct {
	VlobID  string
	Version uint64
}

// VlobReadVersionsRequest is read_versions (§4.8).
type VlobReadVersionsRequest struct {
	RealmID string
	Items   []VlobVersionRef
}

func (*VlobReadVersionsRequest) isParsecRequest() {}

// PingRequest is a liveness probe: Dispatch echoes Ping back as
// PingReply.Pong and publishes no event. The anonymous GET probe route (§6)
// does not send it.
type PingRequest struct {
	Ping string
}

func (*PingRequest) isParsecRequest() {}

// InvitationCreateRequest issues a new invitation (§3, §12): requires
// author ADMIN. Type is one of "USER", "DEVICE", "SHAMIR_RECOVERY".
type InvitationCreateRequest struct {
	Type         string
	ClaimerEmail string
}

func (*InvitationCreateRequest) isParsecRequest() {}

// InvitationListRequest lists every still-usable invitation in the caller's
// organization (§3).
type InvitationListRequest struct{}

func (*InvitationListRequest) isParsecRequest() {}

// InvitationCancelRequest cancels an invitation before it is claimed (§3:
// "deleted or cancelled").
type InvitationCancelRequest struct {
	Token string
}

func (*InvitationCancelRequest) isParsecRequest() {}

// InvitationClaimRequest is the invited-scope handshake request (§6): the
// invitation token is already the bearer credential carried on the
// Authorization header, so the body itself carries nothing.
type InvitationClaimRequest struct{}

func (*InvitationClaimRequest) isParsecRequest() {}

// TOSAcceptRequest is the sole operation on the authenticated_tos scope
// (§4.9, §6, §12): records that the caller accepts the organization's
// current terms of service, bypassing the TOS-accepted precondition that
// would otherwise reject it with 463.
type TOSAcceptRequest struct{}

func (*TOSAcceptRequest) isParsecRequest() {}

// SequesterServiceRegisterRequest is sequester_service_register (§3, §12):
// an admin vouches for a new sequester service by relaying a
// sequester_service certificate signed by the organization's sequester
// authority key, not by the calling device itself.
type SequesterServiceRegisterRequest struct {
	SequesterServiceCertificate         []byte
	RedactedSequesterServiceCertificate []byte
}

func (*SequesterServiceRegisterRequest) isParsecRequest() {}
