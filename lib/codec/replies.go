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

// Ok is the generic success reply for operations that carry no payload
// beyond "it happened".
type Ok struct{}

func (Ok) isParsecReply() {}

// OrganizationBootstrapReply is organization_bootstrap's reply.
type OrganizationBootstrapReply struct {
	Ok *Ok `msgpack:",omitempty"`
}

func (OrganizationBootstrapReply) isParsecReply() {}

// OrganizationGetReply is organization_get's reply.
type OrganizationGetReply struct {
	IsBootstrapped        bool
	RootVerifyKey         []byte
	Expired               bool
	ActiveUsersLimitUnbounded bool
	ActiveUsersLimit      uint64
	OutsiderProfilePolicy string
	ClientAgentPolicy     string
	TOSPerLocaleURL       map[string]string
	TOSUpdatedAt          *time.Time
}

func (OrganizationGetReply) isParsecReply() {}

// OrganizationStatsReply is organization_stats's reply.
type OrganizationStatsReply struct {
	ActiveUsers  map[string]int
	RevokedUsers map[string]int
	Realms       int
	MetadataSize uint64
	DataSize     uint64
}

func (OrganizationStatsReply) isParsecReply() {}

// CertificateGetReply is get_certificates_as_user's reply: ordered
// certificate blobs per topic, redacted twins substituted in for OUTSIDER
// callers by the component before this reply is built (§4.6, invariant 6).
type CertificateGetReply struct {
	Common         [][]byte
	Sequester      [][]byte
	ShamirRecovery [][]byte
	Realm          map[string][][]byte
}

func (CertificateGetReply) isParsecReply() {}

// VlobReadVersionsReply is read_versions's reply (§4.8).
type VlobReadVersionsReply struct {
	Items                          []VlobVersionItem
	NeededCommonCertificateTimestamp time.Time
	NeededRealmCertificateTimestamp  time.Time
}

func (VlobReadVersionsReply) isParsecReply() {}

// VlobVersionItem is one returned (vlob, version) tuple.
type VlobVersionItem struct {
	VlobID    string
	KeyIndex  uint64
	Author    string
	Version   uint64
	CreatedOn time.Time
	Blob      []byte
}

// PingReply echoes the ping payload back (§4.3).
type PingReply struct {
	Pong string
}

func (PingReply) isParsecReply() {}

// InvitationCreateReply is invitation_create's reply (§3).
type InvitationCreateReply struct {
	Token     string
	CreatedAt time.Time
}

func (InvitationCreateReply) isParsecReply() {}

// InvitationItem is one entry of invitation_list's reply.
type InvitationItem struct {
	Token        string
	Type         string
	ClaimerEmail string
	CreatedAt    time.Time
}

// InvitationListReply is invitation_list's reply.
type InvitationListReply struct {
	Invitations []InvitationItem
}

func (InvitationListReply) isParsecReply() {}

// InvitationClaimReply is invitation_claim's reply (§6): what the claimer
// needs to proceed with user_create or device_create.
type InvitationClaimReply struct {
	Type         string
	ClaimerEmail string
	CreatedBy    string
	CreatedAt    time.Time
}

func (InvitationClaimReply) isParsecReply() {}

// TOSAcceptReply is tos_accept's reply.
type TOSAcceptReply struct {
	AcceptedAt time.Time
}

func (TOSAcceptReply) isParsecReply() {}

// SequesterServiceRegisterReply is sequester_service_register's reply.
type SequesterServiceRegisterReply struct {
	RegisteredAt time.Time
}

func (SequesterServiceRegisterReply) isParsecReply() {}

// --- §7 typed error taxonomy -------------------------------------------------
//
// Component-level outcomes become typed RPC replies carried in an HTTP 200
// body (§7 propagation policy); only handshake-level failures (§4.9) abort
// with a bespoke HTTP status before any of these are built.

// RepNotFound covers NotFound for organization/device/user/realm/vlob/
// invitation lookups; What names which kind of entity was missing.
type RepNotFound struct {
	What string
}

func (RepNotFound) isParsecReply() {}
func (e RepNotFound) Error() string { return "not found: " + e.What }

// RepNotAllowed covers NotAllowed: the author's role or profile doesn't
// meet the operation's requirement.
type RepNotAllowed struct {
	Reason string
}

func (RepNotAllowed) isParsecReply() {}
func (e RepNotAllowed) Error() string { return "not allowed: " + e.Reason }

// RepTimestampOutOfBallpark is the ballpark-check failure (§4.2, §7).
type RepTimestampOutOfBallpark struct {
	ServerTimestamp   time.Time
	ClientTimestamp   time.Time
	BallparkClientEarlyOffset time.Duration
	BallparkClientLateOffset  time.Duration
}

func (RepTimestampOutOfBallpark) isParsecReply() {}
func (e RepTimestampOutOfBallpark) Error() string { return "timestamp out of ballpark" }

// RepRequireGreaterTimestamp is the ordering-gate failure (§4.6, §5, §7,
// §8 S2): the caller must re-sign with a timestamp strictly greater than
// StrictlyGreaterThan.
type RepRequireGreaterTimestamp struct {
	StrictlyGreaterThan time.Time
}

func (RepRequireGreaterTimestamp) isParsecReply() {}
func (e RepRequireGreaterTimestamp) Error() string { return "require greater timestamp" }

// RepBadKeyIndex is vlob create/update's key-index validation failure
// (§4.8, §7, §8 S3).
type RepBadKeyIndex struct {
	LastRealmCertificateTimestamp time.Time
}

func (RepBadKeyIndex) isParsecReply() {}
func (e RepBadKeyIndex) Error() string { return "bad key index" }

// RepBadVlobVersion is vlob update's contiguity failure (§4.8, §7).
type RepBadVlobVersion struct {
	LastRealmCertificateTimestamp time.Time
}

func (RepBadVlobVersion) isParsecReply() {}
func (e RepBadVlobVersion) Error() string { return "bad vlob version" }

// RepInvalidCertificate covers structural/cryptographic certificate
// validation failure (§4.2, §7).
type RepInvalidCertificate struct {
	Reason string
}

func (RepInvalidCertificate) isParsecReply() {}
func (e RepInvalidCertificate) Error() string { return "invalid certificate: " + e.Reason }

// RepInvalidKeysBundle covers a realm-key-rotation whose
// per-participant-keys bundle doesn't cover every current participant
// (§4.7, §7).
type RepInvalidKeysBundle struct {
	MissingUserIDs []string
}

func (RepInvalidKeysBundle) isParsecReply() {}
func (e RepInvalidKeysBundle) Error() string { return "invalid keys bundle" }

// RepInvalidEncryptedRealmName covers a malformed realm rename payload
// (§4.7, §7).
type RepInvalidEncryptedRealmName struct {
	Reason string
}

func (RepInvalidEncryptedRealmName) isParsecReply() {}
func (e RepInvalidEncryptedRealmName) Error() string { return "invalid encrypted realm name" }

// RepAlreadyExists covers AlreadyExists for user-ID/device-ID/handle-email/
// vlob-ID collisions (§4.6, §4.8, §7).
type RepAlreadyExists struct {
	What string
}

func (RepAlreadyExists) isParsecReply() {}
func (e RepAlreadyExists) Error() string { return "already exists: " + e.What }

// RepIdempotent mirrors types.CertificateBasedActionIdempotentOutcome on
// the wire (§4.6, §7, §8 invariant 8, S4): repeating an already-performed
// certificate action returns the first attempt's timestamp rather than an
// error.
type RepIdempotent struct {
	CertificateTimestamp time.Time
}

func (RepIdempotent) isParsecReply() {}
func (e RepIdempotent) Error() string { return "idempotent" }

// RepActiveUsersLimitReached covers create_user's limit precondition
// (§4.6, §7).
type RepActiveUsersLimitReached struct{}

func (RepActiveUsersLimitReached) isParsecReply() {}
func (RepActiveUsersLimitReached) Error() string { return "active users limit reached" }
