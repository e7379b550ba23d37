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

// Package events defines the typed payloads the Event Bus (§4.3) fans out
// to Server-Sent-Events subscribers. One Go type per event kind; the
// envelope that wraps them (ID, organization, kind) lives in lib/events.
package events

import "time"

// Kind discriminates the event variants of §4.3.
type Kind string

const (
	KindPinged                    Kind = "PINGED"
	KindInvitation                Kind = "INVITATION"
	KindCommonCertificate         Kind = "COMMON_CERTIFICATE"
	KindRealmCertificate          Kind = "REALM_CERTIFICATE"
	KindSequesterCertificate      Kind = "SEQUESTER_CERTIFICATE"
	KindShamirRecoveryCertificate Kind = "SHAMIR_RECOVERY_CERTIFICATE"
	KindVlob                      Kind = "VLOB"
	KindOrganizationConfig        Kind = "ORGANIZATION_CONFIG"
	KindOrganizationExpired       Kind = "ORGANIZATION_EXPIRED"
	KindOrganizationTOSUpdated    Kind = "ORGANIZATION_TOS_UPDATED"
	KindUserRevokedOrFrozen       Kind = "USER_REVOKED_OR_FROZEN"
	KindUserUnfrozen              Kind = "USER_UNFROZEN"
	KindUserUpdated               Kind = "USER_UPDATED"
	KindEnrollmentConduit         Kind = "ENROLLMENT_CONDUIT"
	KindPKIEnrollment             Kind = "PKI_ENROLLMENT"
)

// Pinged is a liveness probe payload. No server operation publishes it; the
// Event Bus tests use it to check delivery and replay (§8 invariant 7).
type Pinged struct {
	Ping string
}

// Invitation announces a change to an invitation's claim status.
type Invitation struct {
	Token string
	Type  string
}

// CommonCertificate announces a new certificate appended to the "common"
// topic (user/device creation, revocation, update).
type CommonCertificate struct {
	Timestamp time.Time
}

// RealmCertificate announces a new certificate appended to a realm topic
// (role grant/revoke, key rotation, rename).
type RealmCertificate struct {
	RealmID   string
	Timestamp time.Time
}

// SequesterCertificate announces a new certificate on the "sequester" topic.
type SequesterCertificate struct {
	Timestamp time.Time
}

// ShamirRecoveryCertificate announces a new certificate on the
// "shamir_recovery" topic.
type ShamirRecoveryCertificate struct {
	Timestamp time.Time
}

// Vlob announces a new or updated vlob version. Blob is omitted (nil) when
// larger than EventPayloadMaxBytes (§4.8, §12).
type Vlob struct {
	RealmID   string
	VlobID    string
	Version   uint64
	KeyIndex  uint64
	Timestamp time.Time
	Blob      []byte
}

// OrganizationConfig mirrors types.OrganizationConfigEvent; duplicated here
// (rather than imported) to keep the events package free of a dependency
// back on the top-level types package's mutable organization state.
type OrganizationConfig struct {
	ActiveUsersLimitUnbounded bool
	ActiveUsersLimit          uint64
	OutsiderProfilePolicy     string
	ClientAgentPolicy         string
	TOSUpdatedAt              *time.Time
}

// OrganizationExpired announces that an organization has been marked
// expired (§4.5).
type OrganizationExpired struct{}

// OrganizationTOSUpdated announces a new terms-of-service timestamp.
type OrganizationTOSUpdated struct {
	UpdatedAt time.Time
}

// UserRevokedOrFrozen announces that a user can no longer authenticate,
// either via certificate revocation or the operational freeze flag (§4.6).
type UserRevokedOrFrozen struct {
	UserID string
}

// UserUnfrozen announces that a previously frozen user was unfrozen.
type UserUnfrozen struct {
	UserID string
}

// UserUpdated announces a profile change (§4.6).
type UserUpdated struct {
	UserID     string
	NewProfile string
}

// EnrollmentConduit and PKIEnrollment are carried as opaque envelopes: they
// gate external enrollment flows not otherwise modeled by this server and
// are relayed byte-for-byte to subscribers.
type EnrollmentConduit struct {
	ConduitID string
}

type PKIEnrollment struct {
	EnrollmentID string
}
