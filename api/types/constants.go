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

// Package types holds the wire-level and domain types shared between the
// Parsec server and its clients: organizations, users, devices,
// certificates, realms, vlobs and the events the server emits about them.
package types

import "time"

// APIVersion is a major.minor pair settled between client and server during
// the handshake (§4.9). Two versions are compatible iff they share a major.
type APIVersion struct {
	Major uint32
	Minor uint32
}

// SupportedAPIVersions lists the API versions this server can speak, newest
// first. The Auth Pipeline settles on the newest version the client also
// supports.
var SupportedAPIVersions = []APIVersion{
	{Major: 4, Minor: 3},
	{Major: 4, Minor: 2},
	{Major: 4, Minor: 0},
}

// Profile is a user's organization-wide capability tier.
type Profile string

const (
	// ProfileAdmin can create/revoke/update other users.
	ProfileAdmin Profile = "ADMIN"
	// ProfileStandard is a regular, full-featured user.
	ProfileStandard Profile = "STANDARD"
	// ProfileOutsider is a restricted external collaborator: never OWNER or
	// MANAGER of a realm, and always served redacted certificates.
	ProfileOutsider Profile = "OUTSIDER"
)

// Valid reports whether p is one of the known profiles.
func (p Profile) Valid() bool {
	switch p {
	case ProfileAdmin, ProfileStandard, ProfileOutsider:
		return true
	}
	return false
}

// RealmRole is a user's access level within one realm. The empty RealmRole
// means "no longer a member" (a revoked role entry).
type RealmRole string

const (
	RealmRoleOwner       RealmRole = "OWNER"
	RealmRoleManager     RealmRole = "MANAGER"
	RealmRoleContributor RealmRole = "CONTRIBUTOR"
	RealmRoleReader      RealmRole = "READER"
)

// rolerank orders RealmRole from weakest to strongest.
var rolerank = map[RealmRole]int{
	RealmRoleReader:      0,
	RealmRoleContributor: 1,
	RealmRoleManager:     2,
	RealmRoleOwner:       3,
}

// AtLeast reports whether r grants at least the privileges of min, using the
// total order OWNER > MANAGER > CONTRIBUTOR > READER. An unknown role never
// satisfies any bound.
func (r RealmRole) AtLeast(min RealmRole) bool {
	rr, ok := rolerank[r]
	if !ok {
		return false
	}
	mr, ok := rolerank[min]
	if !ok {
		return false
	}
	return rr >= mr
}

// ClientAgent distinguishes the native desktop application from a browser,
// used by the allowed-client-agent organization policy (§4.9 step 464).
type ClientAgent string

const (
	ClientAgentNative ClientAgent = "NATIVE"
	ClientAgentWeb    ClientAgent = "WEB"
)

// ClientAgentPolicy is an organization-wide restriction on ClientAgent.
type ClientAgentPolicy string

const (
	ClientAgentPolicyNativeOnly  ClientAgentPolicy = "NATIVE_ONLY"
	ClientAgentPolicyNativeOrWeb ClientAgentPolicy = "NATIVE_OR_WEB"
)

// Allows reports whether the policy permits the given client agent.
func (p ClientAgentPolicy) Allows(agent ClientAgent) bool {
	if p == ClientAgentPolicyNativeOrWeb {
		return true
	}
	return agent == ClientAgentNative
}

// OutsiderProfilePolicy governs whether an organization allows OUTSIDER
// profiles at all.
type OutsiderProfilePolicy string

const (
	OutsiderAllowed    OutsiderProfilePolicy = "OUTSIDER_ALLOWED"
	OutsiderNotAllowed OutsiderProfilePolicy = "OUTSIDER_NOT_ALLOWED"
)

// Topic is a logical write-serialization domain within an organization
// (§3, §4.4, §5). RealmTopic is parameterized per realm; Common, Sequester
// and ShamirRecovery are singletons.
type Topic string

const (
	TopicCommon         Topic = "common"
	TopicSequester      Topic = "sequester"
	TopicShamirRecovery Topic = "shamir_recovery"
)

// RealmTopic returns the topic name for a given realm, e.g. "realm/R".
func RealmTopic(realmID string) Topic {
	return Topic("realm/" + realmID)
}

// BallparkDefault is the default allowed skew between server-now and a
// client-supplied certificate/token timestamp (§4.2).
const BallparkDefault = 5 * time.Minute

// EventPayloadMaxBytes is the soft limit above which a VLOB event omits its
// blob (§4.8, §12): clients that see a truncated event are expected to
// re-fetch via vlob read_versions.
const EventPayloadMaxBytes = 4096

// MaxRequestBodyBytes is the hard cap enforced by the HTTP layer before a
// request body reaches the Codec (§4.1, §10).
const MaxRequestBodyBytes = 1 << 20 // 1 MiB
