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
	"time"

	"github.com/gravitational/trace"
)

// ActiveUsersLimit caps the number of non-revoked users in an organization.
// Zero means unbounded.
type ActiveUsersLimit uint64

// Unbounded reports whether the limit places no cap on active users.
func (l ActiveUsersLimit) Unbounded() bool { return l == 0 }

// TOS is an organization's terms of service: a per-locale URL map plus the
// timestamp at which it was last updated. A user must have accepted a TOS
// update on or after this timestamp before any authenticated RPC other than
// the tos-acceptance scope will succeed (§4.9, §12).
type TOS struct {
	PerLocaleURL map[string]string
	UpdatedAt    time.Time
}

// SequesterAuthority is the optional sequester escrow key bound to an
// organization at bootstrap time (§12). Services is the set of
// sequester-service certificates later registered against it, each one
// entitled to decrypt the SequesterBlob share vlobs encrypt for it.
type SequesterAuthority struct {
	VerifyKey           []byte
	Certificate         []byte
	RedactedCertificate []byte
	Services            []SequesterService
}

// SequesterService is one sequester-service certificate registered against
// an organization's sequester authority (§3, §12).
type SequesterService struct {
	ID                  string
	Certificate         []byte
	RedactedCertificate []byte
	RegisteredAt        time.Time
}

// AccountVaultStrategy is an opaque organization-level policy selector for
// how account recovery vaults are provisioned; Parsec only stores and
// echoes it back (§12), it does not interpret it.
type AccountVaultStrategy string

// Organization is the tenancy unit (§3). The zero value represents an
// organization that has been created but not yet bootstrapped.
type Organization struct {
	ID                     string
	BootstrapToken         string
	Bootstrapped           bool
	Expired                bool
	RootVerifyKey          []byte
	OutsiderProfilePolicy  OutsiderProfilePolicy
	ActiveUsersLimit       ActiveUsersLimit
	MinimumArchivingPeriod time.Duration
	TOS                    *TOS
	ClientAgentPolicy      ClientAgentPolicy
	AccountVaultStrategy   AccountVaultStrategy
	Sequester              *SequesterAuthority
	CreatedAt              time.Time
}

// IsBootstrapped reports whether the organization has completed bootstrap
// (§4.5).
func (o *Organization) IsBootstrapped() bool {
	return o.Bootstrapped && o.RootVerifyKey != nil
}

// CheckAndSetDefaults validates o and fills in defaults, following the
// teacher's CheckAndSetDefaults convention for config-shaped structs.
func (o *Organization) CheckAndSetDefaults() error {
	if o.ID == "" {
		return trace.BadParameter("missing parameter ID")
	}
	if o.ClientAgentPolicy == "" {
		o.ClientAgentPolicy = ClientAgentPolicyNativeOrWeb
	}
	if o.OutsiderProfilePolicy == "" {
		o.OutsiderProfilePolicy = OutsiderAllowed
	}
	return nil
}

// OrganizationStats is the result of OrganizationComponent.Stats (§4.5).
type OrganizationStats struct {
	At               *time.Time
	ActiveUsers      map[Profile]int
	RevokedUsers     map[Profile]int
	Realms           int
	MetadataSize     uint64 // sum of vlob blob sizes
	DataSize         uint64 // sum of block sizes (tracked only, blocks are out of scope)
}

// OrganizationConfigEvent is the payload of an ORGANIZATION_CONFIG event
// (§4.3, §4.11): the first frame sent to every new SSE subscriber so the
// client can observe server-side settings as soon as it connects.
type OrganizationConfigEvent struct {
	OrganizationID         string
	ActiveUsersLimit       ActiveUsersLimit
	OutsiderProfilePolicy  OutsiderProfilePolicy
	ClientAgentPolicy      ClientAgentPolicy
	TOSUpdatedAt           *time.Time
}
