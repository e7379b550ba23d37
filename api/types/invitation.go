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

import "time"

// InvitationType is what capability the invitation token grants (§3).
type InvitationType string

const (
	InvitationUser            InvitationType = "USER"
	InvitationDevice          InvitationType = "DEVICE"
	InvitationShamirRecovery  InvitationType = "SHAMIR_RECOVERY"
)

// Invitation is a one-time capability token (§3). The token itself is a hex
// string presented as the bearer credential on the "invited" RPC scope.
type Invitation struct {
	Token      string
	Type       InvitationType
	OrgID      string
	CreatedBy  string // user ID of the inviter
	CreatedAt  time.Time
	ClaimerEmail string // for InvitationUser, the expected claimant's email

	UsedAt     *time.Time
	CancelledAt *time.Time
}

// Usable reports whether the invitation can still be claimed.
func (i *Invitation) Usable() bool {
	return i.UsedAt == nil && i.CancelledAt == nil
}
