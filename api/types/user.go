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

// HumanHandle is a user's human-readable identity: an email (unique among
// active users, invariant 5) and a display label.
type HumanHandle struct {
	Email string
	Label string
}

// User is identified by a stable hex UserID (§3).
type User struct {
	ID            string
	HumanHandle   HumanHandle
	Profile       Profile
	CreatedBy     string // device ID, empty for the org's first user
	CreatedAt     time.Time
	RevokedAt     *time.Time
	RevokedBy     string // device ID of the revocation certificate's author
	Frozen        bool   // operational flag, not certificate-bearing
	TOSAcceptedAt *time.Time // last terms-of-service acceptance (§4.9, §12)

	// ProfileUpdates is the ordered history of user_update certificates
	// applied to this user.
	ProfileUpdates []ProfileUpdate
}

// ProfileUpdate records one user_update certificate's effect.
type ProfileUpdate struct {
	NewProfile Profile
	By         string // device ID
	At         time.Time
}

// Revoked reports whether a valid revocation certificate exists for the
// user (invariant 4(b)).
func (u *User) Revoked() bool { return u.RevokedAt != nil }

// CurrentProfile returns the profile in effect after all recorded updates.
func (u *User) CurrentProfile() Profile {
	if n := len(u.ProfileUpdates); n > 0 {
		return u.ProfileUpdates[n-1].NewProfile
	}
	return u.Profile
}

// Device is a key-holding agent belonging to a user (§3).
type Device struct {
	ID        string
	UserID    string
	VerifyKey []byte
	CreatedBy string // device ID of the author (self for the first device)
	CreatedAt time.Time
}
