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

// RealmRoleEntry is one entry in a realm's ordered role history (§3). A
// nil/empty Role means the user's access was revoked at Timestamp.
type RealmRoleEntry struct {
	UserID    string
	Role      RealmRole
	GrantedBy string // device ID
	Timestamp time.Time
}

// RealmKeyRotation is one entry in a realm's ordered key-rotation history.
// KeyIndex is 1-based and strictly monotonic (invariant 3).
type RealmKeyRotation struct {
	KeyIndex  uint64
	Timestamp time.Time
	// PerParticipantKeysBundleAccess maps each non-revoked participant's
	// user ID to their encrypted copy of the new key, proving the rotation
	// covered everyone with current access (§4.7).
	PerParticipantKeysBundleAccess map[string][]byte
	GrantedBy                      string
}

// RealmRenameEntry is one entry in a realm's ordered rename history.
type RealmRenameEntry struct {
	EncryptedName []byte
	Timestamp     time.Time
	RenamedBy     string
}

// Realm is a unit of shared access (§3).
type Realm struct {
	ID        string
	CreatedBy string
	CreatedAt time.Time

	Roles         []RealmRoleEntry
	KeyRotations  []RealmKeyRotation
	Renames       []RealmRenameEntry

	Expired bool
}

// CurrentRole returns the role currently held by userID, or "" if the user
// has never had a role or was last revoked.
func (r *Realm) CurrentRole(userID string) RealmRole {
	var current RealmRole
	for _, entry := range r.Roles {
		if entry.UserID == userID {
			current = entry.Role
		}
	}
	return current
}

// EverMember reports whether userID has ever held a non-empty role in the
// realm, current or past (used by get_certificates_as_user's realm filter
// and by read_versions' "current or past READER" check, §4.6, §4.8).
func (r *Realm) EverMember(userID string) bool {
	for _, entry := range r.Roles {
		if entry.UserID == userID && entry.Role != "" {
			return true
		}
	}
	return false
}

// CurrentKeyIndex returns the key-index of the most recent rotation, or 0 if
// the realm has never rotated a key.
func (r *Realm) CurrentKeyIndex() uint64 {
	if n := len(r.KeyRotations); n > 0 {
		return r.KeyRotations[n-1].KeyIndex
	}
	return 0
}

// LastCertificateTimestamp returns the timestamp of the most recent
// certificate (role, key rotation, or rename) recorded against this realm's
// topic, used as the "needed_realm_certificate_timestamp" watermark (§4.8)
// and the RepBadKeyIndex/RepBadVlobVersion diagnostic timestamp (§8 S3).
func (r *Realm) LastCertificateTimestamp() time.Time {
	var last time.Time
	for _, e := range r.Roles {
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	for _, e := range r.KeyRotations {
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	for _, e := range r.Renames {
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	return last
}
