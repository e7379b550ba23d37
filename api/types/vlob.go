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

// VlobVersion is one appended version of a vlob (§3). Versions are
// contiguous starting at 1 (invariant 2).
type VlobVersion struct {
	Version       uint64
	Author        string // device ID
	Timestamp     time.Time
	KeyIndex      uint64
	Blob          []byte
	SequesterBlob map[string][]byte // sequester service ID -> encrypted blob
}

// Vlob is an append-only versioned encrypted object within a realm (§3).
type Vlob struct {
	ID       string
	RealmID  string
	Versions []VlobVersion // Versions[i].Version == i+1
}

// LatestVersion returns the most recently appended version, or the zero
// value and false if the vlob has no versions yet.
func (v *Vlob) LatestVersion() (VlobVersion, bool) {
	if len(v.Versions) == 0 {
		return VlobVersion{}, false
	}
	return v.Versions[len(v.Versions)-1], true
}

// VlobVersionResult is one element of a read_versions reply (§4.8).
type VlobVersionResult struct {
	VlobID    string
	KeyIndex  uint64
	Author    string
	Version   uint64
	CreatedOn time.Time
	Blob      []byte
}
