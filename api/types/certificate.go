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

// CertificateType discriminates the certificate variants of §3.
type CertificateType string

const (
	CertificateUserCreation         CertificateType = "user_creation"
	CertificateDeviceCreation       CertificateType = "device_creation"
	CertificateUserRevocation       CertificateType = "user_revocation"
	CertificateUserUpdate           CertificateType = "user_update"
	CertificateRealmRole            CertificateType = "realm_role"
	CertificateRealmKeyRotation     CertificateType = "realm_key_rotation"
	CertificateRealmRename          CertificateType = "realm_rename"
	CertificateSequesterAuthority   CertificateType = "sequester_authority"
	CertificateSequesterService     CertificateType = "sequester_service"
)

// Certificate is a signed byte blob produced by a device (§3). Cooked is the
// decoded, verified form of a raw certificate; Raw/RedactedRaw are the bytes
// actually signed and relayed on the wire.
type Certificate struct {
	Type CertificateType

	// Raw is the exact byte blob the author device signed.
	Raw []byte
	// RedactedRaw is the personal-data-stripped twin served to OUTSIDER
	// profiles (§3, invariant 6). Nil for certificate types that carry no
	// personal data (e.g. realm_key_rotation).
	RedactedRaw []byte

	Author    string // device ID
	Timestamp time.Time

	// Subject-specific canonical fields, populated by the Crypto Verifier
	// after signature verification. Only the fields relevant to Type are
	// set; the rest are the zero value.
	UserID              string
	UserHandleEmail      string
	UserHandleLabel      string
	UserProfile          Profile
	DeviceID             string
	DeviceVerifyKey      []byte
	RevokedUserID        string
	RealmID              string
	RealmRoleUserID      string
	RealmRoleGranted     RealmRole // empty means revoked
	KeyIndex             uint64
	EncryptedRealmName   []byte
	SequesterServiceID   string
}

// Idempotent combinators used by §7's Idempotent outcome: a certificate-based
// action that has already happened once returns the first attempt's
// timestamp rather than an error.
type CertificateBasedActionIdempotentOutcome struct {
	CertificateTimestamp time.Time
}

func (CertificateBasedActionIdempotentOutcome) Error() string {
	return "action already performed"
}
