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

package crypto

import (
	"bytes"
	"time"

	"github.com/gravitational/trace"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/parsec-io/parsec-server/api/types"
)

// certificatePayload is the msgpack-encoded structure actually signed by a
// device for every certificate type (§3); type-specific fields are simply
// left at their zero value when not applicable.
type certificatePayload struct {
	Type      types.CertificateType
	Author    string
	Timestamp time.Time

	UserID             string
	UserHandleEmail    string
	UserHandleLabel    string
	UserProfile        types.Profile
	DeviceID           string
	DeviceVerifyKey    []byte
	RevokedUserID      string
	RealmID            string
	RealmRoleUserID    string
	RealmRoleGranted   types.RealmRole
	KeyIndex           uint64
	EncryptedRealmName []byte
	SequesterServiceID string
}

// redacted returns a copy of p with the payload fields considered personal
// data zeroed, as they are in the redacted twin (the non-redacted twin
// carries them). Everything else
// must match byte-for-byte between twins (§4.2).
func (p certificatePayload) redacted() certificatePayload {
	r := p
	r.UserHandleEmail = ""
	r.UserHandleLabel = ""
	return r
}

// VerifyCertificate verifies a certificate blob (and, if non-nil, its
// redacted twin) against the expected author device's verify key, checks
// the ballpark, and returns the cooked types.Certificate.
//
// expectedAuthorDeviceID, when non-empty, must match the certificate's
// declared author (§4.2: "the certificate's declared author must match the
// requesting device").
func (v *Verifier) VerifyCertificate(certType types.CertificateType, raw, redactedRaw []byte, authorVerifyKey []byte, expectedAuthorDeviceID string) (*types.Certificate, error) {
	blob, err := ParseSignedBlob(raw)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := v.VerifyAgainst(blob, authorVerifyKey); err != nil {
		return nil, trace.Wrap(err)
	}
	var payload certificatePayload
	if err := msgpack.Unmarshal(blob.Payload, &payload); err != nil {
		return nil, trace.BadParameter("malformed certificate payload: %v", err)
	}
	if payload.Type != certType {
		return nil, trace.BadParameter("certificate type mismatch: expected %s got %s", certType, payload.Type)
	}
	if expectedAuthorDeviceID != "" && payload.Author != expectedAuthorDeviceID {
		return nil, trace.AccessDenied("certificate author %q does not match requesting device %q", payload.Author, expectedAuthorDeviceID)
	}
	if err := v.CheckBallpark(payload.Timestamp); err != nil {
		return nil, err
	}

	var redactedBlob *SignedBlob
	if redactedRaw != nil {
		parsed, err := ParseSignedBlob(redactedRaw)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if err := v.VerifyAgainst(parsed, authorVerifyKey); err != nil {
			return nil, trace.Wrap(err)
		}
		var redactedPayload certificatePayload
		if err := msgpack.Unmarshal(parsed.Payload, &redactedPayload); err != nil {
			return nil, trace.BadParameter("malformed redacted certificate payload: %v", err)
		}
		wantRedacted := payload.redacted()
		gotRedacted := redactedPayload.redacted()
		wantBytes, _ := msgpack.Marshal(wantRedacted)
		gotBytes, _ := msgpack.Marshal(gotRedacted)
		if !bytes.Equal(wantBytes, gotBytes) {
			return nil, trace.BadParameter("redacted certificate does not match non-redacted twin on shared fields")
		}
		redactedBlob = &parsed
	}

	cert := &types.Certificate{
		Type:                 payload.Type,
		Raw:                  raw,
		Author:               payload.Author,
		Timestamp:            payload.Timestamp,
		UserID:               payload.UserID,
		UserHandleEmail:      payload.UserHandleEmail,
		UserHandleLabel:      payload.UserHandleLabel,
		UserProfile:          payload.UserProfile,
		DeviceID:             payload.DeviceID,
		DeviceVerifyKey:      payload.DeviceVerifyKey,
		RevokedUserID:        payload.RevokedUserID,
		RealmID:              payload.RealmID,
		RealmRoleUserID:      payload.RealmRoleUserID,
		RealmRoleGranted:     payload.RealmRoleGranted,
		KeyIndex:             payload.KeyIndex,
		EncryptedRealmName:   payload.EncryptedRealmName,
		SequesterServiceID:   payload.SequesterServiceID,
	}
	if redactedBlob != nil {
		cert.RedactedRaw = redactedRaw
	}
	return cert, nil
}
