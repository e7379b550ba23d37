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
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/ed25519"

	"github.com/parsec-io/parsec-server/api/types"
)

func TestSignAndParseSignedBlobRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	blob := Sign(priv, []byte("hello"))
	require.Equal(t, []byte(pub), blob.VerifyKey)

	parsed, err := ParseSignedBlob(blob.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), parsed.Payload)
	require.Equal(t, blob.Signature, parsed.Signature)
}

func TestParseSignedBlobRejectsShortInput(t *testing.T) {
	_, err := ParseSignedBlob([]byte("too short"))
	require.Error(t, err)
}

func TestVerifyAgainstRejectsWrongKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	blob := Sign(priv, []byte("hello"))
	v := &Verifier{Clock: clockwork.NewFakeClock()}
	require.Error(t, v.VerifyAgainst(blob, otherPub))
	require.NoError(t, v.VerifyAgainst(blob, blob.VerifyKey))
}

func TestCheckBallparkBoundary(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := &Verifier{Clock: clock, Ballpark: time.Minute}

	require.NoError(t, v.CheckBallpark(clock.Now()))
	require.NoError(t, v.CheckBallpark(clock.Now().Add(59*time.Second)))
	require.Error(t, v.CheckBallpark(clock.Now().Add(2*time.Minute)))
	require.Error(t, v.CheckBallpark(clock.Now().Add(-2*time.Minute)))
}

func signedCertBytes(t *testing.T, priv ed25519.PrivateKey, p certificatePayload) []byte {
	t.Helper()
	payload, err := msgpack.Marshal(p)
	require.NoError(t, err)
	return Sign(priv, payload).Bytes()
}

func TestVerifyCertificateRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	v := &Verifier{Clock: clock}

	raw := signedCertBytes(t, priv, certificatePayload{
		Type:            types.CertificateUserCreation,
		Author:          "device1",
		Timestamp:       clock.Now(),
		UserID:          "user1",
		UserHandleEmail: "a@example.com",
		UserProfile:     types.ProfileStandard,
	})

	cert, err := v.VerifyCertificate(types.CertificateUserCreation, raw, nil, pub, "")
	require.NoError(t, err)
	require.Equal(t, "user1", cert.UserID)
	require.Equal(t, "a@example.com", cert.UserHandleEmail)
}

func TestVerifyCertificateRejectsTypeMismatch(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	v := &Verifier{Clock: clock}

	raw := signedCertBytes(t, priv, certificatePayload{
		Type:      types.CertificateUserCreation,
		Author:    "device1",
		Timestamp: clock.Now(),
		UserID:    "user1",
	})

	_, err = v.VerifyCertificate(types.CertificateDeviceCreation, raw, nil, pub, "")
	require.Error(t, err)
}

func TestVerifyCertificateRejectsAuthorMismatch(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	v := &Verifier{Clock: clock}

	raw := signedCertBytes(t, priv, certificatePayload{
		Type:      types.CertificateDeviceCreation,
		Author:    "device1",
		Timestamp: clock.Now(),
		DeviceID:  "device2",
	})

	_, err = v.VerifyCertificate(types.CertificateDeviceCreation, raw, nil, pub, "device_other")
	require.Error(t, err)
}

func TestVerifyCertificateRejectsMismatchedRedactedTwin(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	v := &Verifier{Clock: clock}

	raw := signedCertBytes(t, priv, certificatePayload{
		Type:            types.CertificateUserCreation,
		Author:          "device1",
		Timestamp:       clock.Now(),
		UserID:          "user1",
		UserHandleEmail: "a@example.com",
	})
	// A redacted twin that also changes UserID (not just the personal-data
	// fields) must be rejected: only UserHandleEmail/Label may differ.
	badRedacted := signedCertBytes(t, priv, certificatePayload{
		Type:      types.CertificateUserCreation,
		Author:    "device1",
		Timestamp: clock.Now(),
		UserID:    "user2",
	})

	_, err = v.VerifyCertificate(types.CertificateUserCreation, raw, badRedacted, pub, "")
	require.Error(t, err)
}
