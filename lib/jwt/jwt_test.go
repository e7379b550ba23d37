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

package jwt

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/parsec-io/parsec-server/lib/codec"
	"github.com/parsec-io/parsec-server/lib/crypto"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	now := clock.Now()
	token, err := Sign(priv, "device1", now)
	require.NoError(t, err)

	v := &crypto.Verifier{Clock: clock}
	deviceID, ts, err := Verify(v, token, pub)
	require.NoError(t, err)
	require.Equal(t, "device1", deviceID)
	require.True(t, now.Equal(ts))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	token, err := Sign(priv, "device1", clock.Now())
	require.NoError(t, err)

	v := &crypto.Verifier{Clock: clock}
	_, _, err = Verify(v, token, otherPub)
	require.Error(t, err)
}

func TestVerifyOutOfBallparkStillReturnsDeviceID(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	token, err := Sign(priv, "device1", clock.Now().Add(-time.Hour))
	require.NoError(t, err)

	v := &crypto.Verifier{Clock: clock}
	deviceID, _, err := Verify(v, token, pub)
	require.Error(t, err)
	require.Equal(t, "device1", deviceID)
	_, isBallpark := err.(codec.RepTimestampOutOfBallpark)
	require.True(t, isBallpark)
}

func TestPeekDeviceIDWithoutVerifying(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	token, err := Sign(priv, "device7", clock.Now())
	require.NoError(t, err)

	blob, err := crypto.ParseSignedBlob(token)
	require.NoError(t, err)
	deviceID, err := PeekDeviceID(blob.Payload)
	require.NoError(t, err)
	require.Equal(t, "device7", deviceID)
}
