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

// Package jwt signs and verifies the authenticated bearer token presented on
// the "authenticated" RPC scope (§4.9): a detached-signature blob over a
// device-ID and timestamp, reusing the certificate wire format rather than
// JWT/JOSE, which has no natural multi-algorithm envelope to express here.
package jwt

import (
	"time"

	"github.com/gravitational/trace"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/ed25519"

	"github.com/parsec-io/parsec-server/lib/crypto"
)

// claims is the signed payload of a bearer token: the presenting device and
// the moment the client minted the token, checked against the ballpark at
// verification time (§4.9 step 498).
type claims struct {
	DeviceID  string
	Timestamp time.Time
}

// Sign produces a bearer token for deviceID, signed by the device's private
// key, timestamped now.
func Sign(key ed25519.PrivateKey, deviceID string, now time.Time) ([]byte, error) {
	payload, err := msgpack.Marshal(claims{DeviceID: deviceID, Timestamp: now})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return crypto.Sign(key, payload).Bytes(), nil
}

// PeekDeviceID reads the device ID out of an already-split token payload
// without verifying the signature, so the Auth Pipeline can fetch that
// device's verify key before committing to a full Verify call.
func PeekDeviceID(payload []byte) (string, error) {
	var c claims
	if err := msgpack.Unmarshal(payload, &c); err != nil {
		return "", trace.BadParameter("malformed bearer token: %v", err)
	}
	if c.DeviceID == "" {
		return "", trace.BadParameter("bearer token missing device ID")
	}
	return c.DeviceID, nil
}

// Verify parses and verifies a bearer token against the claimed device's
// verify key, and checks the embedded timestamp against the verifier's
// ballpark. Returns the device ID and the token's timestamp. A ballpark
// failure is still returned alongside the (valid) device ID and timestamp,
// as a bare codec.RepTimestampOutOfBallpark (not trace-wrapped), so callers
// needing handshake-order-sensitive status codes can distinguish it from a
// signature failure.
func Verify(v *crypto.Verifier, token []byte, verifyKey []byte) (string, time.Time, error) {
	blob, err := crypto.ParseSignedBlob(token)
	if err != nil {
		return "", time.Time{}, trace.Wrap(err)
	}
	if err := v.VerifyAgainst(blob, verifyKey); err != nil {
		return "", time.Time{}, trace.Wrap(err)
	}
	var c claims
	if err := msgpack.Unmarshal(blob.Payload, &c); err != nil {
		return "", time.Time{}, trace.BadParameter("malformed bearer token: %v", err)
	}
	if err := v.CheckBallpark(c.Timestamp); err != nil {
		return c.DeviceID, c.Timestamp, err
	}
	return c.DeviceID, c.Timestamp, nil
}
