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

// Package crypto implements the Crypto Verifier (§4.2): detached-signature
// verification over certificate byte blobs, plus the ballpark timestamp
// check shared by certificates and bearer tokens.
package crypto

import (
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/ed25519"

	"github.com/parsec-io/parsec-server/lib/codec"
)

// VerifyKeySize is the fixed verify-key length for the certificate format
// (§4.2): an ed25519 public key.
const VerifyKeySize = ed25519.PublicKeySize

// SignatureSize is the fixed detached-signature length.
const SignatureSize = ed25519.SignatureSize

// Verifier verifies detached signatures over certificate blobs and checks
// their timestamps against a ballpark window (§4.2). The zero value is
// usable with a real clock and the default ballpark.
type Verifier struct {
	// Clock supplies server-now for ballpark checks; defaults to the real
	// clock if nil.
	Clock clockwork.Clock
	// Ballpark is the maximum allowed |server_now - client_timestamp|;
	// defaults to types.BallparkDefault if zero.
	Ballpark time.Duration
}

func (v *Verifier) clock() clockwork.Clock {
	if v.Clock == nil {
		return clockwork.NewRealClock()
	}
	return v.Clock
}

func (v *Verifier) ballpark() time.Duration {
	if v.Ballpark == 0 {
		return 5 * time.Minute
	}
	return v.Ballpark
}

// SignedBlob is the wire shape of a raw certificate or bearer token: a
// detached ed25519 signature over a msgpack-encoded payload, as emitted by
// api/client and consumed by lib/auth.
type SignedBlob struct {
	VerifyKey []byte
	Signature []byte
	Payload   []byte
}

// Sign produces a SignedBlob from a payload and a private key. Used by the
// reference client and by tests constructing certificates.
func Sign(key ed25519.PrivateKey, payload []byte) SignedBlob {
	sig := ed25519.Sign(key, payload)
	pub := key.Public().(ed25519.PublicKey)
	return SignedBlob{
		VerifyKey: append([]byte(nil), pub...),
		Signature: sig,
		Payload:   payload,
	}
}

// Bytes packs a SignedBlob into the single byte slice stored as a
// Certificate's Raw/RedactedRaw field.
func (b SignedBlob) Bytes() []byte {
	out := make([]byte, 0, len(b.VerifyKey)+len(b.Signature)+len(b.Payload))
	out = append(out, b.VerifyKey...)
	out = append(out, b.Signature...)
	out = append(out, b.Payload...)
	return out
}

// ParseSignedBlob splits a raw certificate byte blob back into its three
// fixed/variable-length parts.
func ParseSignedBlob(raw []byte) (SignedBlob, error) {
	if len(raw) < VerifyKeySize+SignatureSize {
		return SignedBlob{}, trace.BadParameter("signed blob too short")
	}
	return SignedBlob{
		VerifyKey: raw[:VerifyKeySize],
		Signature: raw[VerifyKeySize : VerifyKeySize+SignatureSize],
		Payload:   raw[VerifyKeySize+SignatureSize:],
	}, nil
}

// VerifyAgainst checks b's detached signature against an explicit verify
// key (used when the caller already knows which device/root key should have
// signed, e.g. a user's declared author device). It does not trust
// b.VerifyKey for the check, only for convenience when the caller doesn't
// care which key signed.
func (v *Verifier) VerifyAgainst(b SignedBlob, verifyKey []byte) error {
	if len(verifyKey) != VerifyKeySize {
		return trace.BadParameter("bad verify key length %d", len(verifyKey))
	}
	if !ed25519.Verify(ed25519.PublicKey(verifyKey), b.Payload, b.Signature) {
		return trace.AccessDenied("signature verification failed")
	}
	return nil
}

// CheckBallpark reports whether clientTimestamp lies within the configured
// ballpark of server-now (§4.2). On failure it returns a
// codec.RepTimestampOutOfBallpark carrying both timestamps and the
// symmetric offsets, ready to be relayed as a typed reply.
func (v *Verifier) CheckBallpark(clientTimestamp time.Time) error {
	now := v.clock().Now()
	ballpark := v.ballpark()
	if clientTimestamp.Before(now.Add(-ballpark)) || clientTimestamp.After(now.Add(ballpark)) {
		return codec.RepTimestampOutOfBallpark{
			ServerTimestamp:           now,
			ClientTimestamp:           clientTimestamp,
			BallparkClientEarlyOffset: ballpark,
			BallparkClientLateOffset:  ballpark,
		}
	}
	return nil
}
