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

// Package auth implements the Auth Pipeline (§4.9) and the RPC Dispatcher
// (§4.10): the per-request gauntlet every HTTP handler runs before a
// component method is invoked, and the msgpack-in/msgpack-out plumbing that
// binds decoded commands to service calls.
package auth

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/api/types"
	"github.com/parsec-io/parsec-server/lib/backend"
	"github.com/parsec-io/parsec-server/lib/codec"
	"github.com/parsec-io/parsec-server/lib/crypto"
	"github.com/parsec-io/parsec-server/lib/jwt"
	"github.com/parsec-io/parsec-server/lib/services"
)

// Scope names the RPC scope a route serves (§6, §4.9); it decides which kind
// of bearer token (if any) the pipeline expects.
type Scope string

const (
	ScopeAnonymous            Scope = "anonymous"
	ScopeInvited              Scope = "invited"
	ScopeAuthenticated        Scope = "authenticated"
	ScopeAuthenticatedTOS     Scope = "authenticated_tos"
	ScopeAnonymousAccount     Scope = "anonymous_account"
	ScopeAuthenticatedAccount Scope = "authenticated_account"
)

// Custom HTTP status codes the pipeline aborts with (§6, §7).
const (
	StatusOrganizationExpired   = 460
	StatusUserRevoked           = 461
	StatusUserFrozen            = 462
	StatusTOSNotAccepted        = 463
	StatusClientAgentNotAllowed = 464
	StatusTokenOutOfBallpark    = 498
)

// Identity is what the pipeline resolves for a request on the invited or
// authenticated scopes (§4.9 steps "resolve identity" through "client agent
// check").
type Identity struct {
	Scope       Scope
	APIVersion  types.APIVersion
	OrgID       string
	ClientAgent types.ClientAgent

	// Set for ScopeAuthenticated / ScopeAuthenticatedTOS / ScopeAuthenticatedAccount.
	DeviceID string
	UserID   string
	Profile  types.Profile

	// Set for ScopeInvited.
	Invitation *types.Invitation
}

// Deps are the pipeline's collaborators.
type Deps struct {
	Store  backend.Store
	Users  *services.Users
	Crypto *crypto.Verifier
	Clock  clockwork.Clock
	Log    *logrus.Entry
}

func (d *Deps) checkAndSetDefaults() error {
	if d.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if d.Users == nil {
		return trace.BadParameter("missing parameter Users")
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Crypto == nil {
		d.Crypto = &crypto.Verifier{Clock: d.Clock}
	}
	if d.Log == nil {
		d.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	d.Log = d.Log.WithField(trace.Component, "auth")
	return nil
}

// settleVersion picks the newest API version the client also supports
// (§4.9 step 1), from the client's "Api-Version: major.minor" header.
func settleVersion(r *http.Request) (types.APIVersion, bool) {
	header := r.Header.Get("Api-Version")
	major, _, ok := parseVersion(header)
	if !ok {
		return types.APIVersion{}, false
	}
	for _, v := range types.SupportedAPIVersions {
		if v.Major == major {
			return v, true
		}
	}
	return types.APIVersion{}, false
}

func parseVersion(s string) (major, minor uint32, ok bool) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	maj, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	min, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(maj), uint32(min), true
}

func supportedVersionsHeader() string {
	out := make([]string, len(types.SupportedAPIVersions))
	for i, v := range types.SupportedAPIVersions {
		out[i] = fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}
	return strings.Join(out, ", ")
}

// writeStatus aborts the request with a bare status code, per §4.9's
// handshake-level failures (as opposed to the typed RPC replies §7 carries
// in a 200 body).
func writeStatus(w http.ResponseWriter, code int) {
	w.WriteHeader(code)
}

// Authenticate runs the Auth Pipeline (§4.9) for scope against r, writing an
// error response and returning ok=false on any failure. On success it
// returns the resolved Identity and leaves the response untouched for the
// caller to continue with (dispatch or SSE registration).
func (d *Deps) Authenticate(scope Scope, w http.ResponseWriter, r *http.Request, params httprouter.Params) (*Identity, bool) {
	if err := d.checkAndSetDefaults(); err != nil {
		d.Log.WithError(err).Error("auth pipeline misconfigured")
		writeStatus(w, http.StatusInternalServerError)
		return nil, false
	}

	version, ok := settleVersion(r)
	if !ok {
		w.Header().Set("Supported-Api-Versions", supportedVersionsHeader())
		writeStatus(w, http.StatusUnprocessableEntity)
		return nil, false
	}
	w.Header().Set("Api-Version", fmt.Sprintf("%d.%d", version.Major, version.Minor))

	orgID := params.ByName("org")
	if orgID == "" {
		writeStatus(w, http.StatusNotFound)
		return nil, false
	}
	org, err := d.Store.GetOrganization(r.Context(), orgID)
	if err != nil {
		writeStatus(w, http.StatusNotFound)
		return nil, false
	}

	sse := scope == ScopeAuthenticated && r.Method == http.MethodGet
	switch {
	case sse:
		if r.Header.Get("Accept") != "text/event-stream" {
			writeStatus(w, http.StatusNotAcceptable)
			return nil, false
		}
	case scope == ScopeAnonymous && r.Method == http.MethodGet:
		// bare liveness probe, no content-type required (§6).
	default:
		if r.Header.Get("Content-Type") != "application/msgpack" {
			writeStatus(w, http.StatusUnsupportedMediaType)
			return nil, false
		}
	}

	id := &Identity{Scope: scope, APIVersion: version, OrgID: orgID, ClientAgent: clientAgent(r)}

	switch scope {
	case ScopeAnonymous, ScopeAnonymousAccount:
		return id, true

	case ScopeInvited:
		token, ok := bearerToken(r)
		if !ok {
			writeStatus(w, http.StatusUnauthorized)
			return nil, false
		}
		inv, err := d.Store.GetInvitation(r.Context(), orgID, token)
		if err != nil || !inv.Usable() {
			writeStatus(w, http.StatusForbidden)
			return nil, false
		}
		id.Invitation = inv
		return id, true

	default: // ScopeAuthenticated, ScopeAuthenticatedTOS, *Account
		raw, ok := bearerToken(r)
		if !ok {
			writeStatus(w, http.StatusUnauthorized)
			return nil, false
		}
		tokenBytes, err := hex.DecodeString(raw)
		if err != nil {
			writeStatus(w, http.StatusUnauthorized)
			return nil, false
		}
		blob, err := crypto.ParseSignedBlob(tokenBytes)
		if err != nil {
			writeStatus(w, http.StatusUnauthorized)
			return nil, false
		}
		deviceID, err := jwt.PeekDeviceID(blob.Payload)
		if err != nil {
			writeStatus(w, http.StatusUnauthorized)
			return nil, false
		}

		device, err := d.Store.GetDevice(r.Context(), orgID, deviceID)
		if err != nil {
			writeStatus(w, http.StatusForbidden)
			return nil, false
		}
		gotDeviceID, timestamp, verifyErr := jwt.Verify(d.Crypto, tokenBytes, device.VerifyKey)
		if verifyErr != nil {
			// A signature mismatch is unauthorized; a ballpark failure still
			// means the signature checked out, so fall through to the
			// dedicated 498 check below at its place in the handshake order.
			if _, outOfBallpark := verifyErr.(codec.RepTimestampOutOfBallpark); !outOfBallpark {
				writeStatus(w, http.StatusUnauthorized)
				return nil, false
			}
		}
		user, err := d.Store.GetUser(r.Context(), orgID, device.UserID)
		if err != nil {
			writeStatus(w, http.StatusForbidden)
			return nil, false
		}

		if org.Expired {
			writeStatus(w, StatusOrganizationExpired)
			return nil, false
		}
		if user.Revoked() {
			writeStatus(w, StatusUserRevoked)
			return nil, false
		}
		if user.Frozen {
			writeStatus(w, StatusUserFrozen)
			return nil, false
		}
		if scope != ScopeAuthenticatedTOS && org.TOS != nil {
			if user.TOSAcceptedAt == nil || user.TOSAcceptedAt.Before(org.TOS.UpdatedAt) {
				writeStatus(w, StatusTOSNotAccepted)
				return nil, false
			}
		}
		if verifyErr != nil {
			writeStatus(w, StatusTokenOutOfBallpark)
			return nil, false
		}
		if !org.ClientAgentPolicy.Allows(id.ClientAgent) {
			writeStatus(w, StatusClientAgentNotAllowed)
			return nil, false
		}

		id.DeviceID = gotDeviceID
		id.UserID = user.ID
		id.Profile = user.CurrentProfile()
		return id, true
	}
}

// bearerToken extracts the raw credential from "Authorization: Bearer <...>".
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

// clientAgent classifies the caller as NATIVE or WEB (§4.9 step 8), using
// the presence of a browser-shaped User-Agent as the WEB signal.
func clientAgent(r *http.Request) types.ClientAgent {
	ua := r.Header.Get("User-Agent")
	if strings.Contains(ua, "Mozilla/") {
		return types.ClientAgentWeb
	}
	return types.ClientAgentNative
}
