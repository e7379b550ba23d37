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

// Package codec implements the Parsec wire Codec (§4.1): a
// length-prefix-free, self-describing binary format (msgpack) carrying a
// discriminated union of typed request/reply commands, versioned per API
// major version family.
//
// Each version exposes a total Decode function from bytes to a Command, and
// each Reply knows how to Encode itself back to bytes. Malformed input never
// panics; it surfaces as a *trace.TraceErr wrapping a BadParameter, which
// the RPC Dispatcher maps to HTTP 415.
package codec

import (
	"github.com/gravitational/trace"
	"github.com/vmihailenco/msgpack/v5"
)

// Cmd is the discriminator carried under the "cmd" key of every request's
// and reply's msgpack envelope.
type Cmd string

const (
	CmdOrganizationBootstrap       Cmd = "organization_bootstrap"
	CmdOrganizationGet             Cmd = "organization_get"
	CmdOrganizationUpdate          Cmd = "organization_update"
	CmdOrganizationStats           Cmd = "organization_stats"
	CmdUserCreate                  Cmd = "user_create"
	CmdDeviceCreate                Cmd = "device_create"
	CmdUserRevoke                  Cmd = "user_revoke"
	CmdUserUpdate                  Cmd = "user_update"
	CmdCertificateGet              Cmd = "certificate_get"
	CmdRealmCreate                 Cmd = "realm_create"
	CmdRealmShare                  Cmd = "realm_share"
	CmdRealmRotateKey              Cmd = "realm_rotate_key"
	CmdRealmRename                 Cmd = "realm_rename"
	CmdVlobCreate                  Cmd = "vlob_create"
	CmdVlobUpdate                  Cmd = "vlob_update"
	CmdVlobReadVersions            Cmd = "vlob_read_versions"
	CmdPing                        Cmd = "ping"
	CmdInvitationCreate            Cmd = "invitation_create"
	CmdInvitationList              Cmd = "invitation_list"
	CmdInvitationCancel            Cmd = "invitation_cancel"
	CmdInvitationClaim             Cmd = "invitation_claim"
	CmdTOSAccept                   Cmd = "tos_accept"
	CmdSequesterServiceRegister    Cmd = "sequester_service_register"
)

// envelope is the wire shape every request and reply is packed as: a
// msgpack map holding the command under "cmd" and the msgpack-encoded body
// under "body". Keeping the discriminator out-of-band
// from the body lets Decode dispatch without speculatively unmarshaling
// every variant.
type envelope struct {
	Cmd  Cmd             `msgpack:"cmd"`
	Body msgpack.RawMessage `msgpack:"body"`
}

// Request is the sealed interface implemented by every decoded command.
// Sealing (an unexported method) keeps the switch in Dispatch exhaustive,
// mirroring the teacher's sealed Upstream/DownstreamInventoryMessage
// pattern (api/client/proto).
type Request interface {
	isParsecRequest()
}

// Reply is the sealed interface implemented by every typed reply, including
// the typed error variants of §7.
type Reply interface {
	isParsecReply()
}

// Decode parses a single request command out of raw msgpack bytes. Decode
// errors are always wrapped in trace.BadParameter so the dispatcher can map
// them to HTTP 415 without inspecting the underlying cause.
func Decode(raw []byte) (Request, error) {
	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, trace.BadParameter("bad content: %v", err)
	}
	builder, ok := requestBuilders[env.Cmd]
	if !ok {
		return nil, trace.BadParameter("bad content: unknown command %q", env.Cmd)
	}
	req, err := builder(env.Body)
	if err != nil {
		return nil, trace.BadParameter("bad content: %v", err)
	}
	return req, nil
}

// Encode packs a typed reply into its wire bytes alongside the command name
// the dispatcher routed on, so clients can demultiplex replies exactly like
// requests.
func Encode(cmd Cmd, reply Reply) ([]byte, error) {
	body, err := msgpack.Marshal(reply)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out, err := msgpack.Marshal(envelope{Cmd: cmd, Body: body})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

type requestBuilderFunc func(body msgpack.RawMessage) (Request, error)

var requestBuilders map[Cmd]requestBuilderFunc

func registerRequest(cmd Cmd, zero func() Request) {
	if requestBuilders == nil {
		requestBuilders = make(map[Cmd]requestBuilderFunc)
	}
	requestBuilders[cmd] = func(body msgpack.RawMessage) (Request, error) {
		req := zero()
		if err := msgpack.Unmarshal(body, req); err != nil {
			return nil, trace.Wrap(err)
		}
		return req, nil
	}
}
