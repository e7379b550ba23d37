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

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func encodeRequest(t *testing.T, cmd Cmd, req Request) []byte {
	t.Helper()
	body, err := msgpack.Marshal(req)
	require.NoError(t, err)
	raw, err := msgpack.Marshal(envelope{Cmd: cmd, Body: body})
	require.NoError(t, err)
	return raw
}

func TestDecodePingRoundTrip(t *testing.T) {
	raw := encodeRequest(t, CmdPing, &PingRequest{Ping: "hello"})

	req, err := Decode(raw)
	require.NoError(t, err)
	ping, ok := req.(*PingRequest)
	require.True(t, ok)
	require.Equal(t, "hello", ping.Ping)
}

func TestDecodeSequesterServiceRegisterRoundTrip(t *testing.T) {
	raw := encodeRequest(t, CmdSequesterServiceRegister, &SequesterServiceRegisterRequest{
		SequesterServiceCertificate:         []byte("cert"),
		RedactedSequesterServiceCertificate: []byte("redacted"),
	})

	req, err := Decode(raw)
	require.NoError(t, err)
	sr, ok := req.(*SequesterServiceRegisterRequest)
	require.True(t, ok)
	require.Equal(t, []byte("cert"), sr.SequesterServiceCertificate)
	require.Equal(t, []byte("redacted"), sr.RedactedSequesterServiceCertificate)
}

func TestDecodeUnknownCommandIsBadParameter(t *testing.T) {
	raw, err := msgpack.Marshal(envelope{Cmd: Cmd("not_a_real_command"), Body: nil})
	require.NoError(t, err)

	_, err = Decode(raw)
	require.Error(t, err)
}

func TestDecodeMalformedBytesNeverPanics(t *testing.T) {
	require.NotPanics(t, func() {
		_, err := Decode([]byte("not msgpack at all"))
		require.Error(t, err)
	})
}

func TestEncodeReplyRoundTrip(t *testing.T) {
	raw, err := Encode(CmdPing, PingReply{Pong: "hello"})
	require.NoError(t, err)

	var env envelope
	require.NoError(t, msgpack.Unmarshal(raw, &env))
	require.Equal(t, CmdPing, env.Cmd)

	var reply PingReply
	require.NoError(t, msgpack.Unmarshal(env.Body, &reply))
	require.Equal(t, "hello", reply.Pong)
}

func TestEncodeTypedErrorReplyRoundTrip(t *testing.T) {
	raw, err := Encode(CmdUserRevoke, RepNotAllowed{Reason: "not an owner"})
	require.NoError(t, err)

	var env envelope
	require.NoError(t, msgpack.Unmarshal(raw, &env))

	var reply RepNotAllowed
	require.NoError(t, msgpack.Unmarshal(env.Body, &reply))
	require.Equal(t, "not an owner", reply.Reason)
	require.Equal(t, "not allowed: not an owner", reply.Error())
}
