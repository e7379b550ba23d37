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

// Package client is a thin reference RPC + SSE client over the three
// request scopes of §6, built the same way the teacher's lib/auth.Client
// embeds github.com/gravitational/roundtrip.Client and layers typed
// methods on top of it.
package client

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/parsec-io/parsec-server/lib/codec"
)

// apiVersion is only the version prefix roundtrip.NewClient takes for the
// embedded Client. RPC and Events build their URLs from Config.Addr and do
// not use it; the API version they advertise is the fixed "4.3" each sets
// in the Api-Version header (§4.9 step "settleVersion").
const apiVersion = "v1"

// Config configures a Client.
type Config struct {
	// Addr is the base URL of the parsecd server, e.g. "http://localhost:6770".
	Addr string
	// BearerToken is the hex-encoded signed blob sent as the Authorization
	// bearer token on authenticated/invited-scope requests. Anonymous-scope
	// requests leave it empty.
	BearerToken string
	// HTTPClient overrides the default HTTP client, mainly for tests.
	HTTPClient *http.Client
}

func (c *Config) checkAndSetDefaults() error {
	if c.Addr == "" {
		return trace.BadParameter("missing parameter Addr")
	}
	return nil
}

// Client is a reference client for the three RPC scopes and the SSE
// endpoint.
type Client struct {
	roundtrip.Client
	cfg Config
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	params := []roundtrip.ClientParam{roundtrip.SanitizerEnabled(true)}
	if cfg.HTTPClient != nil {
		params = append(params, roundtrip.HTTPClient(cfg.HTTPClient))
	}
	rt, err := roundtrip.NewClient(cfg.Addr, apiVersion, params...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Client{Client: *rt, cfg: cfg}, nil
}

// RPC issues a single msgpack-encoded request against scope/orgID, unwraps
// the reply's cmd/body envelope and returns the msgpack-encoded body,
// mirroring lib/web.rpcHandler's wire format in reverse.
func (c *Client) RPC(ctx context.Context, scope, orgID string, cmd codec.Cmd, req codec.Request) ([]byte, error) {
	body, err := msgpack.Marshal(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	envelope, err := msgpack.Marshal(struct {
		Cmd  codec.Cmd          `msgpack:"cmd"`
		Body msgpack.RawMessage `msgpack:"body"`
	}{Cmd: cmd, Body: body})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	url := strings.TrimRight(c.cfg.Addr, "/") + "/" + scope + "/" + orgID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	httpReq.Header.Set("Content-Type", "application/msgpack")
	httpReq.Header.Set("Api-Version", "4.3")
	if c.cfg.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}

	resp, err := c.HTTPClient().Do(httpReq)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, trace.Errorf("request failed with status %v: %s", resp.StatusCode, out)
	}
	var reply struct {
		Cmd  codec.Cmd          `msgpack:"cmd"`
		Body msgpack.RawMessage `msgpack:"body"`
	}
	if err := msgpack.Unmarshal(out, &reply); err != nil {
		return nil, trace.Wrap(err, "decoding reply envelope")
	}
	return reply.Body, nil
}

// Ping issues the anonymous-scope Ping request (§4.10), the simplest
// round-trip and the one the teacher's own health-check clients use to
// smoke-test connectivity.
func (c *Client) Ping(ctx context.Context, orgID, message string) (string, error) {
	out, err := c.RPC(ctx, "anonymous", orgID, codec.CmdPing, &codec.PingRequest{Ping: message})
	if err != nil {
		return "", trace.Wrap(err)
	}
	var reply codec.PingReply
	if err := msgpack.Unmarshal(out, &reply); err != nil {
		return "", trace.Wrap(err, "decoding ping reply")
	}
	return reply.Pong, nil
}

// InvitationCreate issues the authenticated-scope invitation_create
// request (§3) used by parsecctl's `invitations add`.
func (c *Client) InvitationCreate(ctx context.Context, orgID, kind, claimerEmail string) (codec.InvitationCreateReply, error) {
	out, err := c.RPC(ctx, "authenticated", orgID, codec.CmdInvitationCreate, &codec.InvitationCreateRequest{
		Type: kind, ClaimerEmail: claimerEmail,
	})
	if err != nil {
		return codec.InvitationCreateReply{}, trace.Wrap(err)
	}
	var reply codec.InvitationCreateReply
	if err := msgpack.Unmarshal(out, &reply); err != nil {
		return codec.InvitationCreateReply{}, trace.Wrap(err, "decoding invitation_create reply")
	}
	return reply, nil
}

// InvitationList issues the authenticated-scope invitation_list request
// (§3).
func (c *Client) InvitationList(ctx context.Context, orgID string) ([]codec.InvitationItem, error) {
	out, err := c.RPC(ctx, "authenticated", orgID, codec.CmdInvitationList, &codec.InvitationListRequest{})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var reply codec.InvitationListReply
	if err := msgpack.Unmarshal(out, &reply); err != nil {
		return nil, trace.Wrap(err, "decoding invitation_list reply")
	}
	return reply.Invitations, nil
}

// InvitationCancel issues the authenticated-scope invitation_cancel
// request (§3).
func (c *Client) InvitationCancel(ctx context.Context, orgID, token string) error {
	_, err := c.RPC(ctx, "authenticated", orgID, codec.CmdInvitationCancel, &codec.InvitationCancelRequest{Token: token})
	return trace.Wrap(err)
}

// Event is one decoded Server-Sent-Event frame read from the streaming
// endpoint.
type Event struct {
	Kind string
	Data string
	ID   string
}

// Events opens the SSE stream for orgID and returns a channel of decoded
// frames; the channel is closed when ctx is done or the connection ends.
// This mirrors the SSE Streamer's own frame shape (§4.11) in reverse: one
// scanner loop decoding "event:"/"data:"/"id:" lines into a struct, the
// way a browser's EventSource would.
func (c *Client) Events(ctx context.Context, orgID, lastEventID string) (<-chan Event, error) {
	url := strings.TrimRight(c.cfg.Addr, "/") + "/authenticated/" + orgID + "/events"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Api-Version", "4.3")
	if c.cfg.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}
	if lastEventID != "" {
		httpReq.Header.Set("Last-Event-Id", lastEventID)
	}

	resp, err := c.HTTPClient().Do(httpReq)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, trace.Errorf("SSE connection failed with status %v", resp.StatusCode)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		var cur Event
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line := scanner.Text()
			switch {
			case line == "":
				if cur.Kind != "" {
					select {
					case events <- cur:
					case <-ctx.Done():
						return
					}
				}
				cur = Event{}
			case strings.HasPrefix(line, "event: "):
				cur.Kind = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				cur.Data = strings.TrimPrefix(line, "data: ")
			case strings.HasPrefix(line, "id: "):
				cur.ID = strings.TrimPrefix(line, "id: ")
			}
		}
	}()
	return events, nil
}

// WaitForEvent blocks until an event of kind is received or timeout
// elapses, a convenience wrapper used by integration-style tests.
func WaitForEvent(ctx context.Context, events <-chan Event, kind string, timeout time.Duration) (Event, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return Event{}, trace.Errorf("event stream closed before %q was received", kind)
			}
			if ev.Kind == kind {
				return ev, nil
			}
		case <-deadline.C:
			return Event{}, trace.Errorf("timed out waiting for event %q", kind)
		case <-ctx.Done():
			return Event{}, trace.Wrap(ctx.Err())
		}
	}
}
