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

// Command parsecctl is an administration CLI for a running parsecd server,
// following the same CmdClause-per-subcommand shape as the teacher's own
// `tctl tokens` command group.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/ed25519"

	parsecclient "github.com/parsec-io/parsec-server/api/client"
	"github.com/parsec-io/parsec-server/api/types"
	"github.com/parsec-io/parsec-server/lib/crypto"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, trace.DebugReport(err))
		os.Exit(1)
	}
}

// invitationsCommand groups the `parsecctl invitations` subcommands,
// mirroring the teacher's TokensCommand: one struct holding every flag
// destination plus the CmdClause handles, Initialized against the app in
// one place.
type invitationsCommand struct {
	addr       string
	identity   string
	org        string
	kind       string
	claimEmail string
	token      string

	add *kingpin.CmdClause
	ls  *kingpin.CmdClause
	rm  *kingpin.CmdClause
}

func (c *invitationsCommand) initialize(app *kingpin.Application) {
	invitations := app.Command("invitations", "Manage organization invitations")

	app.Flag("addr", "Address of the parsecd server, e.g. http://localhost:6770").
		Required().StringVar(&c.addr)
	app.Flag("identity", "Path to a hex-encoded ed25519 admin device identity file, \"<device-id> <private-key-hex>\"").
		Required().Short('i').StringVar(&c.identity)
	app.Flag("org", "Organization ID").Required().Short('o').StringVar(&c.org)

	c.add = invitations.Command("add", "Create an invitation")
	c.add.Flag("type", fmt.Sprintf("Invitation type, one of %v", []string{
		string(types.InvitationUser), string(types.InvitationDevice), string(types.InvitationShamirRecovery),
	})).Required().StringVar(&c.kind)
	c.add.Flag("claimer-email", "Email address of the invitation's claimer (required for USER invitations)").
		StringVar(&c.claimEmail)

	c.ls = invitations.Command("ls", "List usable invitations")

	c.rm = invitations.Command("rm", "Cancel an invitation").Alias("del")
	c.rm.Arg("token", "Invitation token to cancel").Required().StringVar(&c.token)
}

func run(args []string) error {
	app := kingpin.New("parsecctl", "Parsec server administration CLI")
	cmd := &invitationsCommand{}
	cmd.initialize(app)

	selected, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	deviceID, key, err := loadIdentity(cmd.identity)
	if err != nil {
		return trace.Wrap(err)
	}
	bearer, err := signBearerToken(key, deviceID)
	if err != nil {
		return trace.Wrap(err)
	}

	c, err := parsecclient.NewClient(parsecclient.Config{Addr: cmd.addr, BearerToken: bearer})
	if err != nil {
		return trace.Wrap(err)
	}

	ctx := context.Background()
	switch selected {
	case cmd.add.FullCommand():
		return runInvitationAdd(ctx, c, cmd)
	case cmd.ls.FullCommand():
		return runInvitationList(ctx, c, cmd)
	case cmd.rm.FullCommand():
		return runInvitationCancel(ctx, c, cmd)
	default:
		return trace.BadParameter("unrecognized command %q", selected)
	}
}

// loadIdentity reads "<device-id> <private-key-hex>" from path, the
// simplest possible identity file format for a CLI that otherwise has no
// enrollment flow of its own (client-side key provisioning is out of
// scope; see DESIGN.md).
func loadIdentity(path string) (string, ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, trace.Wrap(err, "reading identity file %v", path)
	}
	var deviceID, keyHex string
	if _, err := fmt.Sscanf(string(data), "%s %s", &deviceID, &keyHex); err != nil {
		return "", nil, trace.BadParameter("malformed identity file %v: %v", path, err)
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return "", nil, trace.Wrap(err, "decoding private key in %v", path)
	}
	if len(key) != ed25519.PrivateKeySize {
		return "", nil, trace.BadParameter("private key in %v has wrong size %v, expected %v", path, len(key), ed25519.PrivateKeySize)
	}
	return deviceID, ed25519.PrivateKey(key), nil
}

// signBearerToken builds the same detached-signature bearer token the Auth
// Pipeline expects (§4.9 step "authenticated/TOS/account"): an ed25519
// signature over a msgpack-encoded {DeviceID, Timestamp} payload, hex
// encoded for the Authorization header.
func signBearerToken(key ed25519.PrivateKey, deviceID string) (string, error) {
	type claims struct {
		DeviceID  string
		Timestamp time.Time
	}
	payload, err := msgpack.Marshal(claims{DeviceID: deviceID, Timestamp: time.Now()})
	if err != nil {
		return "", trace.Wrap(err)
	}
	return hex.EncodeToString(crypto.Sign(key, payload).Bytes()), nil
}

func runInvitationAdd(ctx context.Context, c *parsecclient.Client, cmd *invitationsCommand) error {
	created, err := c.InvitationCreate(ctx, cmd.org, cmd.kind, cmd.claimEmail)
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("token: %s\ncreated_at: %s\n", created.Token, created.CreatedAt.Format(time.RFC3339))
	return nil
}

func runInvitationList(ctx context.Context, c *parsecclient.Client, cmd *invitationsCommand) error {
	list, err := c.InvitationList(ctx, cmd.org)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, inv := range list {
		fmt.Printf("%s\t%s\t%s\t%s\n", inv.Token, inv.Type, inv.ClaimerEmail, inv.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runInvitationCancel(ctx context.Context, c *parsecclient.Client, cmd *invitationsCommand) error {
	if err := c.InvitationCancel(ctx, cmd.org, cmd.token); err != nil {
		return trace.Wrap(err)
	}
	fmt.Println("cancelled")
	return nil
}
