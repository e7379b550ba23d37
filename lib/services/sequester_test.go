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

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/api/types"
	"github.com/parsec-io/parsec-server/lib/codec"
)

func withSequesterAuthority(t *testing.T, h *harness) {
	t.Helper()
	org, err := h.store.GetOrganization(context.Background(), testOrgID)
	require.NoError(t, err)
	org.Sequester = &types.SequesterAuthority{VerifyKey: []byte("authority-verify-key")}
	require.NoError(t, h.store.UpdateOrganization(context.Background(), org))
}

func TestRegisterServiceRequiresSequesterAuthority(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)

	seq, err := NewSequester(h.deps())
	require.NoError(t, err)

	cert := &types.Certificate{
		Type:               types.CertificateSequesterService,
		Timestamp:          h.clock.Now(),
		SequesterServiceID: "svc1",
	}
	_, err = seq.RegisterService(context.Background(), testOrgID, adminDeviceID, cert)
	require.Error(t, err)
	_, ok := err.(codec.RepNotAllowed)
	require.True(t, ok)
}

func TestRegisterServiceSucceedsAndRejectsDuplicate(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)
	withSequesterAuthority(t, h)

	seq, err := NewSequester(h.deps())
	require.NoError(t, err)

	cert := &types.Certificate{
		Type:               types.CertificateSequesterService,
		Timestamp:          h.clock.Now(),
		SequesterServiceID: "svc1",
		Raw:                []byte("raw-cert"),
	}
	svc, err := seq.RegisterService(context.Background(), testOrgID, adminDeviceID, cert)
	require.NoError(t, err)
	require.Equal(t, "svc1", svc.ID)

	org, err := h.store.GetOrganization(context.Background(), testOrgID)
	require.NoError(t, err)
	require.Len(t, org.Sequester.Services, 1)

	dupCert := &types.Certificate{
		Type:               types.CertificateSequesterService,
		Timestamp:          h.clock.Now().Add(time.Millisecond),
		SequesterServiceID: "svc1",
	}
	_, err = seq.RegisterService(context.Background(), testOrgID, adminDeviceID, dupCert)
	require.Error(t, err)
	_, ok := err.(codec.RepAlreadyExists)
	require.True(t, ok)
}

func TestRegisterServiceRequiresGreaterTimestamp(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)
	withSequesterAuthority(t, h)

	seq, err := NewSequester(h.deps())
	require.NoError(t, err)

	now := h.clock.Now()
	first := &types.Certificate{
		Type:               types.CertificateSequesterService,
		Timestamp:          now,
		SequesterServiceID: "svc1",
	}
	_, err = seq.RegisterService(context.Background(), testOrgID, adminDeviceID, first)
	require.NoError(t, err)

	stale := &types.Certificate{
		Type:               types.CertificateSequesterService,
		Timestamp:          now, // not strictly after the sequester topic's last write
		SequesterServiceID: "svc2",
	}
	_, err = seq.RegisterService(context.Background(), testOrgID, adminDeviceID, stale)
	require.Error(t, err)
	_, ok := err.(codec.RepRequireGreaterTimestamp)
	require.True(t, ok)
}

func TestRegisterServiceRequiresNonEmptyServiceID(t *testing.T) {
	h := newHarness(t)
	_, adminDeviceID := h.createOrg(t, testOrgID)
	withSequesterAuthority(t, h)

	seq, err := NewSequester(h.deps())
	require.NoError(t, err)

	cert := &types.Certificate{
		Type:      types.CertificateSequesterService,
		Timestamp: h.clock.Now(),
	}
	_, err = seq.RegisterService(context.Background(), testOrgID, adminDeviceID, cert)
	require.Error(t, err)
	_, ok := err.(codec.RepInvalidCertificate)
	require.True(t, ok)
}
