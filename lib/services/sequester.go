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

	"github.com/gravitational/trace"

	"github.com/parsec-io/parsec-server/api/types"
	apievents "github.com/parsec-io/parsec-server/api/types/events"
	"github.com/parsec-io/parsec-server/lib/codec"
	"github.com/parsec-io/parsec-server/lib/events"
)

// Sequester implements sequester-service registration (§3, §12): the half
// of the sequester story bootstrap doesn't cover, letting an organization
// vouch for additional services after its sequester authority is bound.
type Sequester struct {
	deps Deps
}

// NewSequester builds a Sequester component from deps.
func NewSequester(deps Deps) (*Sequester, error) {
	if err := deps.checkAndSetDefaults("sequester"); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Sequester{deps: deps}, nil
}

// RegisterService implements sequester_service_register: an ADMIN relays a
// sequester_service certificate signed by the organization's sequester
// authority key (bound at bootstrap, §4.5), registering a new service
// entitled to a share of every future vlob's SequesterBlob.
func (s *Sequester) RegisterService(ctx context.Context, orgID, authorDeviceID string, cert *types.Certificate) (*types.SequesterService, error) {
	ac, err := (&Users{deps: s.deps}).resolveAuthor(ctx, orgID, authorDeviceID, types.ProfileAdmin)
	if err != nil {
		return nil, err
	}
	if ac.org.Sequester == nil {
		return nil, codec.RepNotAllowed{Reason: "organization has no sequester authority"}
	}
	if cert.SequesterServiceID == "" {
		return nil, codec.RepInvalidCertificate{Reason: "missing sequester service ID"}
	}
	for _, svc := range ac.org.Sequester.Services {
		if svc.ID == cert.SequesterServiceID {
			return nil, codec.RepAlreadyExists{What: "sequester service"}
		}
	}

	locks := s.deps.Store.Locks(orgID)
	unlock := locks.WriteLock(types.TopicSequester)
	defer unlock()
	if !cert.Timestamp.After(locks.GlobalLastTimestamp()) {
		return nil, codec.RepRequireGreaterTimestamp{StrictlyGreaterThan: locks.GlobalLastTimestamp()}
	}

	if err := s.deps.Store.AppendCertificate(ctx, orgID, types.TopicSequester, cert); err != nil {
		return nil, trace.Wrap(err)
	}

	service := types.SequesterService{
		ID:                  cert.SequesterServiceID,
		Certificate:         cert.Raw,
		RedactedCertificate: cert.RedactedRaw,
		RegisteredAt:        cert.Timestamp,
	}
	ac.org.Sequester.Services = append(ac.org.Sequester.Services, service)
	if err := s.deps.Store.UpdateOrganization(ctx, ac.org); err != nil {
		return nil, trace.Wrap(err)
	}
	locks.RecordWrite(types.TopicSequester, cert.Timestamp)

	s.deps.Bus.Publish(events.New(orgID, apievents.KindSequesterCertificate, apievents.SequesterCertificate{Timestamp: cert.Timestamp}))
	return &service, nil
}
