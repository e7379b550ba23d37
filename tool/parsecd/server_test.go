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

package main

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/config"
)

func TestBuildHandlerServesAnonymousProbe(t *testing.T) {
	cfg := config.Default()
	log := logrus.New()
	log.SetOutput(io.Discard)

	handler, err := buildHandler(cfg, log)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/anonymous/acme", nil)
	r.Header.Set("Api-Version", "4.3")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	// "acme" was never bootstrapped in a freshly built handler, so the Auth
	// Pipeline's organization lookup is what should reject the probe - this
	// confirms the Data Store, Auth Pipeline and routes were wired together,
	// not just that NewHandler returned without error.
	require.Equal(t, 404, w.Code)
}
