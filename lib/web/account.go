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

package web

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/parsec-io/parsec-server/lib/auth"
)

// accountHandler answers the account-level routes (§6: POST
// /anonymous_account, POST /authenticated_account). These carry a token kind
// outside any organization, and this server models AccountVaultStrategy only
// as opaque per-organization configuration (§12) with no separate account
// store or component — so these routes only check the Content-Type (415 if
// it is not msgpack) and otherwise report their scope is unimplemented
// (501), rather than silently accepting traffic they cannot service. They
// do not check the Api-Version header.
func (h *Handler) accountHandler(scope auth.Scope) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if r.Header.Get("Content-Type") != "application/msgpack" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		w.WriteHeader(http.StatusNotImplemented)
	}
}
