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

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/parsec-io/parsec-server/lib/auth"
	"github.com/parsec-io/parsec-server/lib/codec"
)

// rpcHandler builds the POST handler shared by the anonymous, invited,
// authenticated and authenticated_tos scopes (§6, §4.10): run the pipeline,
// read and decode the body, dispatch to the bound component, encode the
// typed reply.
func (h *Handler) rpcHandler(scope auth.Scope) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		id, ok := h.cfg.AuthDeps.Authenticate(scope, w, r, p)
		if !ok {
			return
		}

		body, err := auth.ReadBody(r)
		if err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}

		cmd, reply, err := auth.Dispatch(r.Context(), id, h.cfg.Components, body)
		if err != nil {
			if trace.IsBadParameter(err) {
				h.cfg.Log.WithError(err).Debug("rejecting malformed or unknown command")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				return
			}
			h.cfg.Log.WithError(err).Error("request handler failed")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		out, err := codec.Encode(cmd, reply)
		if err != nil {
			h.cfg.Log.WithError(err).Error("failed to encode reply")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/msgpack")
		w.WriteHeader(http.StatusOK)
		w.Write(out)
	}
}
