/*******************************************************************************
*
* Copyright 2021 The Fileset Authors
*
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You should have received a copy of the License along with this
* program. If not, you may obtain a copy of the License at
*
*     http://www.apache.org/licenses/LICENSE-2.0
*
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
*
*******************************************************************************/

//Package ingest provides the write API below /_fs/ that deploy clients and
//the cron scheduler talk to.
package ingest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/filesetd/fileset/internal/blobs"
	"github.com/filesetd/fileset/internal/fileset"
	"github.com/filesetd/fileset/internal/tokens"
)

//API contains state variables used by the ingest API endpoints.
type API struct {
	cfg      fileset.Configuration
	db       *fileset.DB
	blobs    *blobs.Store
	tokens   *tokens.Store
	identity fileset.IdentityDriver
	timeNow  func() time.Time
}

//NewAPI constructs an API instance.
func NewAPI(cfg fileset.Configuration, db *fileset.DB, blobStore *blobs.Store, tokenStore *tokens.Store, identity fileset.IdentityDriver) *API {
	return &API{cfg, db, blobStore, tokenStore, identity, time.Now}
}

//OverrideTimeNow replaces time.Now with a test double.
func (a *API) OverrideTimeNow(timeNow func() time.Time) *API {
	a.timeNow = timeNow
	return a
}

//AddTo implements the api.API interface.
func (a *API) AddTo(r *mux.Router) {
	r.Methods("POST").Path("/_fs/api/manifest.upload").HandlerFunc(guarded(a.handleManifestUpload))
	r.Methods("POST").Path("/_fs/api/blob.upload").HandlerFunc(guarded(a.handleBlobUpload))
	r.Methods("POST").Path("/_fs/api/blob.exists").HandlerFunc(guarded(a.handleBlobExists))
	r.Methods("POST").Path("/_fs/api/branch.set_manifest").HandlerFunc(guarded(a.handleSetBranchManifest))
	r.Methods("POST").Path("/_fs/api/branch.get_manifest").HandlerFunc(guarded(a.handleGetBranchManifest))
	r.Methods("GET", "POST").Path("/_fs/api/cron.timed_deploy").HandlerFunc(guarded(a.handleTimedDeploy))
	r.Methods("GET").Path("/_fs/token").HandlerFunc(a.handleTokenPage)
}

//guarded turns handler panics into the generic JSON 500 that clients expect
//from this API.
func guarded(inner http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logg.Error("PANIC in ingest API handler %s: %v", r.URL.Path, rec)
				respondError(w, http.StatusInternalServerError, "unknown server error")
			}
		}()
		inner(w, r)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondwith.JSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func respondServerError(w http.ResponseWriter, r *http.Request, err error) {
	logg.Error("error in %s: %s", r.URL.Path, err.Error())
	respondError(w, http.StatusInternalServerError, "unknown server error")
}

//checkToken authorizes a write request. Returns false if the request was
//already answered with an error.
func (a *API) checkToken(w http.ResponseWriter, r *http.Request) bool {
	//a local dev server trusts everyone
	if a.cfg.DevServer {
		return true
	}
	ok, err := a.tokens.Validate(r.Header.Get("X-Fileset-Token"), a.timeNow())
	if err != nil {
		respondServerError(w, r, err)
		return false
	}
	if !ok {
		respondError(w, http.StatusForbidden, "unauthorized")
		return false
	}
	return true
}

//decodeRequest parses a JSON request body. Returns false if the request was
//already answered with an error.
func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(target)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}
