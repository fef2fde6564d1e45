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

package ingest

import (
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"github.com/sapcc/go-bits/respondwith"

	"github.com/filesetd/fileset/internal/fileset"
	"github.com/filesetd/fileset/internal/manifests"
)

func (a *API) handleManifestUpload(w http.ResponseWriter, r *http.Request) {
	if !a.checkToken(w, r) {
		return
	}

	var req struct {
		Commit fileset.CommitInfo `json:"commit"`
		Files  []struct {
			Sha  string `json:"sha"`
			Path string `json:"path"`
		} `json:"files"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}

	//duplicate paths are legal; the last occurrence wins
	paths := make(map[string]string, len(req.Files))
	for _, file := range req.Files {
		if file.Path == "" || file.Sha == "" {
			respondError(w, http.StatusBadRequest, "file entries require both path and sha")
			return
		}
		paths[file.Path] = file.Sha
	}

	manifestID, err := manifests.Save(a.db, req.Commit, paths, a.timeNow())
	if err != nil {
		respondServerError(w, r, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"manifest_id": manifestID,
	})
}

func (a *API) handleSetBranchManifest(w http.ResponseWriter, r *http.Request) {
	if !a.checkToken(w, r) {
		return
	}

	var req struct {
		Branch          string `json:"branch"`
		ManifestID      int64  `json:"manifest_id"`
		DeployTimestamp *int64 `json:"deploy_timestamp"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Branch == "" {
		respondError(w, http.StatusBadRequest, "missing branch")
		return
	}

	manifest, err := manifests.Get(a.db, req.ManifestID)
	if err != nil {
		respondServerError(w, r, err)
		return
	}
	if manifest == nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("no such manifest: %d", req.ManifestID))
		return
	}

	//only timestamps in the future become timed deploys; a timestamp at or
	//before now means "deploy now" and flips the pointer immediately
	scheduled := req.DeployTimestamp != nil && *req.DeployTimestamp > a.timeNow().Unix()
	if scheduled {
		err = manifests.ScheduleDeploy(a.db, req.Branch, req.ManifestID, *req.DeployTimestamp, a.timeNow())
	} else {
		err = manifests.SetBranch(a.db, req.Branch, req.ManifestID)
	}
	if err != nil {
		respondServerError(w, r, err)
		return
	}

	response := map[string]interface{}{
		"success":     true,
		"branch":      req.Branch,
		"manifest_id": req.ManifestID,
	}
	if scheduled {
		response["deploy_timestamp"] = *req.DeployTimestamp
	}
	respondwith.JSON(w, http.StatusOK, response)
}

func (a *API) handleGetBranchManifest(w http.ResponseWriter, r *http.Request) {
	if !a.checkToken(w, r) {
		return
	}

	var req struct {
		Branch string `json:"branch"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}

	manifest, err := manifests.GetForBranch(a.db, req.Branch)
	if err != nil {
		respondServerError(w, r, err)
		return
	}
	if manifest == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no manifest for branch: %s", req.Branch))
		return
	}
	paths, err := manifest.Paths()
	if err != nil {
		respondServerError(w, r, err)
		return
	}

	respondwith.JSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"branch":      req.Branch,
		"manifest_id": manifest.ID,
		"paths":       paths,
	})
}

func (a *API) handleTimedDeploy(w http.ResponseWriter, r *http.Request) {
	if !a.isCronRequest(r) && !a.checkToken(w, r) {
		return
	}

	deployments := []map[string]interface{}{}
	for {
		deploy, err := manifests.PromoteNextDueDeploy(a.db, a.timeNow())
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			respondServerError(w, r, err)
			return
		}
		deployments = append(deployments, map[string]interface{}{
			"branch":      deploy.Branch,
			"manifest_id": deploy.ManifestID,
		})
	}

	respondwith.JSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"deployments": deployments,
	})
}

//isCronRequest recognizes the scheduler's marker header. The reverse proxy
//MUST strip this header from outside requests, like App Engine did for
//X-Appengine-Cron.
func (a *API) isCronRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("X-Appengine-Cron"), "true")
}
