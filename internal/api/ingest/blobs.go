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
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/sapcc/go-bits/respondwith"

	"github.com/filesetd/fileset/internal/blobs"
)

const maxBlobSizeBytes = 32 << 20

func (a *API) handleBlobUpload(w http.ResponseWriter, r *http.Request) {
	if !a.checkToken(w, r) {
		return
	}

	err := r.ParseMultipartForm(maxBlobSizeBytes)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed multipart request: "+err.Error())
		return
	}

	sha := r.FormValue("sha")
	if !blobs.HashRx.MatchString(sha) {
		respondError(w, http.StatusBadRequest, "malformed sha")
		return
	}

	file, header, err := r.FormFile("blob")
	if err != nil {
		respondError(w, http.StatusBadRequest, `missing file field "blob"`)
		return
	}
	defer file.Close()
	contents, err := io.ReadAll(file)
	if err != nil {
		respondServerError(w, r, err)
		return
	}

	//the stored content type is what byte-streaming facilities will later
	//serve, so derive it from the file name like the serving side does
	contentType := mime.TypeByExtension(filepath.Ext(header.Filename))
	if contentType == "" {
		contentType = header.Header.Get("Content-Type")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	err = a.blobs.Write(sha, contents, contentType)
	if err != nil {
		var hashMismatch blobs.HashMismatchError
		if errors.As(err, &hashMismatch) {
			respondError(w, http.StatusBadRequest, hashMismatch.Error())
		} else {
			respondServerError(w, r, err)
		}
		return
	}

	respondwith.JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"sha":     sha,
	})
}

func (a *API) handleBlobExists(w http.ResponseWriter, r *http.Request) {
	if !a.checkToken(w, r) {
		return
	}

	var req struct {
		Sha string `json:"sha"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if !blobs.HashRx.MatchString(req.Sha) {
		respondError(w, http.StatusBadRequest, "malformed sha")
		return
	}

	exists, err := a.blobs.Exists(req.Sha)
	if err != nil {
		respondServerError(w, r, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"sha":     req.Sha,
		"exists":  exists,
	})
}
