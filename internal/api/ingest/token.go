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
	"fmt"
	"net/http"
)

//handleTokenPage mints a fresh deploy token for admins. This is a browser
//page, not an API endpoint, so it authenticates via the identity driver
//rather than X-Fileset-Token.
func (a *API) handleTokenPage(w http.ResponseWriter, r *http.Request) {
	email, isAdmin := a.identity.CurrentUser(r)
	if email == "" {
		w.Header().Set("Cache-Control", "no-cache")
		http.Redirect(w, r, a.identity.LoginURL(r.URL.RequestURI()), http.StatusFound)
		return
	}
	if !isAdmin {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	token, err := a.tokens.Create("created via /_fs/token", email, a.timeNow())
	if err != nil {
		http.Error(w, "unknown server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "token: %s\n\nPass this value in the X-Fileset-Token header of deploy requests,\nor store it in the \"token\" field of .fileset.json.\n", token)
}
