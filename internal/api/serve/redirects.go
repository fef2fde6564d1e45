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

package serve

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/filesetd/fileset/internal/fileset"
)

//findRedirect matches the request path against the configured redirect
//rules. "no-redirect" rules shadow broader patterns, so a hit on one means
//the path is served normally.
func (a *API) findRedirect(r *http.Request) (code int, uri string, ok bool) {
	value, params, ok := a.redirects.Get(r.URL.Path)
	if !ok {
		return 0, "", false
	}
	rule := value.(fileset.RedirectRule)
	if rule.Code == 0 {
		return 0, "", false
	}

	uri = rule.Dest
	if strings.Contains(uri, "$") {
		for key, val := range params {
			uri = strings.ReplaceAll(uri, "$"+key, val)
		}
	}

	//preserve the query string for relative targets; on a clash, the
	//request's parameters win over the target's
	if strings.HasPrefix(uri, "/") && r.URL.RawQuery != "" {
		if idx := strings.Index(uri, "?"); idx >= 0 {
			values, err := url.ParseQuery(uri[idx+1:])
			if err != nil {
				values = url.Values{}
			}
			for key, vals := range r.URL.Query() {
				values[key] = vals
			}
			uri = uri[:idx] + "?" + values.Encode()
		} else {
			uri += "?" + r.URL.RawQuery
		}
	}

	return rule.Code, uri, true
}
