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

package trustedheader

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/sapcc/go-bits/osext"

	"github.com/filesetd/fileset/internal/fileset"
)

func init() {
	fileset.RegisterIdentityDriver("trusted-header", func(cfg fileset.Configuration) (fileset.IdentityDriver, error) {
		return IdentityDriver{
			AdminUsers:     cfg.AdminUsers,
			LoginURLPrefix: osext.GetenvOrDefault("FILESET_LOGIN_URL", "/_ah/login?continue="),
		}, nil
	})
}

//IdentityDriver reads the user identity from a header set by a trusted proxy
//in front of this server, e.g. Google's Identity-Aware Proxy. The proxy MUST
//strip this header from incoming requests, otherwise anyone can impersonate
//anyone.
type IdentityDriver struct {
	AdminUsers     map[string]bool
	LoginURLPrefix string
}

//CurrentUser implements the fileset.IdentityDriver interface.
func (d IdentityDriver) CurrentUser(r *http.Request) (string, bool) {
	email := r.Header.Get("X-Goog-Authenticated-User-Email")
	//IAP prefixes the address with the identity provider
	if idx := strings.LastIndex(email, ":"); idx >= 0 {
		email = email[idx+1:]
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", false
	}
	return email, d.AdminUsers[email]
}

//LoginURL implements the fileset.IdentityDriver interface.
func (d IdentityDriver) LoginURL(next string) string {
	return d.LoginURLPrefix + url.QueryEscape(next)
}
