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

package test

import (
	"net/http"
	"net/url"

	"github.com/filesetd/fileset/internal/fileset"
)

func init() {
	fileset.RegisterIdentityDriver("unittest", func(cfg fileset.Configuration) (fileset.IdentityDriver, error) {
		return IdentityDriver{}, nil
	})
}

//IdentityDriver is a fileset.IdentityDriver for unit tests: the user is
//whatever the X-Test-User header says, and X-Test-Admin grants admin rights.
type IdentityDriver struct{}

//CurrentUser implements the fileset.IdentityDriver interface.
func (IdentityDriver) CurrentUser(r *http.Request) (string, bool) {
	return r.Header.Get("X-Test-User"), r.Header.Get("X-Test-Admin") == "true"
}

//LoginURL implements the fileset.IdentityDriver interface.
func (IdentityDriver) LoginURL(next string) string {
	return "/_login?next=" + url.QueryEscape(next)
}
