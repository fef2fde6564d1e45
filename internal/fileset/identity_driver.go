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

package fileset

import (
	"fmt"
	"net/http"
)

//IdentityDriver is the abstract interface for determining the end user behind
//a request. It backs the staging auth gate and the token admin page; the
//ingest API uses bearer tokens instead.
type IdentityDriver interface {
	//CurrentUser returns the email address of the authenticated user, or ""
	//for anonymous requests.
	CurrentUser(r *http.Request) (email string, isAdmin bool)
	//LoginURL returns where anonymous users are redirected to. `next` is the
	//path (incl. query string) to return to after login.
	LoginURL(next string) string
}

var identityDriverFactories = make(map[string]func(Configuration) (IdentityDriver, error))

//NewIdentityDriver creates a new IdentityDriver using one of the factories
//registered by RegisterIdentityDriver().
func NewIdentityDriver(name string, cfg Configuration) (IdentityDriver, error) {
	factory := identityDriverFactories[name]
	if factory != nil {
		return factory(cfg)
	}
	return nil, fmt.Errorf("no such identity driver: %q", name)
}

//RegisterIdentityDriver registers an IdentityDriver. Call this from func
//init() of the package defining the driver.
func RegisterIdentityDriver(name string, factory func(Configuration) (IdentityDriver, error)) {
	if _, exists := identityDriverFactories[name]; exists {
		panic("attempted to register multiple identity drivers with name = " + name)
	}
	identityDriverFactories[name] = factory
}
