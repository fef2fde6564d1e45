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
)

type environment int

const (
	envDev environment = iota
	envStaging
	envProd
)

//stagingSuffix identifies per-branch preview hosts.
const stagingSuffix = "appspot.com"

//domainOf returns the host of the request without the port.
func domainOf(r *http.Request) string {
	domain := r.Host
	if idx := strings.Index(domain, ":"); idx >= 0 {
		domain = domain[:idx]
	}
	return domain
}

//schemeOf honors the X-Forwarded-Proto header set by load balancers, since
//TLS usually terminates in front of this server.
func schemeOf(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func (a *API) envOf(r *http.Request) environment {
	if a.cfg.DevServer {
		return envDev
	}
	if strings.HasSuffix(domainOf(r), stagingSuffix) {
		return envStaging
	}
	return envProd
}

//branchOf infers the branch to serve from the request host. Production hosts
//always serve the default branch; staging hosts of the form
//<branch>-dot-<appid>.appspot.com serve that branch.
func (a *API) branchOf(r *http.Request) string {
	if a.envOf(r) != envStaging {
		return a.cfg.DefaultBranch
	}

	rootDomain := a.cfg.AppID + "." + stagingSuffix
	version := strings.TrimSuffix(domainOf(r), rootDomain)
	if version == "" {
		return a.cfg.DefaultBranch
	}
	return strings.SplitN(version, "-dot-", 2)[0]
}

//requestPath returns the decoded request path. Like the original App Engine
//stack, "+" decodes to a space.
func requestPath(r *http.Request) string {
	path, err := url.QueryUnescape(r.URL.EscapedPath())
	if err != nil {
		return r.URL.Path
	}
	return path
}

//safeJoin joins path elements, refusing intermediate absolute paths to
//prevent directory traversal.
func safeJoin(base string, paths ...string) string {
	result := base
	for _, path := range paths {
		if strings.HasPrefix(path, "/") {
			continue
		}
		if result == "" || strings.HasSuffix(result, "/") {
			result += path
		} else {
			result += "/" + path
		}
	}
	return result
}
