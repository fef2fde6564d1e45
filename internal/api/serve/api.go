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

//Package serve renders the public site: it maps request paths through the
//branch's manifest to content-addressed blobs and streams those out. All
//requests that are not claimed by the ingest API end up here.
package serve

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	pathpkg "path"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/logg"

	"github.com/filesetd/fileset/internal/blobs"
	"github.com/filesetd/fileset/internal/fileset"
	"github.com/filesetd/fileset/internal/manifests"
	"github.com/filesetd/fileset/internal/routetrie"
)

var servedRequestsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fileset_served_requests_total",
		Help: "Number of public requests served, by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(servedRequestsCounter)
}

//API contains state variables used by the public serving handler.
type API struct {
	cfg       fileset.Configuration
	db        *fileset.DB
	blobs     *blobs.Store
	identity  fileset.IdentityDriver
	redirects *routetrie.RouteTrie
}

//NewAPI constructs an API instance.
func NewAPI(cfg fileset.Configuration, db *fileset.DB, blobStore *blobs.Store, identity fileset.IdentityDriver) *API {
	a := &API{cfg, db, blobStore, identity, routetrie.NewRouteTrie()}
	for _, rule := range cfg.Redirects {
		a.redirects.Add(rule.Source, rule)
	}
	return a
}

//AddTo implements the api.API interface. The route is a catch-all, so this
//API must be composed after all other APIs on the same router.
func (a *API) AddTo(r *mux.Router) {
	r.Methods("GET", "HEAD").PathPrefix("/").HandlerFunc(a.handleRequest)
}

//handleRequest runs the middleware chain and then serves content. The order
//matters: pathological paths first, then canonical domain, then the HTTPS
//upgrade, then the auth gate, then configured redirects.
func (a *API) handleRequest(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logg.Error("PANIC while serving %s: %v", r.URL.Path, rec)
			servedRequestsCounter.WithLabelValues("panic").Inc()
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "An unexpected error has occurred.")
		}
	}()

	//some scanners request /%FF, which cannot even be percent-decoded
	if strings.EqualFold(r.URL.EscapedPath(), "/%ff") {
		a.redirect(w, r, "/", http.StatusFound)
		return
	}

	domain := domainOf(r)
	env := a.envOf(r)

	if a.cfg.CanonicalDomain != "" && env == envProd && domain != a.cfg.CanonicalDomain {
		uri := schemeOf(r) + "://" + a.cfg.CanonicalDomain + r.URL.RequestURI()
		a.redirect(w, r, uri, http.StatusFound)
		return
	}

	if a.cfg.RequireHTTPS || r.Header.Get("Upgrade-Insecure-Requests") == "1" {
		if env != envDev && schemeOf(r) != "https" {
			a.redirect(w, r, "https://"+domain+r.URL.RequestURI(), http.StatusFound)
			return
		}
	}

	if a.cfg.RequireAuth || env == envStaging {
		email, _ := a.identity.CurrentUser(r)
		if email == "" {
			a.redirect(w, r, a.identity.LoginURL(r.URL.RequestURI()), http.StatusFound)
			return
		}
		if !a.cfg.IsAuthorized(email) {
			logg.Info("%s is not authorized to access %s", email, r.URL.Path)
			servedRequestsCounter.WithLabelValues("forbidden").Inc()
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, "403 Forbidden")
			return
		}
	}

	if code, uri, ok := a.findRedirect(r); ok {
		logg.Info("redirecting: %d %s => %s", code, r.URL.RequestURI(), uri)
		a.redirect(w, r, uri, code)
		return
	}

	a.serveContent(w, r)
}

func (a *API) redirect(w http.ResponseWriter, r *http.Request, uri string, code int) {
	servedRequestsCounter.WithLabelValues("redirect").Inc()
	w.Header().Set("Cache-Control", "no-cache")
	http.Redirect(w, r, uri, code)
}

func (a *API) serveContent(w http.ResponseWriter, r *http.Request) {
	path := requestPath(r)
	//paths without a file extension are directories; serve their index
	if pathpkg.Ext(path) == "" {
		path = safeJoin(path, "index.html")
	}

	isHTML := strings.HasSuffix(path, ".html")
	if isHTML {
		//HTML paths are case-insensitive
		path = strings.ToLower(path)
		for key, value := range a.cfg.ResponseHeaders["html"] {
			w.Header().Set(key, value)
		}
	}

	manifest, err := a.manifestFor(r)
	if err != nil {
		logg.Error("cannot load manifest for %s: %s", r.Host, err.Error())
		a.serveError(w, r, http.StatusInternalServerError, nil)
		return
	}
	if manifest == nil {
		a.serveError(w, r, http.StatusNotFound, nil)
		return
	}
	paths, err := manifest.Paths()
	if err != nil {
		logg.Error("malformed paths in manifest %d: %s", manifest.ID, err.Error())
		a.serveError(w, r, http.StatusInternalServerError, nil)
		return
	}

	var sha string
	if isHTML {
		//check intl fallbacks based on the user's country and preferred langs
		for _, intlPath := range a.intlPaths(r, path) {
			if candidate, ok := paths[intlPath]; ok {
				sha = candidate
				break
			}
		}
	} else {
		sha = paths[path]
	}
	if sha == "" {
		a.serveError(w, r, http.StatusNotFound, manifest)
		return
	}

	etag := `"` + sha + `"`
	if r.Header.Get("If-None-Match") == etag {
		servedRequestsCounter.WithLabelValues("not_modified").Inc()
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)

	if r.Method == "HEAD" {
		servedRequestsCounter.WithLabelValues("ok").Inc()
		return
	}
	a.streamBlob(w, r, path, sha, manifest)
}

func (a *API) streamBlob(w http.ResponseWriter, r *http.Request, path, sha string, manifest *fileset.Manifest) {
	if contentType := mime.TypeByExtension(pathpkg.Ext(path)); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	reader, err := a.blobs.Open(sha)
	if err != nil {
		//the manifest references a blob that the object store cannot stream
		//right now; make a second, buffered attempt before giving up
		logg.Error("cannot open blob %s for %s: %s", sha, path, err.Error())
		buf, err := a.blobs.Read(sha)
		if err != nil {
			a.serveError(w, r, http.StatusNotFound, manifest)
			return
		}
		servedRequestsCounter.WithLabelValues("ok").Inc()
		w.Write(buf)
		return
	}
	defer reader.Close()

	servedRequestsCounter.WithLabelValues("ok").Inc()
	_, err = io.Copy(w, reader)
	if err != nil {
		//headers are already out, so this can only be logged
		logg.Error("error while streaming blob %s for %s: %s", sha, path, err.Error())
	}
}

//serveError renders an error response. For pages (as opposed to assets), a
//custom error document like /404.html is served if the manifest has one; the
//default branch's manifest serves as a fallback source for error documents.
func (a *API) serveError(w http.ResponseWriter, r *http.Request, code int, manifest *fileset.Manifest) {
	servedRequestsCounter.WithLabelValues(strconv.Itoa(code)).Inc()

	ext := pathpkg.Ext(requestPath(r))
	if ext == "" || ext == ".html" {
		if manifest == nil {
			var err error
			manifest, err = manifests.GetForBranch(a.db, a.cfg.DefaultBranch)
			if err != nil {
				logg.Error("cannot load default branch manifest: %s", err.Error())
				manifest = nil
			}
		}
		if manifest != nil {
			htmlPath := fmt.Sprintf("/%d.html", code)
			paths, err := manifest.Paths()
			if sha, ok := paths[htmlPath]; err == nil && ok {
				contents, err := a.blobs.Read(sha)
				if err == nil {
					w.Header().Set("Content-Type", "text/html")
					w.WriteHeader(code)
					if r.Method != "HEAD" {
						w.Write(contents)
					}
					return
				}
				logg.Error("cannot read error document %s: %s", htmlPath, err.Error())
			}
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	if r.Method != "HEAD" {
		fmt.Fprintf(w, "%d\n", code)
	}
}

//manifestFor selects the manifest serving this request: a pinned manifest
//for "manifest-<id>" branches, the branch pointer otherwise. A nil result
//without error means there is nothing deployed here.
func (a *API) manifestFor(r *http.Request) (*fileset.Manifest, error) {
	branch := a.branchOf(r)
	if idStr := strings.TrimPrefix(branch, "manifest-"); idStr != branch {
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			return manifests.Get(a.db, id)
		}
	}
	return manifests.GetForBranch(a.db, branch)
}
