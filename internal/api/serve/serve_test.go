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

package serve_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/must"

	"github.com/filesetd/fileset/internal/blobs"
	"github.com/filesetd/fileset/internal/fileset"
	"github.com/filesetd/fileset/internal/manifests"
	"github.com/filesetd/fileset/internal/test"
)

func TestMain(m *testing.M) {
	easypg.WithTestDB(m, func() int { return m.Run() })
}

//deploySite uploads the given files as blobs, saves a manifest for them and
//points the branch at it.
func deploySite(t *testing.T, s test.Setup, branch string, files map[string]string) int64 {
	t.Helper()
	paths := make(map[string]string, len(files))
	for path, contents := range files {
		sha := blobs.HashOf([]byte(contents))
		must.Succeed(s.Blobs.Write(sha, []byte(contents), ""))
		paths[path] = sha
	}
	commit := fileset.CommitInfo{Sha: "0000000000000000000000000000000000000000", Message: "test deploy"}
	manifestID, err := manifests.Save(s.DB, commit, paths, s.Clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	must.Succeed(manifests.SetBranch(s.DB, branch, manifestID))
	return manifestID
}

func getPage(t *testing.T, s test.Setup, method, url string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, url, nil)
	for key, value := range headers {
		r.Header.Set(key, value)
	}
	w := httptest.NewRecorder()
	s.Handler.ServeHTTP(w, r)
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Errorf("expected status %d, got %d (body %q)", status, w.Code, w.Body.String())
	}
}

func expectResponse(t *testing.T, w *httptest.ResponseRecorder, status int, body string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("expected status %d, got %d (body %q)", status, w.Code, w.Body.String())
	}
	if w.Body.String() != body {
		t.Errorf("expected body %q, got %q", body, w.Body.String())
	}
}

func TestServeBasic(t *testing.T) {
	s := test.NewSetup(t)
	deploySite(t, s, "master", map[string]string{
		"/index.html":       "<html>home</html>",
		"/about/index.html": "<html>about</html>",
		"/static/main.css":  "body { color: red; }",
	})

	//the root path serves the index document
	w := getPage(t, s, "GET", "http://example.com/", nil)
	expectResponse(t, w, http.StatusOK, "<html>home</html>")
	if contentType := w.Header().Get("Content-Type"); !strings.HasPrefix(contentType, "text/html") {
		t.Errorf("expected HTML content type, got %q", contentType)
	}
	if w.Header().Get("X-Frame-Options") != "deny" {
		t.Error("configured HTML response header is missing")
	}
	if !strings.HasPrefix(w.Header().Get("ETag"), `"`) {
		t.Errorf("expected quoted ETag, got %q", w.Header().Get("ETag"))
	}

	//extensionless paths serve their index document
	w = getPage(t, s, "GET", "http://example.com/about", nil)
	expectResponse(t, w, http.StatusOK, "<html>about</html>")

	//HTML paths are case-insensitive
	w = getPage(t, s, "GET", "http://example.com/ABOUT/", nil)
	expectResponse(t, w, http.StatusOK, "<html>about</html>")

	//assets are served with their MIME type, without the HTML headers
	w = getPage(t, s, "GET", "http://example.com/static/main.css", nil)
	expectResponse(t, w, http.StatusOK, "body { color: red; }")
	if contentType := w.Header().Get("Content-Type"); !strings.HasPrefix(contentType, "text/css") {
		t.Errorf("expected CSS content type, got %q", contentType)
	}
	if w.Header().Get("X-Frame-Options") != "" {
		t.Error("HTML response header leaked onto an asset")
	}

	//asset paths are case-sensitive
	w = getPage(t, s, "GET", "http://example.com/static/MAIN.css", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for case-mangled asset path, got %d", w.Code)
	}

	//HEAD sends headers only
	w = getPage(t, s, "HEAD", "http://example.com/", nil)
	expectResponse(t, w, http.StatusOK, "")
	if w.Header().Get("ETag") == "" {
		t.Error("expected ETag on HEAD response")
	}
}

func TestServeNotModified(t *testing.T) {
	s := test.NewSetup(t)
	deploySite(t, s, "master", map[string]string{
		"/index.html": "<html>home</html>",
	})

	w := getPage(t, s, "GET", "http://example.com/", nil)
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag on first response")
	}

	w = getPage(t, s, "GET", "http://example.com/", map[string]string{"If-None-Match": etag})
	expectResponse(t, w, http.StatusNotModified, "")
}

func TestServeIntlContent(t *testing.T) {
	s := test.NewSetup(t)
	deploySite(t, s, "master", map[string]string{
		"/index.html":            "<html>english</html>",
		"/intl/de/index.html":    "<html>deutsch</html>",
		"/intl/fr_ca/index.html": "<html>québécois</html>",
	})

	//no language hints: the unlocalized page
	w := getPage(t, s, "GET", "http://example.com/", nil)
	expectResponse(t, w, http.StatusOK, "<html>english</html>")

	//Accept-Language picks the localized variant
	w = getPage(t, s, "GET", "http://example.com/", map[string]string{"Accept-Language": "de"})
	expectResponse(t, w, http.StatusOK, "<html>deutsch</html>")

	//country-specific locales require the matching country
	w = getPage(t, s, "GET", "http://example.com/", map[string]string{
		"Accept-Language":     "fr",
		"X-Appengine-Country": "CA",
	})
	expectResponse(t, w, http.StatusOK, "<html>québécois</html>")
	w = getPage(t, s, "GET", "http://example.com/", map[string]string{
		"Accept-Language":     "fr",
		"X-Appengine-Country": "FR",
	})
	expectResponse(t, w, http.StatusOK, "<html>english</html>")

	//?hl= wins over the Accept-Language header
	w = getPage(t, s, "GET", "http://example.com/?hl=de", map[string]string{"Accept-Language": "fr"})
	expectResponse(t, w, http.StatusOK, "<html>deutsch</html>")
}

func TestServeErrorDocuments(t *testing.T) {
	s := test.NewSetup(t)
	deploySite(t, s, "master", map[string]string{
		"/index.html": "<html>home</html>",
		"/404.html":   "<html>not found</html>",
	})

	//pages render the custom error document
	w := getPage(t, s, "GET", "http://example.com/no-such-page/", nil)
	expectResponse(t, w, http.StatusNotFound, "<html>not found</html>")
	if contentType := w.Header().Get("Content-Type"); !strings.HasPrefix(contentType, "text/html") {
		t.Errorf("expected HTML content type, got %q", contentType)
	}

	//assets get a plain-text error
	w = getPage(t, s, "GET", "http://example.com/no-such-asset.png", nil)
	expectResponse(t, w, http.StatusNotFound, "404\n")
	if contentType := w.Header().Get("Content-Type"); !strings.HasPrefix(contentType, "text/plain") {
		t.Errorf("expected plain content type, got %q", contentType)
	}
}

func TestServeErrorWithoutErrorDocument(t *testing.T) {
	s := test.NewSetup(t)
	deploySite(t, s, "master", map[string]string{
		"/index.html": "<html>home</html>",
	})

	w := getPage(t, s, "GET", "http://example.com/no-such-page/", nil)
	expectResponse(t, w, http.StatusNotFound, "404\n")
}

func TestMissingBlobServesBranchErrorDocument(t *testing.T) {
	s := test.NewSetup(t)
	deploySite(t, s, "master", map[string]string{
		"/index.html": "<html>home</html>",
		"/404.html":   "<html>master not found</html>",
	})
	pageContents := "<html>feature page</html>"
	deploySite(t, s, "feature-x", map[string]string{
		"/index.html":      "<html>feature</html>",
		"/404.html":        "<html>feature not found</html>",
		"/page/index.html": pageContents,
	})

	//simulate an object store that lost this blob
	s.Storage.ForgetObject("blobs/" + blobs.HashOf([]byte(pageContents)))

	//the error document comes from the branch being served, not from the
	//default branch
	authHeaders := map[string]string{"X-Test-User": "user@example.com"}
	w := getPage(t, s, "GET", "http://feature-x-dot-fileset-test.appspot.com/page/", authHeaders)
	expectResponse(t, w, http.StatusNotFound, "<html>feature not found</html>")
}

func TestStagingRequiresAuth(t *testing.T) {
	s := test.NewSetup(t)
	deploySite(t, s, "master", map[string]string{
		"/index.html": "<html>home</html>",
	})
	deploySite(t, s, "feature-x", map[string]string{
		"/index.html": "<html>feature</html>",
	})

	//anonymous users are sent to the login page
	w := getPage(t, s, "GET", "http://fileset-test.appspot.com/", nil)
	expectStatus(t, w, http.StatusFound)
	if location := w.Header().Get("Location"); location != "/_login?next=%2F" {
		t.Errorf("expected login redirect, got %q", location)
	}

	//users outside the authorized orgs are rejected
	w = getPage(t, s, "GET", "http://fileset-test.appspot.com/", map[string]string{
		"X-Test-User": "someone@elsewhere.org",
	})
	expectResponse(t, w, http.StatusForbidden, "403 Forbidden")

	//authorized users see the default branch on the root staging host...
	authHeaders := map[string]string{"X-Test-User": "user@example.com"}
	w = getPage(t, s, "GET", "http://fileset-test.appspot.com/", authHeaders)
	expectResponse(t, w, http.StatusOK, "<html>home</html>")

	//...and the respective branch on <branch>-dot- hosts
	w = getPage(t, s, "GET", "http://feature-x-dot-fileset-test.appspot.com/", authHeaders)
	expectResponse(t, w, http.StatusOK, "<html>feature</html>")

	//a branch without deployments yields a 404
	w = getPage(t, s, "GET", "http://no-such-branch-dot-fileset-test.appspot.com/", authHeaders)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for undeployed branch, got %d", w.Code)
	}

	//the production host does not require auth
	w = getPage(t, s, "GET", "http://example.com/", nil)
	expectResponse(t, w, http.StatusOK, "<html>home</html>")
}

func TestPinnedManifestHost(t *testing.T) {
	s := test.NewSetup(t)
	firstID := deploySite(t, s, "master", map[string]string{
		"/index.html": "<html>version one</html>",
	})
	deploySite(t, s, "master", map[string]string{
		"/index.html": "<html>version two</html>",
	})

	if firstID != 1 {
		t.Fatalf("expected first manifest to have ID 1, got %d", firstID)
	}

	//production serves the current branch pointer
	w := getPage(t, s, "GET", "http://example.com/", nil)
	expectResponse(t, w, http.StatusOK, "<html>version two</html>")

	//a manifest-<id> host pins the old manifest
	authHeaders := map[string]string{"X-Test-User": "user@example.com"}
	w = getPage(t, s, "GET", "http://manifest-1-dot-fileset-test.appspot.com/", authHeaders)
	expectResponse(t, w, http.StatusOK, "<html>version one</html>")

	//a pinned manifest that does not exist yields a 404
	w = getPage(t, s, "GET", "http://manifest-9999-dot-fileset-test.appspot.com/", authHeaders)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown manifest, got %d", w.Code)
	}
}

func TestRedirects(t *testing.T) {
	s := test.NewSetup(t, func(cfg *fileset.Configuration) {
		cfg.Redirects = []fileset.RedirectRule{
			{Code: 301, Source: "/old/", Dest: "/new/"},
			{Code: 302, Source: "/u/:name/", Dest: "/users/$name/"},
			{Code: 301, Source: "/legacy/*rest", Dest: "https://legacy.example.com/$rest"},
			{Code: 301, Source: "/promo/", Dest: "/landing/?utm_source=promo"},
			{Code: 0, Source: "/old/keep/", Dest: ""},
		}
	})
	deploySite(t, s, "master", map[string]string{
		"/old/keep/index.html": "<html>kept</html>",
	})

	expectRedirect := func(url string, code int, location string) {
		t.Helper()
		w := getPage(t, s, "GET", url, nil)
		if w.Code != code {
			t.Errorf("GET %s: expected status %d, got %d", url, code, w.Code)
		}
		if actual := w.Header().Get("Location"); actual != location {
			t.Errorf("GET %s: expected Location %q, got %q", url, location, actual)
		}
		if w.Header().Get("Cache-Control") != "no-cache" {
			t.Errorf("GET %s: redirect is missing Cache-Control: no-cache", url)
		}
	}

	expectRedirect("http://example.com/old/", 301, "/new/")
	//variables substitute into the target
	expectRedirect("http://example.com/u/jane/", 302, "/users/jane/")
	//wildcards capture the rest of the path
	expectRedirect("http://example.com/legacy/a/b.html", 301, "https://legacy.example.com/a/b.html")
	//the query string is preserved for relative targets
	expectRedirect("http://example.com/old/?a=1", 301, "/new/?a=1")
	//on a clash, the request's parameters win over the target's
	expectRedirect("http://example.com/promo/?utm_source=ad&x=2", 301, "/landing/?utm_source=ad&x=2")
	//absolute targets do not inherit the query string
	expectRedirect("http://example.com/legacy/a.html?q=1", 301, "https://legacy.example.com/a.html")

	//"no-redirect" rules shadow broader patterns
	w := getPage(t, s, "GET", "http://example.com/old/keep/", nil)
	expectResponse(t, w, http.StatusOK, "<html>kept</html>")
}

func TestCanonicalDomain(t *testing.T) {
	s := test.NewSetup(t, func(cfg *fileset.Configuration) {
		cfg.CanonicalDomain = "www.example.com"
	})
	deploySite(t, s, "master", map[string]string{
		"/index.html": "<html>home</html>",
	})

	//other production domains redirect to the canonical one
	w := getPage(t, s, "GET", "http://example.com/foo/?a=1", nil)
	expectStatus(t, w, http.StatusFound)
	if location := w.Header().Get("Location"); location != "http://www.example.com/foo/?a=1" {
		t.Errorf("expected canonical redirect, got %q", location)
	}
	if w.Header().Get("Cache-Control") != "no-cache" {
		t.Error("redirect is missing Cache-Control: no-cache")
	}

	//the canonical domain itself serves normally
	w = getPage(t, s, "GET", "http://www.example.com/", nil)
	expectResponse(t, w, http.StatusOK, "<html>home</html>")

	//staging hosts are exempt
	w = getPage(t, s, "GET", "http://fileset-test.appspot.com/", map[string]string{
		"X-Test-User": "user@example.com",
	})
	expectResponse(t, w, http.StatusOK, "<html>home</html>")
}

func TestHTTPSUpgrade(t *testing.T) {
	s := test.NewSetup(t)
	deploySite(t, s, "master", map[string]string{
		"/index.html": "<html>home</html>",
	})

	//plain HTTP serves by default
	w := getPage(t, s, "GET", "http://example.com/", nil)
	expectResponse(t, w, http.StatusOK, "<html>home</html>")

	//browsers that ask for the upgrade get it
	w = getPage(t, s, "GET", "http://example.com/foo/", map[string]string{
		"Upgrade-Insecure-Requests": "1",
	})
	expectStatus(t, w, http.StatusFound)
	if location := w.Header().Get("Location"); location != "https://example.com/foo/" {
		t.Errorf("expected HTTPS redirect, got %q", location)
	}

	//requests that already came in via HTTPS are not redirected again
	w = getPage(t, s, "GET", "http://example.com/", map[string]string{
		"Upgrade-Insecure-Requests": "1",
		"X-Forwarded-Proto":         "https",
	})
	expectResponse(t, w, http.StatusOK, "<html>home</html>")
}

func TestRequireHTTPS(t *testing.T) {
	s := test.NewSetup(t, func(cfg *fileset.Configuration) {
		cfg.RequireHTTPS = true
	})
	deploySite(t, s, "master", map[string]string{
		"/index.html": "<html>home</html>",
	})

	w := getPage(t, s, "GET", "http://example.com/", nil)
	expectStatus(t, w, http.StatusFound)
	if location := w.Header().Get("Location"); location != "https://example.com/" {
		t.Errorf("expected HTTPS redirect, got %q", location)
	}
}

func TestMalformedEscapePath(t *testing.T) {
	s := test.NewSetup(t)

	r := httptest.NewRequest("GET", "http://example.com/", nil)
	r.URL.RawPath = "/%ff"
	r.URL.Path = "/\xff"
	w := httptest.NewRecorder()
	s.Handler.ServeHTTP(w, r)
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	if location := w.Header().Get("Location"); location != "/" {
		t.Errorf("expected redirect to /, got %q", location)
	}
}
