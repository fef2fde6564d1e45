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
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
)

//Configuration contains all configuration values that are not specific to a
//certain driver. It is parsed once at process start and treated as immutable
//afterwards.
type Configuration struct {
	//AppID names this deployment. Staging hosts have the form
	//<branch>-dot-<AppID>.appspot.com.
	AppID string
	//DefaultBranch is served for all production requests.
	DefaultBranch string
	//CanonicalDomain, if set, causes production requests for other domains to
	//be redirected there.
	CanonicalDomain string
	//RequireAuth extends the staging auth gate to all environments.
	RequireAuth bool
	//RequireHTTPS upgrades all non-dev plain-HTTP requests.
	RequireHTTPS bool
	//DevServer marks a local development process. It disables API token auth
	//and the HTTPS upgrade.
	DevServer bool
	//BlobBucket is the bucket (or container) name that appears in external
	//blob keys, i.e. "/<bucket>/blobs/<sha>".
	BlobBucket string
	//IntlPathFormat is the template for localized path candidates.
	IntlPathFormat string

	AuthorizedUsers map[string]bool
	AuthorizedOrgs  map[string]bool
	AdminUsers      map[string]bool

	//ResponseHeaders maps a file extension (currently only "html" is
	//consulted) to extra headers set on responses for such files.
	ResponseHeaders map[string]map[string]string
	//Redirects is evaluated by the serving middleware before content lookup.
	Redirects []RedirectRule
}

//RedirectRule is one entry in Configuration.Redirects. A Code of 0 means
//"no-redirect", which shadows wildcard rules for specific paths.
type RedirectRule struct {
	Code   int
	Source string
	Dest   string
}

//UnmarshalJSON implements the json.Unmarshaler interface. Rules are written
//as triples like [302, "/old/:slug", "/new/$slug/"] or
//["no-redirect", "/old/special/", null].
func (r *RedirectRule) UnmarshalJSON(buf []byte) error {
	var fields []json.RawMessage
	err := json.Unmarshal(buf, &fields)
	if err != nil {
		return err
	}
	if len(fields) != 3 {
		return fmt.Errorf("expected 3 elements in redirect rule, got %d", len(fields))
	}

	var code int
	if err := json.Unmarshal(fields[0], &code); err != nil {
		var codeStr string
		if err := json.Unmarshal(fields[0], &codeStr); err != nil {
			return fmt.Errorf("malformed redirect code: %s", string(fields[0]))
		}
		if codeStr != "no-redirect" {
			return fmt.Errorf("unknown redirect code: %q", codeStr)
		}
		code = 0
	}
	if code != 0 && code != 301 && code != 302 {
		return fmt.Errorf("unsupported redirect code: %d", code)
	}
	r.Code = code

	if err := json.Unmarshal(fields[1], &r.Source); err != nil {
		return err
	}
	//dest may be null for no-redirect rules
	if string(fields[2]) != "null" {
		if err := json.Unmarshal(fields[2], &r.Dest); err != nil {
			return err
		}
	}
	return nil
}

//DefaultIntlPathFormat is used when FILESET_INTL_PATH_FORMAT is not set.
const DefaultIntlPathFormat = "/intl/{locale}{path}"

//ParseConfiguration obtains a fileset.Configuration instance from the
//corresponding environment variables. Aborts on error.
func ParseConfiguration() Configuration {
	logg.Debug("parsing configuration...")

	cfg := Configuration{
		AppID:           osext.MustGetenv("FILESET_APP_ID"),
		DefaultBranch:   osext.GetenvOrDefault("FILESET_DEFAULT_BRANCH", "master"),
		CanonicalDomain: os.Getenv("FILESET_CANONICAL_DOMAIN"),
		RequireAuth:     osext.GetenvBool("FILESET_REQUIRE_AUTH"),
		RequireHTTPS:    osext.GetenvBool("FILESET_REQUIRE_HTTPS"),
		DevServer:       osext.GetenvBool("FILESET_DEV_SERVER"),
		BlobBucket:      osext.MustGetenv("FILESET_BLOB_BUCKET"),
		IntlPathFormat:  osext.GetenvOrDefault("FILESET_INTL_PATH_FORMAT", DefaultIntlPathFormat),
		AuthorizedUsers: splitUserList(os.Getenv("FILESET_AUTHORIZED_USERS")),
		AuthorizedOrgs:  splitUserList(os.Getenv("FILESET_AUTHORIZED_ORGS")),
		AdminUsers:      splitUserList(os.Getenv("FILESET_ADMIN_USERS")),
	}

	cfg.ResponseHeaders = map[string]map[string]string{
		"html": {"X-Frame-Options": "deny"},
	}
	if val := os.Getenv("FILESET_RESPONSE_HEADERS"); val != "" {
		cfg.ResponseHeaders = nil
		err := json.Unmarshal([]byte(val), &cfg.ResponseHeaders)
		if err != nil {
			logg.Fatal("malformed FILESET_RESPONSE_HEADERS: %s", err.Error())
		}
	}

	if val := os.Getenv("FILESET_REDIRECTS"); val != "" {
		//a value starting with "@" names a JSON file instead
		if strings.HasPrefix(val, "@") {
			buf, err := os.ReadFile(strings.TrimPrefix(val, "@"))
			if err != nil {
				logg.Fatal("cannot read FILESET_REDIRECTS: %s", err.Error())
			}
			val = string(buf)
		}
		err := json.Unmarshal([]byte(val), &cfg.Redirects)
		if err != nil {
			logg.Fatal("malformed FILESET_REDIRECTS: %s", err.Error())
		}
	}

	return cfg
}

//IsAuthorized checks an email address against AuthorizedUsers/AuthorizedOrgs.
func (cfg Configuration) IsAuthorized(email string) bool {
	if cfg.AuthorizedUsers[email] {
		return true
	}
	fields := strings.Split(email, "@")
	org := fields[len(fields)-1]
	return cfg.AuthorizedOrgs[org]
}

func splitUserList(val string) map[string]bool {
	result := make(map[string]bool)
	for _, entry := range strings.Split(val, ",") {
		entry = strings.TrimSpace(strings.ToLower(entry))
		if entry != "" {
			result[entry] = true
		}
	}
	return result
}

//GetDatabaseURLFromEnvironment reads the FILESET_DB_* environment variables.
func GetDatabaseURLFromEnvironment() url.URL {
	return must.Return(easypg.URLFrom(easypg.URLParts{
		HostName:          osext.GetenvOrDefault("FILESET_DB_HOSTNAME", "localhost"),
		Port:              osext.GetenvOrDefault("FILESET_DB_PORT", "5432"),
		UserName:          osext.GetenvOrDefault("FILESET_DB_USERNAME", "postgres"),
		Password:          os.Getenv("FILESET_DB_PASSWORD"),
		ConnectionOptions: os.Getenv("FILESET_DB_CONNECTION_OPTIONS"),
		DatabaseName:      osext.GetenvOrDefault("FILESET_DB_NAME", "fileset"),
	}))
}
