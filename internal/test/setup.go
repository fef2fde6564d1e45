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

//Package test contains the shared setup for all tests that exercise the HTTP
//APIs or the database.
package test

import (
	"net/http"
	"testing"

	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/mock"
	"github.com/sapcc/go-bits/must"

	"github.com/filesetd/fileset/internal/api/ingest"
	"github.com/filesetd/fileset/internal/api/serve"
	"github.com/filesetd/fileset/internal/blobs"
	"github.com/filesetd/fileset/internal/drivers/inmemory"
	"github.com/filesetd/fileset/internal/fileset"
	"github.com/filesetd/fileset/internal/tokens"
)

//Setup contains all the pieces that are needed for most tests.
type Setup struct {
	Config  fileset.Configuration
	DB      *fileset.DB
	Clock   *mock.Clock
	Storage *inmemory.StorageDriver
	Blobs   *blobs.Store
	Tokens  *tokens.Store
	//Handler serves both the ingest API and the public site, like the
	//fileset-api process does.
	Handler http.Handler
	//Token is a valid deploy token.
	Token string
}

//SetupOption changes the configuration that NewSetup builds the test
//environment from.
type SetupOption func(*fileset.Configuration)

//NewSetup prepares a fresh test environment: an empty test database, an
//in-memory object store, a deterministic clock and a composed HTTP handler.
func NewSetup(t *testing.T, opts ...SetupOption) Setup {
	t.Helper()

	cfg := fileset.Configuration{
		AppID:           "fileset-test",
		DefaultBranch:   "master",
		BlobBucket:      "fileset-test-blobs",
		IntlPathFormat:  fileset.DefaultIntlPathFormat,
		AuthorizedUsers: map[string]bool{},
		AuthorizedOrgs:  map[string]bool{"example.com": true},
		AdminUsers:      map[string]bool{"admin@example.com": true},
		ResponseHeaders: map[string]map[string]string{
			"html": {"X-Frame-Options": "deny"},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dbConn := easypg.ConnectForTest(t, fileset.DBConfiguration(),
		easypg.ClearTables("timed_deploys", "branches", "manifests", "tokens"),
		easypg.ResetPrimaryKeys("manifests"),
	)
	db := fileset.InitORM(dbConn)

	sd := must.Return(fileset.NewStorageDriver("in-memory-for-testing", cfg))
	identity := must.Return(fileset.NewIdentityDriver("unittest", cfg))
	clock := mock.NewClock()

	blobStore := blobs.NewStore(sd, cfg)
	tokenStore := tokens.NewStore(db)
	token, err := tokenStore.Create("test token", "test@example.com", clock.Now())
	if err != nil {
		t.Fatal(err)
	}

	handler := httpapi.Compose(
		ingest.NewAPI(cfg, db, blobStore, tokenStore, identity).OverrideTimeNow(clock.Now),
		//the catch-all for public serving comes last
		serve.NewAPI(cfg, db, blobStore, identity),
	)

	return Setup{
		Config:  cfg,
		DB:      db,
		Clock:   clock,
		Storage: sd.(*inmemory.StorageDriver),
		Blobs:   blobStore,
		Tokens:  tokenStore,
		Handler: handler,
		Token:   token,
	}
}
