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

package apicmd

import (
	"context"
	"net/http"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	"github.com/filesetd/fileset/internal/api/ingest"
	"github.com/filesetd/fileset/internal/api/serve"
	"github.com/filesetd/fileset/internal/blobs"
	"github.com/filesetd/fileset/internal/fileset"
	"github.com/filesetd/fileset/internal/tokens"
)

//AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Run the fileset-api server component.",
		Long:  "Run the fileset-api server component (ingest API and public serving). Configuration is read from environment variables as described in README.md.",
		Args:  cobra.NoArgs,
		Run:   run,
	}
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, args []string) {
	fileset.Component = "fileset-api"

	cfg := fileset.ParseConfiguration()
	dbURL := fileset.GetDatabaseURLFromEnvironment()
	dbConn := must.Return(easypg.Connect(dbURL, fileset.DBConfiguration()))
	prometheus.MustRegister(sqlstats.NewStatsCollector("fileset", dbConn))
	db := fileset.InitORM(dbConn)

	sd := must.Return(fileset.NewStorageDriver(osext.MustGetenv("FILESET_DRIVER_STORAGE"), cfg))
	id := must.Return(fileset.NewIdentityDriver(osext.GetenvOrDefault("FILESET_DRIVER_IDENTITY", "trusted-header"), cfg))
	blobStore := blobs.NewStore(sd, cfg)
	tokenStore := tokens.NewStore(db)

	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)

	handler := httpapi.Compose(
		ingest.NewAPI(cfg, db, blobStore, tokenStore, id),
		httpapi.HealthCheckAPI{
			SkipRequestLog: true,
			Check: func() error {
				return db.Db.PingContext(ctx)
			},
		},
		//This needs to be at the end because it is the fallback match for all
		//paths that are not otherwise defined.
		serve.NewAPI(cfg, db, blobStore, id),
	)
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.Handler())

	apiListenAddress := osext.GetenvOrDefault("FILESET_API_LISTEN_ADDRESS", ":8080")
	must.Succeed(httpext.ListenAndServeContext(ctx, apiListenAddress, mux))
}
