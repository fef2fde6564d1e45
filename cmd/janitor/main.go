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

package janitorcmd

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	"github.com/filesetd/fileset/internal/fileset"
	"github.com/filesetd/fileset/internal/tasks"
)

//AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Run the fileset-janitor server component.",
		Long:  "Run the fileset-janitor server component (timed deploy promotion). Configuration is read from environment variables as described in README.md.",
		Args:  cobra.NoArgs,
		Run:   run,
	}
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, args []string) {
	fileset.Component = "fileset-janitor"

	dbURL := fileset.GetDatabaseURLFromEnvironment()
	dbConn := must.Return(easypg.Connect(dbURL, fileset.DBConfiguration()))
	prometheus.MustRegister(sqlstats.NewStatsCollector("fileset", dbConn))
	db := fileset.InitORM(dbConn)

	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)

	//start task loops
	janitor := tasks.NewJanitor(db)
	go jobLoop(janitor.PromoteNextTimedDeploy)

	//start HTTP server for Prometheus metrics and health check
	handler := httpapi.Compose(httpapi.HealthCheckAPI{SkipRequestLog: true})
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.Handler())
	listenAddress := osext.GetenvOrDefault("FILESET_JANITOR_LISTEN_ADDRESS", ":8080")
	must.Succeed(httpext.ListenAndServeContext(ctx, listenAddress, mux))
}

//Execute a task repeatedly, but slow down when sql.ErrNoRows is returned by
//it. (Tasks use this error value to indicate that nothing needs to be done
//right now, so we can back off a bit to avoid useless database load.)
func jobLoop(task func() error) {
	for {
		err := task()
		switch err {
		case nil:
			//nothing to do here
		case sql.ErrNoRows:
			//nothing to do right now - slow down a bit to avoid useless DB polling
			time.Sleep(10 * time.Second)
		default:
			logg.Error(err.Error())
			//slow down a bit after an error to avoid hammering the DB during outages
			time.Sleep(2 * time.Second)
		}
	}
}
