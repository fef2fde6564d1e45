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

//Package tasks contains the background jobs run by the janitor process.
package tasks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/filesetd/fileset/internal/fileset"
	"github.com/filesetd/fileset/internal/manifests"
)

var promotedDeploysCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "fileset_promoted_timed_deploys_total",
	Help: "Number of timed deploys promoted by the janitor.",
})

func init() {
	prometheus.MustRegister(promotedDeploysCounter)
}

//Janitor contains the state for all background jobs.
type Janitor struct {
	db      *fileset.DB
	timeNow func() time.Time
}

//NewJanitor creates a Janitor instance.
func NewJanitor(db *fileset.DB) *Janitor {
	return &Janitor{db: db, timeNow: time.Now}
}

//OverrideTimeNow replaces time.Now with a test double.
func (j *Janitor) OverrideTimeNow(timeNow func() time.Time) *Janitor {
	j.timeNow = timeNow
	return j
}

//PromoteNextTimedDeploy flips the branch pointer for the oldest due timed
//deploy. Returns sql.ErrNoRows when no deploys are due, which the job loop
//translates into a sleep. The HTTP cron endpoint drives the same promotion
//logic, so running both is safe.
func (j *Janitor) PromoteNextTimedDeploy() error {
	_, err := manifests.PromoteNextDueDeploy(j.db, j.timeNow())
	if err == nil {
		promotedDeploysCounter.Inc()
	}
	return err
}
