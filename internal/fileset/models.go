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
	"time"

	gorp "gopkg.in/gorp.v2"
)

//Manifest contains a record from the `manifests` table. Manifests are
//immutable once written; branches point at them.
type Manifest struct {
	ID         int64     `db:"id"`
	CommitJSON string    `db:"commit_json"`
	PathsJSON  string    `db:"paths_json"`
	CreatedAt  time.Time `db:"created"`
}

//Paths decodes the path -> content hash mapping of this manifest.
func (m Manifest) Paths() (map[string]string, error) {
	paths := make(map[string]string)
	err := json.Unmarshal([]byte(m.PathsJSON), &paths)
	return paths, err
}

//Commit decodes the commit metadata of this manifest.
func (m Manifest) Commit() (CommitInfo, error) {
	var commit CommitInfo
	err := json.Unmarshal([]byte(m.CommitJSON), &commit)
	return commit, err
}

//CommitInfo appears in Manifest.
type CommitInfo struct {
	Sha     string `json:"sha"`
	Message string `json:"message"`
}

//Branch contains a record from the `branches` table.
type Branch struct {
	Name       string `db:"name"`
	ManifestID int64  `db:"manifest_id"`
}

//TimedDeploy contains a record from the `timed_deploys` table. DeployedAt is
//nil until the janitor (or the cron endpoint) promotes the deploy.
type TimedDeploy struct {
	Branch          string     `db:"branch"`
	ManifestID      int64      `db:"manifest_id"`
	DeployTimestamp int64      `db:"deploy_timestamp"`
	CreatedAt       time.Time  `db:"created"`
	DeployedAt      *time.Time `db:"deployed"`
}

//Token contains a record from the `tokens` table.
type Token struct {
	Token       string     `db:"token"`
	Description string     `db:"description"`
	CreatedBy   string     `db:"created_by"`
	CreatedAt   time.Time  `db:"created"`
	LastUsedAt  *time.Time `db:"last_used"`
}

func initModels(db *gorp.DbMap) {
	db.AddTableWithName(Manifest{}, "manifests").SetKeys(true, "id")
	db.AddTableWithName(Branch{}, "branches").SetKeys(false, "name")
	db.AddTableWithName(TimedDeploy{}, "timed_deploys").SetKeys(false, "branch")
	db.AddTableWithName(Token{}, "tokens").SetKeys(false, "token")
}
