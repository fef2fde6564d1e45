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

//Package manifests maintains the manifest records, the branch pointers and
//the timed deploy queue.
package manifests

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/filesetd/fileset/internal/fileset"
)

//Save stores a new manifest and returns its ID. Manifests are immutable:
//re-deploying identical content produces a new record.
func Save(db *fileset.DB, commit fileset.CommitInfo, paths map[string]string, now time.Time) (int64, error) {
	commitJSON, err := json.Marshal(commit)
	if err != nil {
		return 0, err
	}
	pathsJSON, err := json.Marshal(paths)
	if err != nil {
		return 0, err
	}

	manifest := &fileset.Manifest{
		CommitJSON: string(commitJSON),
		PathsJSON:  string(pathsJSON),
		CreatedAt:  now,
	}
	err = db.Insert(manifest)
	return manifest.ID, err
}

//Get returns the manifest with that ID, or nil if it does not exist.
func Get(db *fileset.DB, id int64) (*fileset.Manifest, error) {
	var manifest fileset.Manifest
	err := db.SelectOne(&manifest, `SELECT * FROM manifests WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &manifest, err
}

//GetForBranch returns the manifest that the branch pointer references, or nil
//if the branch does not exist.
func GetForBranch(db *fileset.DB, branch string) (*fileset.Manifest, error) {
	var manifest fileset.Manifest
	err := db.SelectOne(&manifest, `
		SELECT m.* FROM manifests m JOIN branches b ON b.manifest_id = m.id WHERE b.name = $1
	`, branch)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &manifest, err
}

var setBranchQuery = sqlext.SimplifyWhitespace(`
	INSERT INTO branches (name, manifest_id) VALUES ($1, $2)
	ON CONFLICT (name) DO UPDATE SET manifest_id = EXCLUDED.manifest_id
`)

//SetBranch makes the branch serve the given manifest, effective immediately.
func SetBranch(db *fileset.DB, branch string, manifestID int64) error {
	_, err := db.Exec(setBranchQuery, branch, manifestID)
	return err
}

var scheduleDeployQuery = sqlext.SimplifyWhitespace(`
	INSERT INTO timed_deploys (branch, manifest_id, deploy_timestamp, created, deployed)
	VALUES ($1, $2, $3, $4, NULL)
	ON CONFLICT (branch) DO UPDATE
	SET manifest_id = EXCLUDED.manifest_id, deploy_timestamp = EXCLUDED.deploy_timestamp,
	    created = EXCLUDED.created, deployed = NULL
`)

//ScheduleDeploy records that the branch shall start serving the given
//manifest at `deployTimestamp` (UNIX seconds). At most one pending timed
//deploy exists per branch; scheduling again replaces it.
func ScheduleDeploy(db *fileset.DB, branch string, manifestID, deployTimestamp int64, now time.Time) error {
	_, err := db.Exec(scheduleDeployQuery, branch, manifestID, deployTimestamp, now)
	return err
}

var promoteSearchQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM timed_deploys
	WHERE deploy_timestamp < $1 AND deployed IS NULL
	ORDER BY deploy_timestamp LIMIT 1
`)

//PromoteNextDueDeploy finds the oldest due timed deploy, flips its branch
//pointer and marks it as deployed. Returns sql.ErrNoRows when no deploys are
//due. Deploys claimed by a concurrent process are skipped, so promotion is
//idempotent between the janitor and the cron endpoint.
func PromoteNextDueDeploy(db *fileset.DB, now time.Time) (fileset.TimedDeploy, error) {
	//"due" means deploy_timestamp < now+1, i.e. deploys scheduled for this
	//very second are already included
	cutoff := now.Unix() + 1

	for {
		var deploy fileset.TimedDeploy
		err := db.SelectOne(&deploy, promoteSearchQuery, cutoff)
		if err != nil {
			return fileset.TimedDeploy{}, err
		}

		claimed, err := promoteDeploy(db, deploy, now)
		if err != nil {
			return fileset.TimedDeploy{}, err
		}
		if claimed {
			logg.Info("promoted timed deploy: branch %q -> manifest %d", deploy.Branch, deploy.ManifestID)
			return deploy, nil
		}
		//someone else claimed this row between our SELECT and UPDATE; the
		//next iteration will not see it anymore since `deployed` is now set
	}
}

func promoteDeploy(db *fileset.DB, deploy fileset.TimedDeploy, now time.Time) (claimed bool, err error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	result, err := tx.Exec(
		`UPDATE timed_deploys SET deployed = $1 WHERE branch = $2 AND deployed IS NULL`,
		now, deploy.Branch,
	)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, nil
	}

	_, err = tx.Exec(setBranchQuery, deploy.Branch, deploy.ManifestID)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}
