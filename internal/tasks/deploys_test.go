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

package tasks_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/must"

	"github.com/filesetd/fileset/internal/fileset"
	"github.com/filesetd/fileset/internal/manifests"
	"github.com/filesetd/fileset/internal/tasks"
	"github.com/filesetd/fileset/internal/test"
)

func TestMain(m *testing.M) {
	easypg.WithTestDB(m, func() int { return m.Run() })
}

func TestPromoteTimedDeploys(t *testing.T) {
	s := test.NewSetup(t)
	janitor := tasks.NewJanitor(s.DB).OverrideTimeNow(s.Clock.Now)

	manifestID := must.Return(manifests.Save(s.DB, fileset.CommitInfo{Message: "scheduled"}, map[string]string{
		"/index.html": "da39a3ee5e6b4b0d3255bfef95601890afd80709",
	}, s.Clock.Now()))

	deployAt := s.Clock.Now().Add(1 * time.Hour).Unix()
	must.Succeed(manifests.ScheduleDeploy(s.DB, "master", manifestID, deployAt, s.Clock.Now()))

	//before the deploy is due, there is nothing to do
	err := janitor.PromoteNextTimedDeploy()
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	manifest := must.Return(manifests.GetForBranch(s.DB, "master"))
	if manifest != nil {
		t.Fatal("branch pointer moved before the deploy was due")
	}

	//once due, the promotion flips the branch pointer
	s.Clock.StepBy(2 * time.Hour)
	err = janitor.PromoteNextTimedDeploy()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	manifest = must.Return(manifests.GetForBranch(s.DB, "master"))
	if manifest == nil || manifest.ID != manifestID {
		t.Fatalf("expected branch to point at manifest %d, got %+v", manifestID, manifest)
	}

	//promotion happens exactly once
	err = janitor.PromoteNextTimedDeploy()
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows on second run, got %v", err)
	}
}

func TestPromoteMultipleDeploysInOrder(t *testing.T) {
	s := test.NewSetup(t)
	janitor := tasks.NewJanitor(s.DB).OverrideTimeNow(s.Clock.Now)

	firstID := must.Return(manifests.Save(s.DB, fileset.CommitInfo{}, nil, s.Clock.Now()))
	secondID := must.Return(manifests.Save(s.DB, fileset.CommitInfo{}, nil, s.Clock.Now()))

	//scheduling again for the same branch replaces the pending deploy
	must.Succeed(manifests.ScheduleDeploy(s.DB, "master", firstID, s.Clock.Now().Add(1*time.Hour).Unix(), s.Clock.Now()))
	must.Succeed(manifests.ScheduleDeploy(s.DB, "master", secondID, s.Clock.Now().Add(2*time.Hour).Unix(), s.Clock.Now()))
	must.Succeed(manifests.ScheduleDeploy(s.DB, "staging", firstID, s.Clock.Now().Add(1*time.Hour).Unix(), s.Clock.Now()))

	s.Clock.StepBy(3 * time.Hour)

	//the oldest due deploy goes first
	must.Succeed(janitor.PromoteNextTimedDeploy())
	must.Succeed(janitor.PromoteNextTimedDeploy())
	err := janitor.PromoteNextTimedDeploy()
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows after both promotions, got %v", err)
	}

	manifest := must.Return(manifests.GetForBranch(s.DB, "master"))
	if manifest == nil || manifest.ID != secondID {
		t.Errorf("expected master to point at manifest %d, got %+v", secondID, manifest)
	}
	manifest = must.Return(manifests.GetForBranch(s.DB, "staging"))
	if manifest == nil || manifest.ID != firstID {
		t.Errorf("expected staging to point at manifest %d, got %+v", firstID, manifest)
	}
}
