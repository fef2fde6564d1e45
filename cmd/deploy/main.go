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

package deploycmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/spf13/cobra"

	"github.com/filesetd/fileset/internal/client"
)

var (
	serverFlag   string
	branchFlag   string
	tokenFlag    string
	messageFlag  string
	deployAtFlag string
	timezoneFlag string
	workersFlag  int
)

//AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "deploy <directory>",
		Short: "Upload a directory of rendered files to a fileset server.",
		Long: strings.TrimSpace(`
Upload a directory of rendered files to a fileset server and point a branch at
the resulting manifest. Only blobs that the server does not have yet are
uploaded; a local cache file (.fileset-cache.json) remembers previous uploads.
		`),
		Args: cobra.ExactArgs(1),
		Run:  run,
	}
	cmd.Flags().StringVar(&serverFlag, "server", "", "fileset server host, e.g. mysite.appspot.com (required)")
	cmd.Flags().StringVar(&branchFlag, "branch", "", "branch to deploy to (default: from FILESET_BRANCH_NAME, BRANCH_NAME or CI_COMMIT_REF_NAME)")
	cmd.Flags().StringVar(&tokenFlag, "token", "", "deploy token (default: from FILESET_TOKEN or .fileset.json)")
	cmd.Flags().StringVar(&messageFlag, "message", "", "commit message to record in the manifest")
	cmd.Flags().StringVar(&deployAtFlag, "deploy-at", "", `schedule the branch flip for later, format "2006-01-02 15:04"`)
	cmd.Flags().StringVar(&timezoneFlag, "timezone", "UTC", "IANA timezone for --deploy-at")
	cmd.Flags().IntVar(&workersFlag, "workers", 20, "number of concurrent blob uploads")
	cmd.MarkFlagRequired("server")
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, args []string) {
	dir := args[0]

	branch := branchFlag
	if branch == "" {
		branch = client.BranchFromEnvironment()
	}
	if branch == "" {
		branch = "master"
	}
	branch = client.NormalizeBranch(branch)

	token := must.Return(client.LoadToken(tokenFlag))

	var deployTimestamp *int64
	if deployAtFlag != "" {
		location := must.Return(time.LoadLocation(timezoneFlag))
		deployAt := must.Return(time.ParseInLocation("2006-01-02 15:04", deployAtFlag, location))
		ts := deployAt.Unix()
		deployTimestamp = &ts
	}

	deployer := client.NewDeployer(client.New(serverFlag, token))
	deployer.Workers = workersFlag

	commit := client.CommitFromEnvironment(messageFlag)
	manifestID, err := deployer.Deploy(dir, branch, commit, deployTimestamp)
	if err != nil {
		logg.Fatal(err.Error())
	}

	fmt.Println()
	fmt.Println("saved branch manifest:")
	fmt.Printf("  branch: %s\n", branch)
	fmt.Printf("  manifest id: %d\n", manifestID)
	if deployTimestamp != nil {
		fmt.Printf("  deploys at: %s\n", time.Unix(*deployTimestamp, 0).UTC().Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("url:")
	switch {
	case strings.HasPrefix(serverFlag, "localhost"):
		fmt.Printf("  http://%s\n", serverFlag)
	case branch == "master":
		fmt.Printf("  https://%s\n", serverFlag)
	default:
		fmt.Printf("  https://%s-dot-%s\n", branch, serverFlag)
	}
}
