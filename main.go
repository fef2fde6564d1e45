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

package main

import (
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	apicmd "github.com/filesetd/fileset/cmd/api"
	deploycmd "github.com/filesetd/fileset/cmd/deploy"
	janitorcmd "github.com/filesetd/fileset/cmd/janitor"
	"github.com/filesetd/fileset/internal/fileset"

	//include all known driver implementations
	_ "github.com/filesetd/fileset/internal/drivers/filesystem"
	_ "github.com/filesetd/fileset/internal/drivers/gcs"
	_ "github.com/filesetd/fileset/internal/drivers/inmemory"
	_ "github.com/filesetd/fileset/internal/drivers/swift"
	_ "github.com/filesetd/fileset/internal/drivers/trustedheader"
)

func main() {
	logg.ShowDebug = osext.GetenvBool("FILESET_DEBUG")

	rootCmd := &cobra.Command{
		Use:     "fileset",
		Short:   "Content-addressed static site host",
		Long:    "Fileset is a content-addressed static site host with branch previews and timed deploys. This binary contains both the server and client implementation.",
		Version: fileset.Version,
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	deploycmd.AddCommandTo(rootCmd)

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Server commands.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	apicmd.AddCommandTo(serverCmd)
	janitorcmd.AddCommandTo(serverCmd)
	rootCmd.AddCommand(serverCmd)

	if err := rootCmd.Execute(); err != nil {
		logg.Fatal(err.Error())
	}
}
