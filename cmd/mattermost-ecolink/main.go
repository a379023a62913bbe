// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mattermost-ecolink bridges an Eco game server and a Mattermost
// team. It relays chat both ways, posts server activity to channels and
// links game accounts to Mattermost accounts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aiku/mattermost-ecolink/pkg/bridge"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "mattermost-ecolink <command>",
	Short:         "Eco game server to Mattermost bridge",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mattermost-ecolink %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
	},
}

var exampleConfigCmd = &cobra.Command{
	Use:   "example-config",
	Short: "Print the example configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), bridge.ExampleConfig)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(exampleConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
