package cmd

import (
	"fmt"

	"github.com/spigell/pds-matcher/internal/ranking"

	"github.com/spf13/cobra"
)

// Actual version can be specified in build command.
var version = "unknown"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and the scoring algorithm",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("%s version: %s, scoring algorithm: %s\n", app, version, ranking.Algorithm)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
