package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tokligence/localllama/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "localllamad %s\n", version.FullInfo())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
