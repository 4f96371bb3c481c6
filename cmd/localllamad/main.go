package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "localllamad",
	Short:        "Local LLaMA chat server",
	Long:         "localllamad serves a local GGUF LLaMA model over HTTP with streaming chat and single-shot ask endpoints.",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
