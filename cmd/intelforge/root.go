// Package main provides the intelforge CLI: single-shot investigations and
// source inspection without a running server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "intelforge",
	Short: "OSINT discovery and correlation engine",
	Long: "IntelForge runs multi-source OSINT investigations: it collects raw\n" +
		"records from configured sources, normalizes and validates the extracted\n" +
		"findings, then correlates them into confidence-scored entities.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(investigateCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
