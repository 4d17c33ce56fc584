package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lvonguyen/intelforge/internal/patterns"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <target description>",
	Short: "Show the target class a description would be submitted under",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := strings.Join(args, " ")
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", patterns.ClassifyTarget(target))
		return nil
	},
}
