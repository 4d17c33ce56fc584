package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/intelforge/internal/source"
)

var sourcesFlags struct {
	catalogPath string
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the configured intelligence sources",
	RunE:  runSources,
}

func init() {
	sourcesCmd.Flags().StringVar(&sourcesFlags.catalogPath, "catalog", "", "Source catalog YAML (built-ins when empty)")
}

func runSources(cmd *cobra.Command, _ []string) error {
	definitions := source.DefaultDefinitions()
	if sourcesFlags.catalogPath != "" {
		catalog := source.NewCatalog(zap.NewNop())
		if err := catalog.LoadFile(sourcesFlags.catalogPath); err != nil {
			return err
		}
		definitions = catalog.All()
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-14s %-5s %-9s %-6s %-6s %s\n", "ID", "TIER", "RATE/MIN", "PROXY", "KEY", "ENTITY TYPES")
	for _, def := range definitions {
		types := make([]string, 0, len(def.EntityTypes))
		for _, t := range def.EntityTypes {
			types = append(types, string(t))
		}
		key := "-"
		if def.APIKeyEnv != "" {
			key = def.APIKeyEnv
		}
		fmt.Fprintf(out, "%-14s %-5d %-9d %-6v %-6s %s\n",
			def.ID, def.Tier, def.RatePerMinute, def.RequiresProxy, key, strings.Join(types, ","))
	}
	return nil
}
