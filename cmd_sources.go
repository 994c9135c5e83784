package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

var sourcesJSON bool

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the configured origins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fileCfg, err := source.LoadFile(cfg.SourcesFile)
		if err != nil {
			return err
		}
		return printSources(cmd, fileCfg, sourcesJSON)
	},
}

func init() {
	sourcesCmd.Flags().BoolVar(&sourcesJSON, "json", false, "output origins as JSON")
	rootCmd.AddCommand(sourcesCmd)
}

func printSources(cmd *cobra.Command, fileCfg *source.FileConfig, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(fileCfg.Origins, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal origins: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(fileCfg.Origins) == 0 {
		cmd.Println("No origins configured.")
		return nil
	}
	for _, o := range fileCfg.Origins {
		cmd.Printf("  %-24s %-8s %s\n", o.ID, o.Kind, o.Category)
		switch o.Kind {
		case source.KindListing:
			cmd.Printf("      %s\n", o.ListingURL)
		case source.KindManual:
			cmd.Printf("      %d documents\n", len(o.Documents))
		}
	}
	return nil
}
