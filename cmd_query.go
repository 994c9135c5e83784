package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/app"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/retrieval"
)

var (
	queryCategories []string
	queryFrom       string
	queryTo         string
	queryJSON       bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search indexed documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		deps, err := app.Bootstrap(ctx, cfg)
		if err != nil {
			return err
		}
		defer deps.Close()

		svc := app.NewRetrieval(cfg, deps.Embedder, deps.Index, nil)
		res, err := svc.Query(ctx, buildRequest(args[0], queryCategories, queryFrom, queryTo))
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		return printResponse(cmd, res, queryJSON)
	},
}

func init() {
	queryCmd.Flags().StringSliceVar(&queryCategories, "category", nil, "restrict to a category (repeatable)")
	queryCmd.Flags().StringVar(&queryFrom, "from", "", "earliest publication date (YYYY-MM-DD)")
	queryCmd.Flags().StringVar(&queryTo, "to", "", "latest publication date (YYYY-MM-DD)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output the full response as JSON")
	rootCmd.AddCommand(queryCmd)
}

func buildRequest(q string, categories []string, from, to string) retrieval.Request {
	req := retrieval.Request{Query: q}
	if len(categories) > 0 || from != "" || to != "" {
		req.Filters = &retrieval.RequestFilters{Categories: categories, StartDate: from, EndDate: to}
	}
	return req
}

func printResponse(cmd *cobra.Command, res retrieval.Response, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	if !res.Success {
		return errors.New(res.Error)
	}

	if len(res.Documents) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	cmd.Println("Results:")
	cmd.Println()
	for i, d := range res.Documents {
		title := d.Metadata.Title
		if title == "" {
			title = d.Metadata.FileName
		}
		score := float32(0)
		if d.RelevanceScore != nil {
			score = *d.RelevanceScore
		}
		cmd.Printf("  [%d] %s (%.2f)\n", i+1, title, score)
		cmd.Printf("      %s | %s\n", d.Metadata.Category, d.Metadata.Date)
		cmd.Printf("      %s\n", d.Metadata.URL)
		cmd.Println()
	}
	return nil
}
