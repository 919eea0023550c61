package main

import (
	"strings"

	"github.com/hyperjump/ragcli/internal/cli"
	"github.com/hyperjump/ragcli/internal/models"
	"github.com/hyperjump/ragcli/internal/search"
	"github.com/spf13/cobra"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		topK     int
		mode     string
		fuzzy    bool
		filename string
		format   string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Long: `Search the index with hybrid (keyword + semantic), semantic or keyword ranking.
The query is all remaining arguments joined by spaces.

Examples:
  ragcli search "quarterly revenue"
  ragcli search --mode keyword --fuzzy revnue
  ragcli search --top-k 10 --format json install steps`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outFmt, err := cli.ParseFormat(format)
			if err != nil {
				return err
			}
			searchMode, err := models.ParseSearchMode(mode)
			if err != nil {
				return err
			}
			if mode == "" {
				searchMode = ""
			}
			idx, err := a.openIndex(cmd.Context())
			if err != nil {
				return err
			}
			emb, err := a.embedder()
			if err != nil {
				return err
			}
			query := &models.SearchQuery{
				Query:    strings.Join(args, " "),
				TopK:     topK,
				Mode:     searchMode,
				Fuzzy:    fuzzy,
				Filename: filename,
			}
			resp, err := search.ForIndex(idx, emb, &a.cfg.Search).Search(cmd.Context(), query)
			if err != nil {
				return err
			}
			return cli.WriteSearchResults(a.out, resp, outFmt)
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (default from config: 5)")
	cmd.Flags().StringVar(&mode, "mode", "", "semantic, keyword or hybrid (default from config)")
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "tolerate typos in keyword matching")
	cmd.Flags().StringVar(&filename, "filename", "", "only search this document")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}
