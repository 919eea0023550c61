package main

import (
	"fmt"
	"os"

	"github.com/hyperjump/ragcli/internal/cli"
	"github.com/hyperjump/ragcli/internal/indexer"
	"github.com/hyperjump/ragcli/internal/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newUploadCmd(a *app) *cobra.Command {
	var (
		noCopy bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Ingest files or directories into the index",
		Long: `Extract, chunk and embed documents and store them in the index.
Directories are walked recursively. A file that has not changed since it was
last ingested is skipped; a changed file replaces its previous version.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outFmt, err := cli.ParseFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			idx, err := cat.OpenOrCreate(ctx, a.indexName)
			if err != nil {
				return err
			}
			var opts []indexer.IndexerOption
			if noCopy {
				opts = append(opts, indexer.WithCopyUploads(false))
			}
			ing, err := a.indexer(idx, opts...)
			if err != nil {
				return err
			}

			var paths []string
			var results []*models.IngestResult
			for _, arg := range args {
				info, err := os.Stat(arg)
				if err != nil {
					results = append(results, &models.IngestResult{Path: arg, Err: err, Error: err.Error()})
					continue
				}
				if !info.IsDir() {
					paths = append(paths, arg)
					continue
				}
				found, err := ing.CollectFiles(arg)
				if err != nil {
					return err
				}
				if len(found) == 0 {
					cli.Warn(a.errOut, "%s: no supported files", arg)
				}
				paths = append(paths, found...)
			}
			a.logger.Debug("upload starting", zap.String("index", idx.Name()), zap.Int("files", len(paths)))
			results = append(results, ing.IngestFiles(ctx, paths)...)

			if err := cli.WriteIngestResults(a.out, idx.Name(), results, outFmt); err != nil {
				return err
			}
			if n := len(results); n > 0 && indexer.IsFatal(results[n-1].Err) {
				return results[n-1].Err
			}
			if ctx.Err() != nil {
				return fmt.Errorf("upload interrupted after %d of %d files", len(results), len(paths))
			}
			if sum := cli.Summarize(results); sum.Failed > 0 {
				return fmt.Errorf("%d of %d files failed", sum.Failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCopy, "no-copy", false, "do not copy ingested files into the upload directory")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}
