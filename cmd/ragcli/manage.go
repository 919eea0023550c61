package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/ragcli/internal/cli"
	"github.com/hyperjump/ragcli/internal/models"
	"github.com/hyperjump/ragcli/pkg/utils"
	"github.com/spf13/cobra"
)

func newManageCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manage",
		Short: "Inspect and maintain indices and documents",
	}
	cmd.AddCommand(
		newStatusCmd(a),
		newListIndicesCmd(a),
		newListDocsCmd(a),
		newDeleteDocCmd(a),
		newDeleteIndexCmd(a),
	)
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check Ollama, models, the index and the upload directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFmt, err := cli.ParseFormat(format)
			if err != nil {
				return err
			}
			return cli.WriteStatus(a.out, a.statusChecks(cmd.Context()), outFmt)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

// statusChecks never fails; problems are reported as failed checks.
func (a *app) statusChecks(ctx context.Context) []cli.Check {
	var checks []cli.Check

	cfgDetail := "built-in defaults"
	if a.configPath != "" {
		cfgDetail = a.configPath
	}
	checks = append(checks, cli.Check{Name: "Config", OK: true, Detail: cfgDetail})

	admin := a.admin()
	if v, err := admin.Version(ctx); err != nil {
		checks = append(checks, cli.Check{Name: "Ollama", Detail: fmt.Sprintf("not reachable at %s: %v", a.cfg.Ollama.URL, err)})
	} else {
		c := cli.Check{Name: "Ollama", OK: true, Detail: fmt.Sprintf("version %s at %s", v, a.cfg.Ollama.URL)}
		if installed, err := admin.Models(ctx); err == nil {
			for _, m := range installed {
				c.Items = append(c.Items, fmt.Sprintf("%s (%s)", m.Name, utils.HumanBytes(m.Size)))
			}
		}
		checks = append(checks, c)
		checks = append(checks, a.modelCheck(ctx, "LLM model", a.cfg.LLM.Model))
		if a.cfg.Embedding.Provider == "ollama" {
			checks = append(checks, a.modelCheck(ctx, "Embedding model", a.cfg.Embedding.Model))
		}
	}
	if a.cfg.Embedding.Provider != "ollama" {
		checks = append(checks, cli.Check{
			Name: "Embedding model", OK: true,
			Detail: fmt.Sprintf("%s (%s, %d dims)", a.cfg.Embedding.Model, a.cfg.Embedding.Provider, a.cfg.Embedding.Dimensions),
		})
	}

	checks = append(checks, a.indexCheck(ctx))
	checks = append(checks, uploadDirCheck(a.cfg.Ingest.UploadDir))
	return checks
}

func (a *app) modelCheck(ctx context.Context, name, model string) cli.Check {
	ok, err := a.admin().HasModel(ctx, model)
	switch {
	case err != nil:
		return cli.Check{Name: name, Detail: err.Error()}
	case !ok:
		return cli.Check{Name: name, Detail: fmt.Sprintf("%s not installed (run: ollama pull %s)", model, model)}
	}
	return cli.Check{Name: name, OK: true, Detail: model}
}

func (a *app) indexCheck(ctx context.Context) cli.Check {
	name := "Index " + a.indexName
	cat, err := a.catalog()
	if err != nil {
		return cli.Check{Name: name, Detail: err.Error()}
	}
	if !cat.Exists(a.indexName) {
		return cli.Check{Name: name, Detail: "not created yet"}
	}
	stats, err := cat.Stats(ctx, a.indexName)
	if err != nil {
		return cli.Check{Name: name, Detail: err.Error()}
	}
	return cli.Check{
		Name: name,
		OK:   true,
		Detail: fmt.Sprintf("%d documents, %d chunks, %s backend, %d dims, %s",
			stats.Documents, stats.Chunks, stats.VectorBackend, stats.Dimensions, utils.HumanBytes(stats.DiskBytes)),
	}
}

func uploadDirCheck(dir string) cli.Check {
	if dir == "" {
		return cli.Check{Name: "Upload directory", OK: true, Detail: "copying disabled"}
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return cli.Check{Name: "Upload directory", OK: true, Detail: dir + " (empty)"}
	}
	if err != nil {
		return cli.Check{Name: "Upload directory", Detail: err.Error()}
	}
	c := cli.Check{Name: "Upload directory", OK: true}
	for _, e := range entries {
		if !e.IsDir() {
			c.Items = append(c.Items, e.Name())
		}
	}
	c.Detail = fmt.Sprintf("%s (%d files)", dir, len(c.Items))
	return c
}

func newListIndicesCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list-indices",
		Short: "List all indices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFmt, err := cli.ParseFormat(format)
			if err != nil {
				return err
			}
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			names, err := cat.List()
			if err != nil {
				return err
			}
			stats := make([]*models.IndexStats, 0, len(names))
			for _, name := range names {
				s, err := cat.Stats(cmd.Context(), name)
				if err != nil {
					// An index built with other dimensions still gets listed.
					s = &models.IndexStats{Name: name}
				}
				stats = append(stats, s)
			}
			return cli.WriteIndices(a.out, stats, a.indexName, outFmt)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func newListDocsCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list-docs",
		Short: "List the documents in the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFmt, err := cli.ParseFormat(format)
			if err != nil {
				return err
			}
			idx, err := a.openIndex(cmd.Context())
			if err != nil {
				return err
			}
			docs, err := idx.Documents(cmd.Context(), 0, 0)
			if err != nil {
				return err
			}
			return cli.WriteDocuments(a.out, idx.Name(), docs, outFmt)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func newDeleteDocCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-doc <filename>",
		Short: "Remove a document and its chunks from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filename := filepath.Base(args[0])
			idx, err := a.openIndex(cmd.Context())
			if err != nil {
				return err
			}
			if !yes && !cli.Confirm(a.in, a.out, fmt.Sprintf("Delete '%s' from index '%s'?", filename, idx.Name())) {
				cli.Dim(a.out, "Cancelled.")
				return nil
			}
			ing, err := a.indexer(idx)
			if err != nil {
				return err
			}
			n, err := ing.DeleteDocument(cmd.Context(), filename)
			if errors.Is(err, models.ErrDocumentNotFound) {
				cli.Warn(a.out, "'%s' is not in index '%s'", filename, idx.Name())
				return nil
			}
			if err != nil {
				return err
			}
			if dir := a.cfg.Ingest.UploadDir; dir != "" {
				if err := os.Remove(filepath.Join(dir, filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
					cli.Warn(a.errOut, "remove uploaded copy: %v", err)
				}
			}
			cli.Success(a.out, "Deleted '%s' (%d chunks)", filename, n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newDeleteIndexCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-idx [name]",
		Short: "Delete an index and everything in it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := a.indexName
			if len(args) == 1 {
				name = args[0]
			}
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			if !cat.Exists(name) {
				return fmt.Errorf("%w: %s", models.ErrIndexNotFound, name)
			}
			if !yes && !cli.Confirm(a.in, a.out, fmt.Sprintf("Delete index '%s' and all its documents?", name)) {
				cli.Dim(a.out, "Cancelled.")
				return nil
			}
			if err := cat.Delete(name); err != nil {
				return err
			}
			cli.Success(a.out, "Deleted index '%s'", name)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
