// Package main is the ragcli entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperjump/ragcli/internal/catalog"
	"github.com/hyperjump/ragcli/internal/cli"
	"github.com/hyperjump/ragcli/internal/config"
	"github.com/hyperjump/ragcli/internal/embedding"
	"github.com/hyperjump/ragcli/internal/extract"
	"github.com/hyperjump/ragcli/internal/indexer"
	"github.com/hyperjump/ragcli/internal/llm"
	"github.com/hyperjump/ragcli/internal/models"
	"github.com/hyperjump/ragcli/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

// app holds what every command needs. Heavy pieces are built on first use.
type app struct {
	configFlag string
	indexFlag  string
	debug      bool

	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	indexName  string

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	emb embedding.Embedder
	cat *catalog.Catalog
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	a := &app{in: in, out: out, errOut: errOut}
	defer a.close()
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.ExecuteContext(ctx); err != nil {
		a.report(err)
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ragcli",
		Short:         "Chat with your documents using a local LLM",
		Long:          "ragcli ingests PDFs and other documents into a local index and answers questions about them with a local Ollama model.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configFlag, "config", "", "config file (default ./config.yaml, then ~/.config/ragcli/config.yaml)")
	root.PersistentFlags().StringVar(&a.indexFlag, "index-name", "", "index to use (default from config: rag_index)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging on stderr")

	root.AddCommand(
		newUploadCmd(a),
		newSearchCmd(a),
		newChatCmd(a),
		newManageCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newMCPCmd(a),
		newVersionCmd(a),
	)
	return root
}

// load reads .env and the config file and builds the logger.
func (a *app) load() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, path, err := config.Resolve(a.configFlag)
	if err != nil {
		return err
	}
	if a.debug {
		cfg.Debug = true
	}
	logger, err := utils.NewLogger(cfg.Debug, cfg.Log.File)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.cfg, a.configPath, a.logger = cfg, path, logger

	a.indexName = cfg.Index.Default
	if a.indexFlag != "" {
		a.indexName = a.indexFlag
	}
	if !config.ValidIndexName(a.indexName) {
		return fmt.Errorf("%w: %q", models.ErrInvalidIndexName, a.indexName)
	}
	logger.Debug("config loaded",
		zap.String("config_path", path),
		zap.String("index", a.indexName),
		zap.String("data_dir", cfg.DataDir),
	)
	return nil
}

func (a *app) embedder() (embedding.Embedder, error) {
	if a.emb != nil {
		return a.emb, nil
	}
	emb, err := embedding.New(a.cfg.Embedding, a.cfg.Ollama, a.logger)
	if err != nil {
		return nil, err
	}
	a.emb = emb
	return emb, nil
}

func (a *app) catalog() (*catalog.Catalog, error) {
	if a.cat != nil {
		return a.cat, nil
	}
	emb, err := a.embedder()
	if err != nil {
		return nil, err
	}
	cat, err := catalog.New(a.cfg.DataDir, catalog.Options{
		Backend:        a.cfg.Index.VectorBackend,
		Dimensions:     emb.Dimensions(),
		EmbeddingModel: a.cfg.Embedding.Model,
		Logger:         a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.cat = cat
	return cat, nil
}

// openIndex opens the selected index, which must exist.
func (a *app) openIndex(ctx context.Context) (*catalog.Index, error) {
	cat, err := a.catalog()
	if err != nil {
		return nil, err
	}
	return cat.Open(ctx, a.indexName)
}

func (a *app) extractor() *extract.Extractor {
	ocr := a.cfg.Ingest.OCR
	return extract.NewExtractor(
		extract.WithOCR(extract.NewOCR(ocr.Enabled, ocr.Language, ocr.DPI)),
		extract.WithLogger(a.logger),
	)
}

func (a *app) indexer(idx *catalog.Index, opts ...indexer.IndexerOption) (*indexer.Indexer, error) {
	emb, err := a.embedder()
	if err != nil {
		return nil, err
	}
	opts = append([]indexer.IndexerOption{indexer.WithLogger(a.logger)}, opts...)
	return indexer.NewIndexer(idx, emb, a.extractor(), &a.cfg.Ingest, opts...)
}

func (a *app) ollamaTimeout() time.Duration {
	return time.Duration(a.cfg.Ollama.TimeoutSeconds) * time.Second
}

func (a *app) chatClient() (*llm.OllamaClient, error) {
	return llm.NewOllamaClient(a.cfg.Ollama.URL, a.cfg.LLM.Model, a.ollamaTimeout(), a.logger)
}

func (a *app) admin() *llm.Admin {
	return llm.NewAdmin(a.cfg.Ollama.URL, a.logger)
}

func (a *app) close() {
	if a.cat != nil {
		if err := a.cat.Close(); err != nil && a.logger != nil {
			a.logger.Warn("close indices failed", zap.Error(err))
		}
	}
	if a.emb != nil {
		_ = a.emb.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// report prints err as one diagnostic line, with a hint for common causes.
func (a *app) report(err error) {
	cli.Failure(a.errOut, "Error: %v", err)
	var hint string
	switch {
	case errors.Is(err, models.ErrConnection), errors.Is(err, models.ErrModelUnavailable):
		url := "the configured URL"
		if a.cfg != nil {
			url = a.cfg.Ollama.URL
		}
		hint = fmt.Sprintf("Is Ollama running at %s? Start it with 'ollama serve'.", url)
	case errors.Is(err, models.ErrIndexNotFound):
		hint = "Run 'ragcli upload <path>' to create the index, or pick one with --index-name."
	case errors.Is(err, models.ErrDimensionMismatch):
		hint = "The index was built with a different embedding model. Use another --index-name or delete the index."
	}
	if hint != "" {
		cli.Dim(a.errOut, "%s", hint)
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// version needs no config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "ragcli version %s\n", version)
		},
	}
}
