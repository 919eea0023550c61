package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/hyperjump/ragcli/internal/cli"
	"github.com/hyperjump/ragcli/internal/config"
	"github.com/hyperjump/ragcli/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		noSync bool
		save   bool
	)
	cmd := &cobra.Command{
		Use:   "watch [dir]...",
		Short: "Keep the index in sync with folders",
		Long: `Watch folders and ingest new or changed documents as they appear. Deleted
files are removed from the index. Without arguments the directories listed
under watch.directories in the config are used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dirs := a.cfg.Watch.Directories
			if len(args) > 0 {
				dirs = args
			}
			if len(dirs) == 0 {
				return errors.New("no directories to watch: pass one or set watch.directories in the config")
			}
			if save && len(args) > 0 {
				if err := a.saveWatchDirs(args); err != nil {
					return err
				}
			}

			w, err := a.startWatcher(ctx, dirs)
			if err != nil {
				return err
			}
			defer w.Stop()
			if !noSync {
				results := w.Sync(ctx)
				sum := cli.Summarize(results)
				cli.Dim(a.out, "initial sync: %d ingested, %d unchanged, %d failed", sum.Ingested, sum.Skipped, sum.Failed)
			}
			cli.Success(a.out, "Watching %d directories for index '%s' (Ctrl+C to stop)", len(w.Directories()), a.indexName)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "do not ingest files already in the folders")
	cmd.Flags().BoolVar(&save, "save", false, "add the given folders to watch.directories in the config file")
	return cmd
}

// startWatcher starts watching dirs for the selected index, printing one line
// per ingest or delete.
func (a *app) startWatcher(ctx context.Context, dirs []string) (*watcher.Watcher, error) {
	cat, err := a.catalog()
	if err != nil {
		return nil, err
	}
	idx, err := cat.OpenOrCreate(ctx, a.indexName)
	if err != nil {
		return nil, err
	}
	ing, err := a.indexer(idx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	w := watcher.New(ing,
		watcher.WithLogger(a.logger),
		watcher.WithDebounce(time.Duration(a.cfg.Watch.DebounceMillis)*time.Millisecond),
		watcher.WithRecursive(a.cfg.Watch.RecursiveOrDefault()),
		watcher.WithEventHook(func(ev watcher.Event) {
			mu.Lock()
			defer mu.Unlock()
			a.printWatchEvent(ev)
		}),
	)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if err := w.AddDirectory(d, false); err != nil {
			w.Stop()
			return nil, fmt.Errorf("watch %s: %w", d, err)
		}
	}
	a.logger.Info("watching", zap.Strings("directories", w.Directories()), zap.String("index", idx.Name()))
	return w, nil
}

func (a *app) printWatchEvent(ev watcher.Event) {
	name := filepath.Base(ev.Path)
	switch {
	case ev.Err != nil:
		cli.Failure(a.out, "%s %s: %v", ev.Op, name, ev.Err)
	case ev.Op == watcher.OpDelete:
		cli.Warn(a.out, "removed %s (%d chunks)", name, ev.Removed)
	case ev.Result != nil && ev.Result.Skipped:
		a.logger.Debug("watch unchanged", zap.String("path", ev.Path))
	case ev.Result != nil:
		cli.Success(a.out, "indexed %s (%d chunks)", name, ev.Result.Chunks)
	}
}

// configFile is the config file that was loaded, or ./config.yaml when none was.
func (a *app) configFile() string {
	if a.configPath != "" {
		return a.configPath
	}
	return "config.yaml"
}

// saveWatchDirs records dirs in the config file.
func (a *app) saveWatchDirs(dirs []string) error {
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return err
		}
		if !slices.Contains(a.cfg.Watch.Directories, abs) {
			a.cfg.Watch.Directories = append(a.cfg.Watch.Directories, abs)
		}
	}
	path := a.configFile()
	if err := config.Save(path, a.cfg); err != nil {
		return err
	}
	cli.Dim(a.out, "saved %d watch directories to %s", len(a.cfg.Watch.Directories), path)
	return nil
}
