package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newWatchCommand(version string) *cobra.Command {
	var (
		siteIDs  []string
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [path...]",
		Short: "Re-apply declared sites whenever they change",
		Long: `Apply the declared sites, then watch the declaration files and policy
paths and apply again after every change.

A change that fails to parse or apply is logged and the store keeps the last
successfully applied state. When telemetry.metrics is enabled the reconciler
metrics are served over HTTP while watching.`,
		Example: `  # Watch a directory of declarations
  sitectl watch ./sites

  # Watch with metrics on :9464/metrics
  SITECTL_TELEMETRY_METRICS=true sitectl watch ./sites`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := loadSettings(cmd, configPath)
			if err != nil {
				return err
			}

			ws, err := openWorkspace(ctx, s, version)
			if err != nil {
				return err
			}
			defer ws.Close(ctx)

			paths := args
			if len(paths) == 0 {
				paths = s.Model
			}

			if err := ws.tel.StartMetricsServer(); err != nil {
				return fmt.Errorf("failed to start metrics server: %w", err)
			}
			if ws.policies != nil && len(s.Policy.Paths) > 0 {
				loader, err := ws.policies.WatchPolicies(ctx, s.Policy.Paths)
				if err != nil {
					return err
				}
				defer func() { _ = loader.StopWatching() }()
			}

			w := &modelWatcher{ws: ws, paths: paths, sites: siteIDs, out: cmd.OutOrStdout()}
			w.reapply(ctx, "initial")
			return w.run(ctx, debounce)
		},
	}

	cmd.Flags().StringSliceVarP(&siteIDs, "site", "s", nil, "apply only the named sites")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "delay before re-applying after a change")
	addStoreFlags(cmd)
	addPolicyFlags(cmd)

	return cmd
}

type modelWatcher struct {
	ws    *workspace
	paths []string
	sites []string
	out   io.Writer
}

// run watches the model paths until ctx is done.
func (w *modelWatcher) run(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, path := range w.paths {
		if err := addWatch(watcher, path); err != nil {
			return err
		}
	}

	log.Info().Strs("paths", w.paths).Msg("Watching declarations")

	var timer *time.Timer
	changed := make(chan string, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !isDeclarationFile(event.Name) {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Declaration changed")

			if timer != nil {
				timer.Stop()
			}
			name := event.Name
			timer = time.AfterFunc(debounce, func() {
				select {
				case changed <- name:
				default:
				}
			})

		case name := <-changed:
			w.reapply(ctx, name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// reapply loads and applies the model, logging instead of failing.
func (w *modelWatcher) reapply(ctx context.Context, source string) {
	metrics := w.ws.tel.Metrics
	events := w.ws.tel.Events

	sites, err := w.ws.load(ctx, w.paths)
	if err == nil {
		sites, err = selectSites(sites, w.sites)
	}
	if err != nil {
		metrics.RecordModelReload("invalid")
		log.Error().Err(err).Str("source", source).Msg("Failed to load declarations")
		return
	}
	metrics.RecordModelReload("loaded")
	_ = events.PublishModelReloaded(source, len(sites))

	results, err := w.ws.reconciler.ApplyAll(ctx, sites)
	if perr := printResults(w.out, results); perr != nil {
		log.Warn().Err(perr).Msg("Failed to print results")
	}
	if err != nil {
		log.Error().Err(err).Str("source", source).Msg("Apply failed")
	}
}

// addWatch watches a file's directory, or a directory tree.
func addWatch(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return watcher.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
}

func isDeclarationFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".cue", ".yaml", ".yml", ".json":
		return true
	}
	return false
}
