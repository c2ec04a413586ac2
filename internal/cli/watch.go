package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/interpretive-systems/branchview/internal/gitx"
	"github.com/interpretive-systems/branchview/internal/prefs"
	"github.com/interpretive-systems/branchview/internal/refresh"
	"github.com/interpretive-systems/branchview/internal/status"
	"github.com/interpretive-systems/branchview/internal/tree"
	"github.com/interpretive-systems/branchview/internal/tui"
	"github.com/interpretive-systems/branchview/internal/watch"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open the TUI and track status against the source branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath := mustGetStringFlag(cmd.Root(), "repo")
			root, err := gitx.RepoRoot(repoPath)
			if err != nil {
				return fmt.Errorf("not a git repo: %w", err)
			}

			branchFlag := mustGetStringFlag(cmd, "branch")
			logFile := mustGetStringFlag(cmd, "log-file")
			metricsAddr := mustGetStringFlag(cmd, "metrics-addr")

			log, err := buildLogger(logFile)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			p := prefs.Load(root)
			branch := branchFlag
			if branch == "" {
				branch = p.SourceBranch
			}
			if branch == "" {
				branch = "main"
			}
			debounce := 200 * time.Millisecond
			if p.DebounceMs > 0 {
				debounce = time.Duration(p.DebounceMs) * time.Millisecond
			}

			// Composition root: everything below is constructed here
			// and passed by reference, never reached through globals.
			git := gitx.NewClient(root)
			agg := status.NewAggregator(git, status.Options{
				StrictMergeBase:  p.StrictMergeBase,
				ExistenceDegrade: p.ExistenceDegrade,
			}, log)

			reg := prometheus.NewRegistry()
			metrics := refresh.NewMetrics(reg)
			sched := refresh.NewScheduler(agg, git, branch, metrics, log)

			cache := tree.NewCache(root, log)
			if p.ChangedOnly {
				cache.SetViewMode(tree.ViewChanged)
			}
			unsubscribe := sched.Subscribe(cache.ApplyStatus)
			defer unsubscribe()

			watcher := watch.New(func(src refresh.Source) {
				go func() {
					_ = sched.Refresh(context.Background(), src)
				}()
			}, debounce, log)
			if err := watcher.Start(root); err != nil {
				log.Warn("file watching unavailable", zap.Error(err))
			}
			defer watcher.Stop()

			if metricsAddr != "" {
				go serveMetrics(metricsAddr, reg, log)
			}

			return tui.Run(tui.Deps{Scheduler: sched, Cache: cache, Git: git, Log: log})
		},
	}
	cmd.Flags().StringP("branch", "b", "", "Source branch to compare against (default: saved pref, then main)")
	cmd.Flags().String("log-file", "", "Write structured logs to this file")
	cmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9190)")
	return cmd
}

func buildLogger(path string) (*zap.Logger, error) {
	if path == "" {
		// The TUI owns the terminal; without a log file stay silent.
		return zap.NewNop(), nil
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return log, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}
