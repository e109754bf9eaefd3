package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gitlab.com/cincan/cincan-registry/internal/cache"
	"gitlab.com/cincan/cincan-registry/internal/config"
	"gitlab.com/cincan/cincan-registry/internal/maintainer"
	"gitlab.com/cincan/cincan-registry/internal/metafiles"
	"gitlab.com/cincan/cincan-registry/internal/registry"
)

var (
	configDir string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "cincan-registry",
	Short: "Version tracking for CinCan tool images",
	Long: "cincan-registry lists the CinCan tool images available locally and in the\n" +
		"remote registry, and reconciles their versions against the upstream\n" +
		"projects they package.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "",
		"configuration and cache directory (default ~/.cincan)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
}

// app holds the wired components every subcommand works with.
type app struct {
	cfg        *config.Config
	store      *cache.Store
	reconciler *maintainer.Reconciler
}

// buildApp loads the configuration and wires the cache, the metadata
// repository, the remote registry client, the local daemon and the
// reconciler together. Syncing tool metadata is best effort: a stale
// checkout still serves upstream configurations.
func buildApp(ctx context.Context, forceRefresh bool) (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	store, err := cache.Open(cache.Options{
		Backend: cfg.CacheBackend,
		Path:    cfg.CachePath,
		DSN:     cfg.CacheDSN,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	repo, err := metafiles.NewRepo(metafiles.Options{
		URL:           cfg.ToolsRepoURL,
		Branch:        cfg.Branch,
		Path:          cfg.ToolsRepoPath,
		Token:         cfg.Token("gitlab"),
		IndexFilename: cfg.IndexFilename,
		MetaFilename:  cfg.MetaFilename,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open tool metadata repository: %w", err)
	}
	if err := repo.Sync(ctx); err != nil {
		logger.Warn("syncing tool metadata failed, using existing checkout", "error", err)
	}
	metas, err := repo.ReadMetas()
	if err != nil {
		logger.Warn("reading tool metadata failed, upstream checks disabled", "error", err)
	}

	remote, err := newRemote(cfg, logger)
	if err != nil {
		return nil, err
	}
	daemon := registry.NewDaemon(registry.DaemonOptions{
		Prefix:     cfg.Namespace + "/",
		VersionVar: cfg.VersionVar,
		Logger:     logger,
	})

	m := maintainer.New(maintainer.Options{
		Store:        store,
		Metas:        metas,
		Tokens:       cfg.Tokens,
		TTL:          cfg.CacheTTL(),
		MaxWorkers:   cfg.MaxWorkers,
		ForceRefresh: forceRefresh,
		Logger:       logger,
	})
	reconciler := maintainer.NewReconciler(maintainer.ReconcilerOptions{
		Local:        daemon,
		Remote:       remote,
		Store:        store,
		Maintainer:   m,
		Prefix:       cfg.Namespace + "/",
		TTL:          cfg.CacheTTL(),
		MaxWorkers:   cfg.MaxWorkers,
		ForceRefresh: forceRefresh,
		Logger:       logger,
	})
	return &app{cfg: cfg, store: store, reconciler: reconciler}, nil
}

func newRemote(cfg *config.Config, logger *slog.Logger) (registry.Remote, error) {
	opts := registry.Options{
		Namespace:  cfg.Namespace,
		VersionVar: cfg.VersionVar,
		Logger:     logger,
	}
	switch strings.ToLower(cfg.Registry) {
	case "quay":
		return registry.NewQuay(opts), nil
	case "dockerhub":
		return registry.NewDockerHub(opts), nil
	default:
		return nil, fmt.Errorf("unsupported registry %q, expected quay or dockerhub", cfg.Registry)
	}
}
