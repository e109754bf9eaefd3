// Package maintainer reconciles tool versions across their sources: the
// local daemon, the remote registry and the configured upstream providers.
// It fans upstream checks out over a bounded worker pool, gates provider
// calls behind the version cache and reduces the observations of each tool
// into an update verdict.
package maintainer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"gitlab.com/cincan/cincan-registry/internal/cache"
	"gitlab.com/cincan/cincan-registry/internal/checkers"
	"gitlab.com/cincan/cincan-registry/internal/models"
)

// DefaultMaxWorkers bounds the upstream checker fan-out.
const DefaultMaxWorkers = 30

// NotImplemented is the version reported when no origin upstream entry is
// configured for a tool.
const NotImplemented = "Not implemented"

// Options configures a VersionMaintainer.
type Options struct {
	// Store persists upstream observations between runs. Required.
	Store *cache.Store
	// Metas maps tool names to their upstream checker configurations.
	Metas map[string][]checkers.Meta
	// Tokens holds provider API tokens keyed by provider name.
	Tokens map[string]string
	// TTL bounds cached observation freshness. Defaults to cache.DefaultTTL.
	TTL time.Duration
	// MaxWorkers bounds the checker fan-out. Defaults to DefaultMaxWorkers.
	MaxWorkers int
	// ForceRefresh bypasses the cache gate, querying every provider.
	ForceRefresh bool
	// CheckerTimeout bounds each provider API call.
	CheckerTimeout time.Duration
	// Factory builds checkers, overridable by tests. Defaults to checkers.New.
	Factory checkers.Factory
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Now is the clock, overridable by tests.
	Now func() time.Time
}

// VersionMaintainer attaches upstream version observations to tools and
// computes their update verdicts.
type VersionMaintainer struct {
	store        *cache.Store
	queue        *cache.WriteQueue
	metas        map[string][]checkers.Meta
	tokens       map[string]string
	ttl          time.Duration
	maxWorkers   int
	forceRefresh bool
	timeout      time.Duration
	factory      checkers.Factory
	logger       *slog.Logger
	now          func() time.Time
}

// New builds a VersionMaintainer.
func New(opts Options) *VersionMaintainer {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	factory := opts.Factory
	if factory == nil {
		factory = checkers.New
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &VersionMaintainer{
		store:        opts.Store,
		queue:        cache.NewWriteQueue(),
		metas:        opts.Metas,
		tokens:       opts.Tokens,
		ttl:          ttl,
		maxWorkers:   maxWorkers,
		forceRefresh: opts.ForceRefresh,
		timeout:      opts.CheckerTimeout,
		factory:      factory,
		logger:       logger.With("component", "maintainer"),
		now:          now,
	}
}

// CanCheck reports whether upstream checking is configured for a tool.
func (m *VersionMaintainer) CanCheck(toolName string) bool {
	return len(m.metas[toolName]) > 0
}

func (m *VersionMaintainer) token(meta checkers.Meta) string {
	provider := meta.TokenProvider
	if provider == "" {
		provider = meta.Provider
	}
	return m.tokens[strings.ToLower(provider)]
}

// AttachUpstreams appends one upstream observation per configured provider
// to the tool. Fresh cached observations short-circuit the provider call;
// everything fetched live is staged for the next cache drain. Provider
// failures degrade to the not-found sentinel inside the checker, so the
// tool always gains an observation per usable configuration.
func (m *VersionMaintainer) AttachUpstreams(ctx context.Context, tool *models.ToolInfo) {
	for _, meta := range m.metas[tool.Name()] {
		provider := strings.ToLower(meta.Provider)
		if !checkers.Supported(provider) {
			m.logger.Error("no upstream checker for provider, check tool metadata",
				"tool", tool.Name(), "provider", meta.Provider)
			continue
		}

		if !m.forceRefresh {
			cached, fresh, err := m.store.FreshVersion(tool.Name(), provider, m.ttl, m.now())
			if err != nil {
				m.logger.Error("reading cached upstream version failed",
					"tool", tool.Name(), "provider", provider, "error", err)
			} else if fresh {
				m.logger.Debug("using cached upstream version",
					"tool", tool.Name(), "provider", provider)
				tool.AddVersion(cached)
				continue
			}
		}

		m.logger.Info("fetching upstream version information",
			"tool", tool.Name(), "provider", provider)
		checker, err := m.factory(meta, checkers.Options{
			Token:   m.token(meta),
			Timeout: m.timeout,
			Logger:  m.logger,
		})
		if err != nil {
			m.logger.Error("invalid upstream configuration",
				"tool", tool.Name(), "provider", provider, "error", err)
			continue
		}
		checker.FetchVersion(ctx, "")
		observation := models.NewVersionInfo(
			checker.Version(), models.TypeUpstream,
			models.LiveCheckerSource(checker),
			mapset.NewSet(models.LatestTag), m.now(),
		).WithOrigin(checker.IsOrigin()).WithDockerOrigin(checker.IsDockerOrigin())
		tool.AddVersion(observation)
		m.queue.Enqueue(tool)
	}
}

// CheckUpstreams attaches upstream observations to every tool with a
// checker configuration, fanning out over the worker pool, then drains the
// staged writes in one transaction.
func (m *VersionMaintainer) CheckUpstreams(ctx context.Context, tools map[string]*models.ToolInfo) {
	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, m.maxWorkers)
	)
	checked := 0
	for name, tool := range tools {
		if !m.CanCheck(name) {
			m.logger.Debug("upstream check not configured for tool", "tool", name)
			continue
		}
		checked++
		wg.Add(1)
		go func(tool *models.ToolInfo) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			m.AttachUpstreams(ctx, tool)
		}(tool)
	}
	wg.Wait()
	if checked == 0 {
		m.logger.Warn("no known methods to get updates for any of the tools")
	}
	if err := m.queue.Drain(m.store); err != nil {
		m.logger.Error("persisting upstream observations failed", "error", err)
	}
}

// DrainWrites lands any staged upstream observations in one transaction.
// CheckUpstreams drains automatically; single-tool callers of
// AttachUpstreams drain explicitly.
func (m *VersionMaintainer) DrainWrites() {
	if err := m.queue.Drain(m.store); err != nil {
		m.logger.Error("persisting upstream observations failed", "error", err)
	}
}

func digest(v *models.VersionInfo) *models.VersionDigest {
	return &models.VersionDigest{
		Version: v.Version(),
		Tags:    mapset.Sorted(v.Tags()),
	}
}

func sourceDetails(v *models.VersionInfo) map[string]any {
	if live := v.Source().Live(); live != nil {
		return live.Describe()
	}
	if v.Provider() == "" {
		return nil
	}
	return map[string]any{
		"provider": v.Provider(),
		"version":  v.Version(),
	}
}

// Summarize reduces the observations of one tool into its report entry.
// The remote record anchors the comparison; a tool present only locally
// anchors on the local record instead. With onlyUpdates set, tools with no
// pending update are dropped (second return false).
func (m *VersionMaintainer) Summarize(local, remote *models.ToolInfo, onlyUpdates bool) (models.ToolSummary, bool) {
	ref := remote
	if ref == nil {
		ref = local
	}
	summary := models.ToolSummary{Name: ref.Name()}

	if local != nil {
		summary.Versions.Local = digest(local.GetLatest())
	}
	if remote != nil {
		summary.Versions.Remote = digest(remote.GetLatest())
	}

	origin := ref.GetOriginVersion()
	if origin.Provider() == "" {
		origin = ref.GetDockerOriginVersion()
	}
	summary.Versions.Origin = models.OriginDigest{Version: origin.Version()}
	if origin.Origin() || origin.DockerOrigin() {
		summary.Versions.Origin.Details = sourceDetails(origin)
	}

	for _, v := range ref.Versions {
		if v.Type() != models.TypeUpstream || v.Origin() || v.Provider() == "" {
			continue
		}
		summary.Versions.Other = append(summary.Versions.Other, models.UpstreamDigest{
			Version: v.Version(),
			Source:  v.Provider(),
			Details: sourceDetails(v),
		})
	}

	if local != nil {
		outdated := !local.GetLatest().Equal(ref.GetLatest())
		summary.Updates.Local = &outdated
	}

	refLatest := ref.GetLatest()
	refUpstream := ref.GetLatestUpstream()
	switch {
	case refLatest.Equal(refUpstream):
		// up to date with the latest upstream version
	case refLatest.Version() == models.VersionUndefined:
		// nothing meaningful to compare against
	case summary.Versions.Origin.Version == NotImplemented && len(summary.Versions.Other) == 0:
		// no upstream knowledge at all for this tool
	default:
		m.logger.Debug("tool is not up to date with origin upstream", "tool", ref.Name())
		summary.Updates.Remote = true
	}

	if onlyUpdates {
		localUpdate := summary.Updates.Local != nil && *summary.Updates.Local
		if !summary.Updates.Remote && !localUpdate {
			return models.ToolSummary{}, false
		}
	}
	return summary, true
}
