package maintainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gitlab.com/cincan/cincan-registry/internal/cache"
	"gitlab.com/cincan/cincan-registry/internal/models"
	"gitlab.com/cincan/cincan-registry/internal/registry"
)

// NotInstalled is the local version shown for tools only present remotely
// when a specific tag was requested.
const NotInstalled = "Not installed"

// ErrToolNotFound reports a tool that exists neither locally nor remotely.
var ErrToolNotFound = errors.New("tool not found locally or remotely")

// LocalSource abstracts the local daemon listing for the reconciler.
// registry.Daemon satisfies it.
type LocalSource interface {
	ListTools(ctx context.Context, definedTag string) map[string]*models.ToolInfo
	ToolByName(ctx context.Context, name string) *models.ToolInfo
}

// Reconciler drives the full listing and reconciliation flows: local and
// remote tool discovery, cache-gated tag refreshes, upstream checks and
// report assembly.
type Reconciler struct {
	local      LocalSource
	remote     registry.Remote
	store      *cache.Store
	maintainer *VersionMaintainer
	prefix     string
	ttl        time.Duration
	maxWorkers int
	force      bool
	logger     *slog.Logger
	now        func() time.Time
}

// ReconcilerOptions wires a Reconciler together.
type ReconcilerOptions struct {
	Local      LocalSource
	Remote     registry.Remote
	Store      *cache.Store
	Maintainer *VersionMaintainer
	// Prefix qualifies local image names, e.g. "cincan/".
	Prefix string
	// TTL bounds remote tag listing freshness. Defaults to cache.DefaultTTL.
	TTL time.Duration
	// MaxWorkers bounds the tag refresh fan-out.
	MaxWorkers int
	// ForceRefresh bypasses cached remote listings.
	ForceRefresh bool
	Logger       *slog.Logger
	Now          func() time.Time
}

// NewReconciler builds a Reconciler.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		local:      opts.Local,
		remote:     opts.Remote,
		store:      opts.Store,
		maintainer: opts.Maintainer,
		prefix:     opts.Prefix,
		ttl:        ttl,
		maxWorkers: maxWorkers,
		force:      opts.ForceRefresh,
		logger:     logger.With("component", "reconciler"),
		now:        now,
	}
}

// remoteTools lists the remote namespace and resolves tags for every tool
// whose cached record is missing or older than the fresh listing, fanning
// the refreshes out over the worker pool. The merged result is persisted
// and returned.
func (r *Reconciler) remoteTools(ctx context.Context) (map[string]*models.ToolInfo, error) {
	fresh, err := r.remote.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list remote tools: %w", err)
	}
	cached, err := r.store.ReadTools()
	if err != nil {
		return nil, fmt.Errorf("read cached tools: %w", err)
	}

	var (
		wg      sync.WaitGroup
		sem     = make(chan struct{}, r.maxWorkers)
		mu      sync.Mutex
		updated int
	)
	for name, tool := range fresh {
		old, ok := cached[name]
		if ok && !r.force && !tool.Updated.After(old.Updated) {
			r.logger.Debug("no updates for tool", "tool", name)
			fresh[name] = old
			continue
		}
		wg.Add(1)
		go func(tool *models.ToolInfo) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if err := r.remote.FetchTags(ctx, tool); err != nil {
				r.logger.Error("failed to fetch tags, tool not updated",
					"tool", tool.Name(), "error", err)
				return
			}
			mu.Lock()
			updated++
			mu.Unlock()
		}(tool)
	}
	wg.Wait()

	if updated > 0 {
		tools := make([]*models.ToolInfo, 0, len(fresh))
		for _, tool := range fresh {
			tools = append(tools, tool)
		}
		if err := r.store.WriteTools(tools); err != nil {
			r.logger.Error("persisting remote tools failed", "error", err)
		}
	}
	return fresh, nil
}

// ListTools merges the local and remote tool listings into report rows
// sorted by name. With definedTag set, only versions carrying that tag are
// listed and missing local images show the not-installed marker.
func (r *Reconciler) ListTools(ctx context.Context, definedTag string) ([]models.ToolListing, error) {
	var (
		wg          sync.WaitGroup
		localTools  map[string]*models.ToolInfo
		remoteTools map[string]*models.ToolInfo
		remoteErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		localTools = r.local.ListTools(ctx, definedTag)
	}()
	go func() {
		defer wg.Done()
		remoteTools, remoteErr = r.remoteTools(ctx)
	}()
	wg.Wait()
	if remoteErr != nil {
		return nil, remoteErr
	}

	names := make(map[string]struct{}, len(localTools)+len(remoteTools))
	for name := range localTools {
		names[name] = struct{}{}
	}
	for name := range remoteTools {
		names[name] = struct{}{}
	}

	var rows []models.ToolListing
	for name := range names {
		row := models.ToolListing{Name: name}
		localTool := localTools[name]
		remoteTool := remoteTools[name]

		if definedTag != "" {
			if localTool != nil {
				for _, v := range localTool.Versions {
					if v.Tags().Contains(definedTag) {
						row.LocalVersion = v.Version()
						break
					}
				}
			}
			if remoteTool != nil {
				if v := remoteTool.GetLatestRemote(); v.Version() != models.VersionUndefined {
					row.RemoteVersion = v.Version()
					row.CompressedSize = v.SizeText()
				}
			}
			if row.LocalVersion == "" && row.RemoteVersion == "" {
				continue
			}
			if row.LocalVersion == "" {
				row.LocalVersion = NotInstalled
			}
		} else {
			if localTool != nil {
				row.LocalVersion = localTool.GetLatest().Version()
			}
			if remoteTool != nil {
				if v := remoteTool.GetLatestRemote(); v.Version() != models.VersionUndefined {
					row.RemoteVersion = v.Version()
					row.CompressedSize = v.SizeText()
				}
			}
		}
		if remoteTool != nil {
			row.Description = remoteTool.Description
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		r.logger.Info("no tools found", "tag", definedTag)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows, nil
}

// ListVersions reconciles every remote tool against its local and upstream
// versions and returns the report keyed by tool name.
func (r *Reconciler) ListVersions(ctx context.Context, onlyUpdates bool) (map[string]models.ToolSummary, error) {
	remoteTools, err := r.remoteTools(ctx)
	if err != nil {
		return nil, err
	}
	r.maintainer.CheckUpstreams(ctx, remoteTools)
	localTools := r.local.ListTools(ctx, "")

	out := make(map[string]models.ToolSummary)
	for name, remoteTool := range remoteTools {
		summary, ok := r.maintainer.Summarize(localTools[name], remoteTool, onlyUpdates)
		if ok {
			out[name] = summary
		}
	}
	return out, nil
}

// ListVersionsSingle reconciles one tool by bare name. The remote record
// comes from the cache when fresh, otherwise its tags are fetched and
// persisted. A tool that exists neither locally nor remotely is an error.
func (r *Reconciler) ListVersionsSingle(ctx context.Context, toolName string, onlyUpdates bool) (models.ToolSummary, error) {
	localTool := r.local.ToolByName(ctx, r.prefix+toolName)

	var remoteTool *models.ToolInfo
	if !r.force {
		cached, err := r.store.ReadTool(toolName)
		if err != nil {
			return models.ToolSummary{}, err
		}
		remoteTool = cached
	}
	fetched := false
	if remoteTool == nil || !withinWindow(remoteTool.Updated, r.ttl, r.now()) {
		if remoteTool == nil {
			remoteTool = models.NewToolInfo(toolName, time.Time{}, r.remote.Name())
		}
		if err := r.remote.FetchTags(ctx, remoteTool); err != nil {
			r.logger.Error("failed to fetch remote tags", "tool", toolName, "error", err)
		} else {
			fetched = true
			if err := r.store.WriteTool(remoteTool); err != nil {
				r.logger.Error("persisting remote tool failed", "tool", toolName, "error", err)
			}
		}
	}

	remoteKnown := fetched || (remoteTool != nil && !remoteTool.Updated.IsZero())
	if localTool == nil && !remoteKnown {
		return models.ToolSummary{}, fmt.Errorf(
			"%w: %s, give the bare tool name without prefixes", ErrToolNotFound, toolName)
	}
	if !r.maintainer.CanCheck(toolName) {
		r.logger.Warn("upstream check not configured for tool", "tool", toolName)
	}

	// Upstream observations attach to the remote record when one exists,
	// falling back to the local record for local-only tools.
	target := remoteTool
	if !remoteKnown {
		target = localTool
		remoteTool = nil
	}
	r.maintainer.AttachUpstreams(ctx, target)
	r.maintainer.DrainWrites()

	summary, ok := r.maintainer.Summarize(localTool, remoteTool, onlyUpdates)
	if !ok {
		return models.ToolSummary{}, nil
	}
	return summary, nil
}

func withinWindow(observed time.Time, ttl time.Duration, now time.Time) bool {
	return !observed.Before(now.Add(-ttl)) && !observed.After(now)
}
