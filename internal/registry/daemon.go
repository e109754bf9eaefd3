package registry

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"gitlab.com/cincan/cincan-registry/internal/models"
)

// DaemonSourceName is the provenance name of versions observed in the local
// Docker daemon.
const DaemonSourceName = "daemon"

// dockerAPI is the slice of the Docker SDK client the daemon source uses.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
}

// Daemon lists tool images available in the local Docker daemon. An
// unavailable daemon is not an error: listings degrade to empty so remote
// listings still work on hosts without Docker.
type Daemon struct {
	api        dockerAPI
	prefix     string
	versionVar string
	logger     *slog.Logger
}

// DaemonOptions configures the local daemon source.
type DaemonOptions struct {
	// Prefix selects the tool images, e.g. "cincan/". Required.
	Prefix string
	// VersionVar overrides the version marker variable name.
	VersionVar string
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// API overrides the Docker client, used by tests.
	API dockerAPI
}

// NewDaemon builds a local daemon source. A Docker client that cannot be
// constructed leaves the source in degraded mode.
func NewDaemon(opts DaemonOptions) *Daemon {
	versionVar := opts.VersionVar
	if versionVar == "" {
		versionVar = DefaultVersionVar
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "daemon")

	api := opts.API
	if api == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			logger.Error("failed to create Docker client", "error", err)
		} else {
			api = cli
		}
	}
	return &Daemon{
		api:        api,
		prefix:     opts.Prefix,
		versionVar: versionVar,
		logger:     logger,
	}
}

// Available reports whether the daemon answers a ping.
func (d *Daemon) Available(ctx context.Context) bool {
	if d.api == nil {
		return false
	}
	if _, err := d.api.Ping(ctx); err != nil {
		d.logger.Error("failed to connect to Docker daemon, is it running?", "error", err)
		return false
	}
	return true
}

func (d *Daemon) listImages(ctx context.Context, reference string) ([]image.Summary, error) {
	args := filters.NewArgs(filters.Arg("dangling", "false"))
	if reference != "" {
		args.Add("reference", reference)
	}
	return d.api.ImageList(ctx, image.ListOptions{Filters: args})
}

func (d *Daemon) imageVersion(ctx context.Context, imageID string) string {
	inspect, _, err := d.api.ImageInspectWithRaw(ctx, imageID)
	if err != nil {
		d.logger.Warn("failed to inspect image", "image", imageID, "error", err)
		return ""
	}
	if inspect.Config == nil {
		return ""
	}
	return versionFromEnv(inspect.Config.Env, d.versionVar)
}

// splitTag separates a repository reference from its tag. A missing tag
// defaults to latest.
func splitTag(ref string) (string, string) {
	if name, tag, found := strings.Cut(ref, ":"); found {
		return name, tag
	}
	return ref, models.LatestTag
}

// strippedTags drops the repository prefix from an image's references,
// keeping bare tags for prefixed ones and full references for the rest.
func (d *Daemon) strippedTags(refs []string) mapset.Set[string] {
	out := mapset.NewSet[string]()
	for _, ref := range refs {
		if strings.HasPrefix(ref, d.prefix) {
			_, tag := splitTag(ref)
			out.Add(tag)
		} else {
			out.Add(ref)
		}
	}
	return out
}

// ToolByName finds local images of one tool and returns its record with the
// version list, newest image first. Returns nil when the daemon is down or
// the tool is not present.
func (d *Daemon) ToolByName(ctx context.Context, name string) *models.ToolInfo {
	if !d.Available(ctx) {
		return nil
	}
	images, err := d.listImages(ctx, name)
	if err != nil {
		d.logger.Error("failed to list local images", "error", err)
		return nil
	}
	if len(images) == 0 {
		return nil
	}
	bare, _ := splitTag(name)
	tool := models.NewToolInfo(path.Base(bare), time.Now(), DaemonSourceName)
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Created > images[j].Created
	})
	for _, img := range images {
		value := d.imageVersion(ctx, img.ID)
		if value == "" {
			value = models.VersionUndefined
		}
		tool.AddVersion(models.NewVersionInfo(
			value, models.TypeLocal, models.NamedSource(DaemonSourceName),
			mapset.NewSet(img.RepoTags...), time.Unix(img.Created, 0),
		).WithSize(img.Size))
	}
	return tool
}

// ListTools lists tools from local images carrying the configured prefix,
// keyed by bare tool name. When definedTag is set, only images carrying that
// tag are listed. An unavailable daemon yields an empty map.
func (d *Daemon) ListTools(ctx context.Context, definedTag string) map[string]*models.ToolInfo {
	out := make(map[string]*models.ToolInfo)
	if !d.Available(ctx) {
		return out
	}
	images, err := d.listImages(ctx, "")
	if err != nil {
		d.logger.Error("failed to list local images", "error", err)
		return out
	}
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Created > images[j].Created
	})
	for _, img := range images {
		if len(img.RepoTags) == 0 {
			continue
		}
		for _, ref := range img.RepoTags {
			name, tag := splitTag(ref)
			if !strings.HasPrefix(name, d.prefix) {
				continue
			}
			if definedTag != "" && tag != definedTag {
				continue
			}
			value := d.imageVersion(ctx, img.ID)
			if value == "" {
				value = models.VersionUndefined
			}
			updated := time.Unix(img.Created, 0)
			bare := path.Base(name)
			tool, ok := out[bare]
			if !ok {
				tool = models.NewToolInfo(bare, updated, "local")
				out[bare] = tool
			}
			tool.AddVersion(models.NewVersionInfo(
				value, models.TypeLocal, models.NamedSource(DaemonSourceName),
				d.strippedTags(img.RepoTags), updated,
			).WithSize(img.Size))
			break
		}
	}
	return out
}
