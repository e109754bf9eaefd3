package registry

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"gitlab.com/cincan/cincan-registry/internal/models"
)

// hubPageSize is the maximum page size the Docker Hub API accepts.
const hubPageSize = 1000

// DockerHub lists tools from Docker Hub. Tag listing goes through the Hub
// API, which is richer than the plain registry tags/list endpoint; manifest
// and image configuration fetches use the Registry V2 API.
type DockerHub struct {
	*remote
	api string
}

// NewDockerHub builds a Docker Hub client.
func NewDockerHub(opts Options) *DockerHub {
	api := opts.APIRoot
	if api == "" {
		api = "https://hub.docker.com"
	}
	root := opts.RegistryRoot
	if root == "" {
		root = "https://registry.hub.docker.com"
	}
	opts.RegistryRoot = root
	return &DockerHub{
		remote: newRemote("dockerhub", root, opts),
		api:    strings.TrimRight(api, "/"),
	}
}

type hubRepository struct {
	Name        string    `json:"name"`
	User        string    `json:"user"`
	Description string    `json:"description"`
	LastUpdated time.Time `json:"last_updated"`
}

// ListTools returns every repository of the namespace as a bare tool record.
func (h *DockerHub) ListTools(ctx context.Context) (map[string]*models.ToolInfo, error) {
	out := make(map[string]*models.ToolInfo)
	next := fmt.Sprintf("%s/v2/repositories/%s/?page_size=%d", h.api, h.namespace, hubPageSize)
	for next != "" {
		var page struct {
			Next    string          `json:"next"`
			Results []hubRepository `json:"results"`
		}
		if err := h.getJSON(ctx, next, nil, &page); err != nil {
			return nil, fmt.Errorf("list %s repositories: %w", h.namespace, err)
		}
		for _, repo := range page.Results {
			tool := models.NewToolInfo(repo.Name, repo.LastUpdated, h.name)
			tool.Description = repo.Description
			out[repo.Name] = tool
		}
		next = page.Next
	}
	return out, nil
}

type hubTag struct {
	Name        string    `json:"name"`
	LastUpdated time.Time `json:"last_updated"`
}

// FetchTags resolves the tool's Hub tags into version observations, newest
// tag first, and replaces the tool's version collection.
func (h *DockerHub) FetchTags(ctx context.Context, tool *models.ToolInfo) error {
	repo := h.namespace + "/" + tool.Name()
	var page struct {
		Count   int      `json:"count"`
		Results []hubTag `json:"results"`
	}
	u := fmt.Sprintf("%s/v2/repositories/%s/tags?%s", h.api, repo,
		url.Values{"page_size": {fmt.Sprint(hubPageSize)}}.Encode())
	if err := h.getJSON(ctx, u, nil, &page); err != nil {
		return fmt.Errorf("list tags of %s: %w", repo, err)
	}
	if page.Count > hubPageSize {
		h.logger.Warn("tool has more tags than one page lists", "tool", tool.Name(), "count", page.Count)
	}
	if len(page.Results) == 0 {
		return fmt.Errorf("no tags found for tool %s", tool.Name())
	}

	sort.SliceStable(page.Results, func(i, j int) bool {
		return page.Results[i].LastUpdated.After(page.Results[j].LastUpdated)
	})
	tags := make([]string, len(page.Results))
	for i, t := range page.Results {
		tags[i] = t.Name
	}

	versions, err := h.versionsByTags(ctx, repo, tags)
	if err != nil {
		return err
	}
	tool.Versions = versions
	tool.Updated = time.Now()
	return nil
}
