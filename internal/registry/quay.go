package registry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gitlab.com/cincan/cincan-registry/internal/models"
)

// Quay lists tools from quay.io. Repository and tag listing use the Quay
// API; manifest and image configuration fetches use the Registry V2 API.
type Quay struct {
	*remote
	api string
}

// NewQuay builds a Quay client.
func NewQuay(opts Options) *Quay {
	root := opts.RegistryRoot
	if root == "" {
		root = "https://quay.io"
	}
	api := opts.APIRoot
	if api == "" {
		api = root
	}
	opts.RegistryRoot = root
	return &Quay{
		remote: newRemote("quay", root, opts),
		api:    strings.TrimRight(api, "/"),
	}
}

type quayRepository struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	LastModified int64  `json:"last_modified"`
}

// ListTools returns every image repository of the namespace as a bare tool
// record, following next_page pagination.
func (q *Quay) ListTools(ctx context.Context) (map[string]*models.ToolInfo, error) {
	out := make(map[string]*models.ToolInfo)
	nextPage := ""
	for {
		params := url.Values{
			"repo_kind":     {"image"},
			"last_modified": {"true"},
			"public":        {"true"},
			"namespace":     {q.namespace},
		}
		if nextPage != "" {
			params.Set("next_page", nextPage)
		}
		var page struct {
			Repositories []quayRepository `json:"repositories"`
			NextPage     string           `json:"next_page"`
		}
		u := fmt.Sprintf("%s/api/v1/repository?%s", q.api, params.Encode())
		if err := q.getJSON(ctx, u, nil, &page); err != nil {
			return nil, fmt.Errorf("list %s repositories: %w", q.namespace, err)
		}
		for _, repo := range page.Repositories {
			tool := models.NewToolInfo(repo.Name, time.Unix(repo.LastModified, 0), q.name)
			tool.Description = repo.Description
			out[repo.Name] = tool
		}
		if page.NextPage == "" {
			break
		}
		nextPage = page.NextPage
	}
	// Quay answers 200 with an empty list for unknown namespaces.
	if len(out) == 0 {
		q.logger.Warn("namespace has no repositories", "namespace", q.namespace)
	}
	return out, nil
}

// FetchTags resolves the tool's Quay tags into version observations and
// replaces the tool's version collection.
func (q *Quay) FetchTags(ctx context.Context, tool *models.ToolInfo) error {
	repo := q.namespace + "/" + tool.Name()
	var payload struct {
		Tags map[string]struct {
			Name string `json:"name"`
		} `json:"tags"`
	}
	u := fmt.Sprintf("%s/api/v1/repository/%s?%s", q.api, repo,
		url.Values{"includeTags": {"true"}, "includeStats": {"false"}}.Encode())
	if err := q.getJSON(ctx, u, nil, &payload); err != nil {
		return fmt.Errorf("fetch repository %s: %w", repo, err)
	}
	if len(payload.Tags) == 0 {
		return fmt.Errorf("no tags found for tool %s", tool.Name())
	}

	tags := make([]string, 0, len(payload.Tags))
	for name := range payload.Tags {
		tags = append(tags, name)
	}
	versions, err := q.versionsByTags(ctx, repo, tags)
	if err != nil {
		return err
	}
	tool.Versions = versions
	tool.Updated = time.Now()
	return nil
}
