// Package registry lists tool images and their versions from container
// registries: the local Docker daemon, Docker Hub and Quay. Remote clients
// speak the Docker Registry HTTP V2 API for manifests and image
// configurations; the embedded version marker environment variable is the
// source of each image's version value.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"gitlab.com/cincan/cincan-registry/internal/models"
)

// DefaultVersionVar is the image environment variable carrying the installed
// tool version.
const DefaultVersionVar = "TOOL_VERSION"

const (
	manifestV2MediaType    = "application/vnd.docker.distribution.manifest.v2+json"
	imageConfigV1MediaType = "application/vnd.docker.container.image.v1+json"
)

// Remote lists tools and their tagged versions from one remote registry.
type Remote interface {
	// Name identifies the registry in version provenance, e.g. "quay".
	Name() string
	// ListTools returns the repositories of the configured namespace as
	// bare tool records: names, descriptions and update times, no versions.
	ListTools(ctx context.Context) (map[string]*models.ToolInfo, error)
	// FetchTags resolves every tag of one tool into version observations
	// and replaces the tool's version collection with them.
	FetchTags(ctx context.Context, tool *models.ToolInfo) error
}

// Options configures a remote registry client.
type Options struct {
	// Namespace is the repository namespace holding the tools, e.g. cincan.
	Namespace string
	// VersionVar overrides the version marker variable name.
	VersionVar string
	// RegistryRoot overrides the registry API root, used by tests.
	RegistryRoot string
	// APIRoot overrides the registry's own listing API root, used by tests.
	APIRoot string
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Client overrides the HTTP client.
	Client *http.Client
}

// remote carries the Docker Registry HTTP V2 API plumbing shared by the
// concrete registries: auth endpoint discovery, per-repository bearer
// tokens, manifest and image configuration fetches.
type remote struct {
	name       string
	root       string
	namespace  string
	versionVar string
	logger     *slog.Logger
	client     *http.Client
	tokens     *TokenCache

	// authMu guards the memoized auth endpoint details below. FetchTags
	// runs concurrently across tools on one shared client.
	authMu   sync.Mutex
	authURL  string
	service  string
	authType string
}

func newRemote(name, defaultRoot string, opts Options) *remote {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "cincan"
	}
	versionVar := opts.VersionVar
	if versionVar == "" {
		versionVar = DefaultVersionVar
	}
	root := opts.RegistryRoot
	if root == "" {
		root = defaultRoot
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &remote{
		name:       name,
		root:       strings.TrimRight(root, "/"),
		namespace:  namespace,
		versionVar: versionVar,
		logger:     logger.With("registry", name),
		client:     client,
		tokens:     NewTokenCache(256, 4*time.Minute),
		authType:   "Bearer",
	}
}

func (r *remote) Name() string { return r.name }

var wwwAuthPattern = regexp.MustCompile(`(\w+)[:=][\s"]?([^",]+)"?`)

// resolveAuth discovers the token endpoint and service name from the
// WWW-Authenticate header of the bare v2 endpoint. The first caller performs
// the discovery; concurrent and later callers reuse the memoized values.
func (r *remote) resolveAuth(ctx context.Context) (authURL, service string, err error) {
	r.authMu.Lock()
	defer r.authMu.Unlock()
	if r.authURL != "" {
		return r.authURL, r.service, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.root+"/v2/", nil)
	if err != nil {
		return "", "", fmt.Errorf("building auth discovery request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("auth discovery: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	wwwAuth := resp.Header.Get("Www-Authenticate")
	if wwwAuth == "" {
		return "", "", fmt.Errorf("no WWW-Authenticate header from %s, unable to get auth details", r.root)
	}
	if parts := strings.SplitN(wwwAuth, " ", 2); len(parts) == 2 {
		r.authType = parts[0]
	}
	for _, kv := range wwwAuthPattern.FindAllStringSubmatch(wwwAuth, -1) {
		switch kv[1] {
		case "realm":
			r.authURL = kv[2]
		case "service":
			r.service = kv[2]
		}
	}
	if r.authURL == "" {
		return "", "", fmt.Errorf("WWW-Authenticate header from %s carries no realm", r.root)
	}
	return r.authURL, r.service, nil
}

// authHeader builds the Authorization value with the discovered auth scheme.
func (r *remote) authHeader(token string) string {
	r.authMu.Lock()
	defer r.authMu.Unlock()
	return r.authType + " " + token
}

// token returns a pull-scope bearer token for one repository, from cache
// when a fresh one is at hand.
func (r *remote) token(ctx context.Context, repo string) (string, error) {
	if cached, ok := r.tokens.Get(repo); ok {
		return cached, nil
	}
	authURL, service, err := r.resolveAuth(ctx)
	if err != nil {
		return "", err
	}
	params := url.Values{
		"service": {service},
		"scope":   {fmt.Sprintf("repository:%s:pull", repo)},
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := r.getJSON(ctx, authURL+"?"+params.Encode(), nil, &payload); err != nil {
		return "", fmt.Errorf("token for repository %s: %w", repo, err)
	}
	r.tokens.Set(repo, payload.Token)
	return payload.Token, nil
}

// manifestV2 is the subset of a schema 2 image manifest the version scan
// needs: the config blob digest and the layer sizes.
type manifestV2 struct {
	SchemaVersion int    `json:"schemaVersion"`
	MediaType     string `json:"mediaType"`
	Config        struct {
		Digest string `json:"digest"`
	} `json:"config"`
	Layers []struct {
		Size int64 `json:"size"`
	} `json:"layers"`
}

func (m manifestV2) layerSize() int64 {
	var total int64
	for _, layer := range m.Layers {
		total += layer.Size
	}
	return total
}

// imageConfig is the subset of an image configuration blob the version scan
// needs: creation time and environment.
type imageConfig struct {
	Created time.Time `json:"created"`
	Config  struct {
		Env []string `json:"Env"`
	} `json:"config"`
}

func (r *remote) fetchManifest(ctx context.Context, repo, tag, token string) (manifestV2, error) {
	var manifest manifestV2
	headers := map[string]string{
		"Authorization": r.authHeader(token),
		"Accept":        manifestV2MediaType,
	}
	u := fmt.Sprintf("%s/v2/%s/manifests/%s", r.root, repo, tag)
	if err := r.getJSON(ctx, u, headers, &manifest); err != nil {
		return manifestV2{}, fmt.Errorf("manifest of %s:%s: %w", repo, tag, err)
	}
	return manifest, nil
}

func (r *remote) fetchImageConfig(ctx context.Context, repo, digest, token string) (imageConfig, error) {
	var conf imageConfig
	headers := map[string]string{
		"Authorization": r.authHeader(token),
		"Accept":        imageConfigV1MediaType,
	}
	u := fmt.Sprintf("%s/v2/%s/blobs/%s", r.root, repo, digest)
	if err := r.getJSON(ctx, u, headers, &conf); err != nil {
		return imageConfig{}, fmt.Errorf("image config of %s@%s: %w", repo, digest, err)
	}
	return conf, nil
}

// versionFromEnv finds the version marker variable in an image environment.
func versionFromEnv(env []string, versionVar string) string {
	for _, entry := range env {
		name, value, found := strings.Cut(entry, "=")
		if found && name == versionVar {
			return value
		}
	}
	return ""
}

// versionsByTags resolves each tag's manifest and image configuration into a
// version observation. Tags resolving to the same version value merge into
// one observation. A tag that cannot be resolved is logged and skipped.
func (r *remote) versionsByTags(ctx context.Context, repo string, tags []string) ([]*models.VersionInfo, error) {
	// One token covers every tag of the repository.
	token, err := r.token(ctx, repo)
	if err != nil {
		return nil, err
	}
	var versions []*models.VersionInfo
	for _, tag := range tags {
		manifest, err := r.fetchManifest(ctx, repo, tag, token)
		if err != nil {
			r.logger.Error("skipping tag, manifest fetch failed", "repo", repo, "tag", tag, "error", err)
			continue
		}
		conf, err := r.fetchImageConfig(ctx, repo, manifest.Config.Digest, token)
		if err != nil {
			r.logger.Warn("skipping tag, image config fetch failed", "repo", repo, "tag", tag, "error", err)
			continue
		}
		value := versionFromEnv(conf.Config.Env, r.versionVar)
		if value == "" {
			value = models.VersionUndefined
		}

		merged := false
		for _, v := range versions {
			if v.Version() == value {
				v.Tags().Add(tag)
				merged = true
				break
			}
		}
		if merged {
			continue
		}
		versions = append(versions, models.NewVersionInfo(
			value, models.TypeRemote, models.NamedSource(r.name),
			mapset.NewSet(tag), conf.Created,
		).WithSize(manifest.layerSize()))
	}
	return versions, nil
}

// registryAPIError is a non-200 registry response with the error list the
// V2 API carries in its body.
type registryAPIError struct {
	status int
	errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
}

func (e *registryAPIError) Error() string {
	if len(e.errors) > 0 {
		return fmt.Sprintf("registry API error: status %d: %s: %s",
			e.status, e.errors[0].Code, e.errors[0].Message)
	}
	return fmt.Sprintf("registry API error: status %d", e.status)
}

func (r *remote) getJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &registryAPIError{status: resp.StatusCode}
		var payload struct {
			Errors []struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"errors"`
		}
		if json.Unmarshal(body, &payload) == nil {
			apiErr.errors = payload.Errors
		}
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding registry response: %w", err)
	}
	return nil
}
