// Package checkers implements the pluggable upstream version checkers. One
// implementation exists per provider (GitHub, GitLab, Bitbucket, PyPI,
// Debian, Alpine plus specialized variants), each answering a single
// question: what is the latest version of a tool at its source of truth.
//
// Checkers never fail loudly. Network problems and bad provider responses
// degrade to the NoVersion sentinel and a log line, so one broken provider
// cannot abort a reconciliation run.
package checkers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// NoVersion is returned by every checker when the latest version could not
// be determined. It keeps version comparisons total: the sentinel contains
// no digits, so it sorts below any real version.
const NoVersion = "Not found"

// Query methods understood by providers. Not every provider supports every
// method; an unsupported method degrades to NoVersion without a network call.
const (
	MethodRelease    = "release"
	MethodTagRelease = "tag-release"
	MethodCommit     = "commit"
)

// DefaultTimeout bounds every provider API call.
const DefaultTimeout = 20 * time.Second

// ErrInvalidConfig marks checker configurations that cannot identify a tool:
// neither a direct URI nor the (repository, tool, provider) triple is set.
var ErrInvalidConfig = errors.New("invalid checker configuration")

// Meta is the checker configuration of one upstream entry, parsed from a
// tool's meta.json "upstreams" list.
type Meta struct {
	URI           string `json:"uri"`
	Repository    string `json:"repository"`
	Tool          string `json:"tool"`
	Provider      string `json:"provider"`
	Method        string `json:"method"`
	Suite         string `json:"suite"`
	Origin        bool   `json:"origin"`
	DockerOrigin  bool   `json:"docker_origin"`
	TokenProvider string `json:"token_provider"`
}

// Options carries construction-time collaborators shared by all providers.
type Options struct {
	// Token authenticates provider API calls. Optional.
	Token string
	// Timeout bounds each HTTP request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// BaseURL overrides the provider API root, used by tests.
	BaseURL string
	// Logger for degradation warnings. Defaults to slog.Default.
	Logger *slog.Logger
	// Client overrides the HTTP client. Defaults to one built from Timeout.
	Client *http.Client
}

// UpstreamChecker fetches the latest version of one tool from one provider.
// FetchVersion never returns an error: failures degrade to NoVersion. The
// fetched value is also stored on the checker and retrievable via Version,
// alongside optional free-text ExtraInfo.
type UpstreamChecker interface {
	Provider() string
	Version() string
	ExtraInfo() string
	IsOrigin() bool
	IsDockerOrigin() bool
	Describe() map[string]any
	Meta() Meta
	FetchVersion(ctx context.Context, currentHint string) string
}

// Factory builds a checker for one provider.
type Factory func(meta Meta, opts Options) (UpstreamChecker, error)

// registry maps lowercase provider identifiers to constructors. Consumers
// look checkers up by the provider string in per-tool metadata.
var registry = map[string]Factory{
	"github":               NewGitHubChecker,
	"gitlab":               NewGitLabChecker,
	"bitbucket":            NewBitbucketChecker,
	"pypi":                 NewPypiChecker,
	"debian":               NewDebianChecker,
	"alpine":               NewAlpineChecker,
	"didierstevens@github": NewDidierStevensChecker,
}

// Providers returns the known provider identifiers.
func Providers() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// Supported reports whether a provider identifier has a checker.
func Supported(provider string) bool {
	_, ok := registry[strings.ToLower(provider)]
	return ok
}

// New constructs the checker for the provider named in meta.
func New(meta Meta, opts Options) (UpstreamChecker, error) {
	factory, ok := registry[strings.ToLower(meta.Provider)]
	if !ok {
		return nil, fmt.Errorf("%w: no checker for provider %q", ErrInvalidConfig, meta.Provider)
	}
	return factory(meta, opts)
}

// base carries the state and HTTP plumbing shared by every provider.
type base struct {
	meta      Meta
	token     string
	timeout   time.Duration
	client    *http.Client
	logger    *slog.Logger
	api       string
	version   string
	extraInfo string
}

func newBase(meta Meta, opts Options, defaultAPI string) (base, error) {
	if meta.URI == "" && (meta.Repository == "" || meta.Tool == "" || meta.Provider == "") {
		return base{}, fmt.Errorf(
			"%w: either uri or repository, tool and provider must be set for tool %q",
			ErrInvalidConfig, meta.Tool)
	}
	meta.Repository = strings.Trim(meta.Repository, "/")
	meta.Tool = strings.Trim(meta.Tool, "/")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	api := opts.BaseURL
	if api == "" {
		api = defaultAPI
	}
	return base{
		meta:    meta,
		token:   opts.Token,
		timeout: timeout,
		client:  client,
		logger:  logger,
		api:     strings.TrimRight(api, "/"),
	}, nil
}

func (b *base) Meta() Meta           { return b.meta }
func (b *base) Provider() string     { return strings.ToLower(b.meta.Provider) }
func (b *base) Version() string      { return b.version }
func (b *base) ExtraInfo() string    { return b.extraInfo }
func (b *base) IsOrigin() bool       { return b.meta.Origin }
func (b *base) IsDockerOrigin() bool { return b.meta.DockerOrigin }

// Describe exposes the checker configuration and last fetch result for
// report detail sections.
func (b *base) Describe() map[string]any {
	return map[string]any{
		"uri":           b.meta.URI,
		"repository":    b.meta.Repository,
		"tool":          b.meta.Tool,
		"provider":      b.meta.Provider,
		"method":        b.meta.Method,
		"suite":         b.meta.Suite,
		"origin":        b.meta.Origin,
		"docker_origin": b.meta.DockerOrigin,
		"version":       b.version,
		"extra_info":    b.extraInfo,
	}
}

// setVersion records a fetch result, preserving it for Version callers.
func (b *base) setVersion(v string) { b.version = v }

// invalidMethod handles an unsupported configured query method: sentinel
// immediately, no network call.
func (b *base) invalidMethod() {
	b.logger.Error("invalid query method for provider",
		"provider", b.meta.Provider, "tool", b.meta.Tool, "method", b.meta.Method)
	b.version = NoVersion
}

// recover classifies a fetch failure and degrades to the sentinel.
func (b *base) recover(err error) {
	b.version = NoVersion
	var apiErr *apiError
	switch {
	case isTimeout(err):
		b.logger.Warn("connection timed out when checking upstream",
			"tool", b.meta.Tool, "provider", b.meta.Provider)
	case errors.As(err, &apiErr):
		b.logger.Error("failed to fetch version update information",
			"tool", b.meta.Tool, "provider", b.meta.Provider,
			"status", apiErr.status, "detail", apiErr.message)
	default:
		b.logger.Warn("failed to connect to provider when checking upstream",
			"tool", b.meta.Tool, "provider", b.meta.Provider, "error", err)
	}
}

// apiError is a non-200 provider response with its error payload when one
// was present.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("provider API error: status %d: %s", e.status, e.message)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// getJSON performs a GET and decodes a JSON body into out. Non-200 responses
// become apiError with any "message"/"error" field extracted from the body.
func (b *base) getJSON(ctx context.Context, rawURL string, params url.Values, headers map[string]string, out any) error {
	body, err := b.get(ctx, rawURL, params, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding provider response: %w", err)
	}
	return nil
}

// get performs a GET and returns the raw body. Used directly by providers
// that parse versions out of fetched file content instead of a JSON field.
func (b *base) get(ctx context.Context, rawURL string, params url.Values, headers map[string]string) ([]byte, error) {
	if len(params) > 0 {
		rawURL = rawURL + "?" + params.Encode()
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{status: resp.StatusCode, message: extractAPIMessage(body)}
	}
	return body, nil
}

// extractAPIMessage pulls the human-readable error out of a provider error
// payload, falling back to a truncated raw body.
func extractAPIMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	const max = 200
	s := string(body)
	if len(s) > max {
		s = s[:max]
	}
	return s
}
