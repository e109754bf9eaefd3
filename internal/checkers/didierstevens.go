package checkers

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// DidierStevensChecker resolves versions for tools published in Didier
// Stevens' GitHub suite. The repository carries no releases or tags, so the
// checker reads the tool's source file through the contents API and parses
// the __version__ assignment out of it.
type DidierStevensChecker struct {
	base
}

// NewDidierStevensChecker builds a checker for the Didier Stevens suite.
func NewDidierStevensChecker(meta Meta, opts Options) (UpstreamChecker, error) {
	b, err := newBase(meta, opts, "https://api.github.com")
	if err != nil {
		return nil, err
	}
	return &DidierStevensChecker{base: b}, nil
}

func (c *DidierStevensChecker) headers() map[string]string {
	h := map[string]string{"Accept": "application/vnd.github.v3+json"}
	if c.token != "" {
		h["Authorization"] = "token " + c.token
	}
	return h
}

// FetchVersion supports only the release method. Failures degrade to
// NoVersion; the result is stored and returned.
func (c *DidierStevensChecker) FetchVersion(ctx context.Context, _ string) string {
	if c.meta.Method != MethodRelease {
		c.invalidMethod()
		return c.version
	}
	if err := c.byRelease(ctx); err != nil {
		c.recover(err)
	}
	return c.version
}

func (c *DidierStevensChecker) byRelease(ctx context.Context) error {
	var file struct {
		Content string `json:"content"`
	}
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s.py",
		c.api, c.meta.Repository, c.meta.Tool, c.meta.Tool)
	if err := c.getJSON(ctx, url, nil, c.headers(), &file); err != nil {
		return err
	}
	decoded, err := base64.StdEncoding.DecodeString(
		strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return fmt.Errorf("decoding file content: %w", err)
	}
	version := parseDunderVersion(string(decoded))
	if version == "" {
		c.logger.Error("__version__ not found in tool source",
			"tool", c.meta.Tool, "repository", c.meta.Repository)
		c.setVersion(NoVersion)
		return nil
	}
	c.setVersion(version)
	return nil
}

// parseDunderVersion reads the value of the first __version__ assignment in
// a Python source file.
func parseDunderVersion(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, "__version__")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		rest, ok = strings.CutPrefix(rest, "=")
		if !ok {
			continue
		}
		return strings.Trim(strings.TrimSpace(rest), `"'`)
	}
	return ""
}
