package checkers

import (
	"context"
	"fmt"
	"net/url"
)

// GitLabChecker resolves the latest version of a tool hosted on GitLab,
// using API v4. Supports the release and tag-release methods.
type GitLabChecker struct {
	base
	project string
}

// NewGitLabChecker builds a GitLab checker.
func NewGitLabChecker(meta Meta, opts Options) (UpstreamChecker, error) {
	b, err := newBase(meta, opts, "https://gitlab.com/api/v4")
	if err != nil {
		return nil, err
	}
	// Project ID is the URL-encoded namespace/project pair.
	return &GitLabChecker{
		base:    b,
		project: url.PathEscape(b.meta.Repository + "/" + b.meta.Tool),
	}, nil
}

func (c *GitLabChecker) headers() map[string]string {
	if c.token == "" {
		return nil
	}
	return map[string]string{"PRIVATE-TOKEN": c.token}
}

// FetchVersion dispatches on the configured method. Failures degrade to
// NoVersion; the result is stored and returned.
func (c *GitLabChecker) FetchVersion(ctx context.Context, _ string) string {
	var err error
	switch c.meta.Method {
	case MethodRelease:
		err = c.byRelease(ctx)
	case MethodTagRelease:
		err = c.byTag(ctx)
	default:
		c.invalidMethod()
		return c.version
	}
	if err != nil {
		c.recover(err)
	}
	return c.version
}

type gitlabRef struct {
	Name string `json:"name"`
}

// byRelease finds the most recent release; GitLab orders them newest first.
func (c *GitLabChecker) byRelease(ctx context.Context) error {
	var releases []gitlabRef
	url := fmt.Sprintf("%s/projects/%s/releases", c.api, c.project)
	if err := c.getJSON(ctx, url, nil, c.headers(), &releases); err != nil {
		return err
	}
	if len(releases) == 0 {
		c.setVersion(NoVersion)
		return nil
	}
	c.setVersion(releases[0].Name)
	return nil
}

// byTag finds the most recent repository tag.
func (c *GitLabChecker) byTag(ctx context.Context) error {
	var tags []gitlabRef
	url := fmt.Sprintf("%s/projects/%s/repository/tags", c.api, c.project)
	if err := c.getJSON(ctx, url, nil, c.headers(), &tags); err != nil {
		return err
	}
	if len(tags) == 0 {
		c.setVersion(NoVersion)
		return nil
	}
	c.setVersion(tags[0].Name)
	return nil
}
