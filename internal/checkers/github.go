package checkers

import (
	"context"
	"fmt"
	"time"
)

// GitHubChecker resolves the latest version of a tool hosted on GitHub,
// using API v3. Three methods are supported: latest release, latest tag by
// tagged-commit date, and latest commit on the default branch.
//
// Unauthenticated requests are limited to 60 per hour; supply a zero-scope
// token to raise the limit.
type GitHubChecker struct {
	base
}

// NewGitHubChecker builds a GitHub checker.
func NewGitHubChecker(meta Meta, opts Options) (UpstreamChecker, error) {
	b, err := newBase(meta, opts, "https://api.github.com")
	if err != nil {
		return nil, err
	}
	return &GitHubChecker{base: b}, nil
}

func (c *GitHubChecker) headers() map[string]string {
	h := map[string]string{"Accept": "application/vnd.github.v3+json"}
	if c.token != "" {
		h["Authorization"] = "token " + c.token
	}
	return h
}

func (c *GitHubChecker) repoURL(parts ...string) string {
	url := fmt.Sprintf("%s/repos/%s/%s", c.api, c.meta.Repository, c.meta.Tool)
	for _, p := range parts {
		url += "/" + p
	}
	return url
}

// FetchVersion dispatches on the configured method. Failures degrade to
// NoVersion; the result is stored and returned.
func (c *GitHubChecker) FetchVersion(ctx context.Context, currentHint string) string {
	var err error
	switch c.meta.Method {
	case MethodRelease:
		err = c.byRelease(ctx)
	case MethodTagRelease:
		err = c.byTag(ctx)
	case MethodCommit:
		err = c.byCommit(ctx, currentHint)
	default:
		c.invalidMethod()
		return c.version
	}
	if err != nil {
		c.recover(err)
	}
	return c.version
}

// byRelease finds the latest published release, pre-releases excluded.
func (c *GitHubChecker) byRelease(ctx context.Context) error {
	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := c.getJSON(ctx, c.repoURL("releases", "latest"), nil, c.headers(), &release); err != nil {
		return err
	}
	if release.TagName == "" {
		c.setVersion(NoVersion)
		return nil
	}
	c.setVersion(release.TagName)
	return nil
}

type githubTag struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// byTag finds the latest tag by the date of its tagged commit. This is the
// slow path: one extra API call per tag. Ties on commit date keep the first
// tag in the order the API returned them.
func (c *GitHubChecker) byTag(ctx context.Context) error {
	var tags []githubTag
	if err := c.getJSON(ctx, c.repoURL("tags"), nil, c.headers(), &tags); err != nil {
		return err
	}
	if len(tags) == 0 {
		c.setVersion(NoVersion)
		return nil
	}
	var (
		bestTag  string
		bestDate time.Time
	)
	for _, tag := range tags {
		date, err := c.commitDate(ctx, tag.Commit.SHA)
		if err != nil {
			c.logger.Error("unable to fetch commit date for tag",
				"tool", c.meta.Tool, "tag", tag.Name, "error", err)
			continue
		}
		if bestTag == "" || date.After(bestDate) {
			bestTag = tag.Name
			bestDate = date
		}
	}
	if bestTag == "" {
		c.setVersion(NoVersion)
		return nil
	}
	c.setVersion(bestTag)
	return nil
}

func (c *GitHubChecker) commitDate(ctx context.Context, sha string) (time.Time, error) {
	var commit struct {
		Author struct {
			Date time.Time `json:"date"`
		} `json:"author"`
	}
	if err := c.getJSON(ctx, c.repoURL("git", "commits", sha), nil, c.headers(), &commit); err != nil {
		return time.Time{}, err
	}
	return commit.Author.Date, nil
}

// byCommit resolves the latest commit on master. With a comparable commit
// hint it also records how many commits the hint is behind.
func (c *GitHubChecker) byCommit(ctx context.Context, currentCommit string) error {
	if currentCommit != "" {
		var cmp struct {
			BehindBy   int `json:"behind_by"`
			BaseCommit struct {
				SHA string `json:"sha"`
			} `json:"base_commit"`
		}
		url := c.repoURL("compare", "master..."+currentCommit)
		if err := c.getJSON(ctx, url, nil, c.headers(), &cmp); err != nil {
			return err
		}
		c.extraInfo = fmt.Sprintf("%d commits behind master.", cmp.BehindBy)
		c.setVersion(cmp.BaseCommit.SHA)
		return nil
	}
	var commit struct {
		SHA string `json:"sha"`
	}
	if err := c.getJSON(ctx, c.repoURL("commits", "master"), nil, c.headers(), &commit); err != nil {
		return err
	}
	c.setVersion(commit.SHA)
	c.extraInfo = "Current commit in master."
	return nil
}
