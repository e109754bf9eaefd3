package checkers

import (
	"context"
	"fmt"
	"net/url"
)

// BitbucketChecker resolves the latest version of a tool hosted on
// Bitbucket, using API 2.0. The release method reads the newest entry in
// the downloads section; tag-release sorts repository tags by name.
type BitbucketChecker struct {
	base
}

// NewBitbucketChecker builds a Bitbucket checker.
func NewBitbucketChecker(meta Meta, opts Options) (UpstreamChecker, error) {
	b, err := newBase(meta, opts, "https://api.bitbucket.org/2.0")
	if err != nil {
		return nil, err
	}
	return &BitbucketChecker{base: b}, nil
}

// FetchVersion dispatches on the configured method. Failures degrade to
// NoVersion; the result is stored and returned.
func (c *BitbucketChecker) FetchVersion(ctx context.Context, _ string) string {
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

type bitbucketValues struct {
	Values []struct {
		Name string `json:"name"`
	} `json:"values"`
}

func (c *BitbucketChecker) byRelease(ctx context.Context) error {
	var downloads bitbucketValues
	url := fmt.Sprintf("%s/repositories/%s/%s/downloads", c.api, c.meta.Repository, c.meta.Tool)
	if err := c.getJSON(ctx, url, nil, nil, &downloads); err != nil {
		return err
	}
	if len(downloads.Values) == 0 {
		c.setVersion(NoVersion)
		return nil
	}
	c.setVersion(downloads.Values[0].Name)
	return nil
}

func (c *BitbucketChecker) byTag(ctx context.Context) error {
	var tags bitbucketValues
	params := url.Values{"sort": {"-name"}}
	u := fmt.Sprintf("%s/repositories/%s/%s/refs/tags", c.api, c.meta.Repository, c.meta.Tool)
	if err := c.getJSON(ctx, u, params, nil, &tags); err != nil {
		return err
	}
	if len(tags.Values) == 0 {
		c.setVersion(NoVersion)
		return nil
	}
	c.setVersion(tags.Values[0].Name)
	return nil
}
