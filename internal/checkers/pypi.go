package checkers

import (
	"context"
	"fmt"
)

// PypiChecker resolves the latest release of a package published on PyPI.
type PypiChecker struct {
	base
}

// NewPypiChecker builds a PyPI checker.
func NewPypiChecker(meta Meta, opts Options) (UpstreamChecker, error) {
	b, err := newBase(meta, opts, "https://pypi.org")
	if err != nil {
		return nil, err
	}
	return &PypiChecker{base: b}, nil
}

// FetchVersion supports only the release method. Failures degrade to
// NoVersion; the result is stored and returned.
func (c *PypiChecker) FetchVersion(ctx context.Context, _ string) string {
	if c.meta.Method != MethodRelease {
		c.invalidMethod()
		return c.version
	}
	if err := c.byRelease(ctx); err != nil {
		c.recover(err)
	}
	return c.version
}

func (c *PypiChecker) byRelease(ctx context.Context) error {
	var pkg struct {
		Info struct {
			Version string `json:"version"`
		} `json:"info"`
	}
	url := fmt.Sprintf("%s/pypi/%s/json", c.api, c.meta.Tool)
	if err := c.getJSON(ctx, url, nil, nil, &pkg); err != nil {
		return err
	}
	if pkg.Info.Version == "" {
		c.setVersion(NoVersion)
		return nil
	}
	c.setVersion(pkg.Info.Version)
	return nil
}
