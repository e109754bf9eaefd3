package checkers

import (
	"context"
	"fmt"
)

// DebianChecker resolves the version of a source package in the Debian
// archive, qualified by suite (stable, buster, sid, ...).
type DebianChecker struct {
	base
}

// NewDebianChecker builds a Debian checker.
func NewDebianChecker(meta Meta, opts Options) (UpstreamChecker, error) {
	b, err := newBase(meta, opts, "https://sources.debian.org/api/src")
	if err != nil {
		return nil, err
	}
	return &DebianChecker{base: b}, nil
}

// FetchVersion supports only the release method. Failures degrade to
// NoVersion; the result is stored and returned.
func (c *DebianChecker) FetchVersion(ctx context.Context, _ string) string {
	if c.meta.Method != MethodRelease {
		c.invalidMethod()
		return c.version
	}
	if err := c.byRelease(ctx); err != nil {
		c.recover(err)
	}
	return c.version
}

func (c *DebianChecker) byRelease(ctx context.Context) error {
	var pkg struct {
		Versions []struct {
			Version string   `json:"version"`
			Suites  []string `json:"suites"`
		} `json:"versions"`
	}
	url := fmt.Sprintf("%s/%s", c.api, c.meta.Tool)
	if err := c.getJSON(ctx, url, nil, nil, &pkg); err != nil {
		return err
	}
	for _, v := range pkg.Versions {
		for _, suite := range v.Suites {
			if suite == c.meta.Suite {
				c.setVersion(v.Version)
				return nil
			}
		}
	}
	c.logger.Error("selected suite not found for Debian package",
		"tool", c.meta.Tool, "suite", c.meta.Suite)
	c.setVersion(NoVersion)
	return nil
}
