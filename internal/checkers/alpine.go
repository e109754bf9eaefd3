package checkers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const alpineVersionVariable = "pkgver"

// AlpineChecker resolves the packaged version of an Alpine aports package by
// fetching the raw APKBUILD file and reading its pkgver variable.
type AlpineChecker struct {
	base
}

// NewAlpineChecker builds an Alpine checker.
func NewAlpineChecker(meta Meta, opts Options) (UpstreamChecker, error) {
	b, err := newBase(meta, opts, "https://git.alpinelinux.org/aports/plain")
	if err != nil {
		return nil, err
	}
	return &AlpineChecker{base: b}, nil
}

// FetchVersion supports only the release method. Failures degrade to
// NoVersion; the result is stored and returned.
func (c *AlpineChecker) FetchVersion(ctx context.Context, _ string) string {
	if c.meta.Method != MethodRelease {
		c.invalidMethod()
		return c.version
	}
	if err := c.byRelease(ctx); err != nil {
		c.recover(err)
	}
	return c.version
}

func (c *AlpineChecker) byRelease(ctx context.Context) error {
	u := fmt.Sprintf("%s/%s/%s/APKBUILD", c.api, c.meta.Repository, c.meta.Tool)
	params := url.Values{"h": {"master"}}
	body, err := c.get(ctx, u, params, nil)
	if err != nil {
		return err
	}
	version := parseAPKBuildVersion(string(body))
	if version == "" {
		c.logger.Error("pkgver not found in APKBUILD",
			"tool", c.meta.Tool, "repository", c.meta.Repository)
		c.setVersion(NoVersion)
		return nil
	}
	c.setVersion(version)
	return nil
}

// parseAPKBuildVersion scans an APKBUILD for its pkgver assignment. APKBUILDs
// are shell scripts; the value is taken verbatim after the equals sign.
func parseAPKBuildVersion(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if value, ok := strings.CutPrefix(line, alpineVersionVariable+"="); ok {
			return strings.Trim(value, `"'`)
		}
	}
	return ""
}
