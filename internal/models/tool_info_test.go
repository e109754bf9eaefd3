package models

import (
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
)

func ver(value string, vt VersionType, tags ...string) *VersionInfo {
	return NewVersionInfo(value, vt, NamedSource("test"), mapset.NewSet(tags...), time.Now())
}

func TestGetLatestEmptyReturnsUndefined(t *testing.T) {
	tool := NewToolInfo("sample", time.Now(), "test")

	latest := tool.GetLatest()
	assert.Equal(t, VersionUndefined, latest.Version())
	assert.Equal(t, TypeUndefined, latest.Type())

	up := tool.GetLatestUpstream()
	assert.Equal(t, VersionUndefined, up.Version())
}

func TestGetLatestExcludesUpstream(t *testing.T) {
	tool := NewToolInfo("sample", time.Now(), "test")
	tool.AddVersion(ver("1.0", TypeLocal, "1.0"))
	tool.AddVersion(ver("1.1", TypeRemote, "1.1", "latest"))
	tool.AddVersion(ver("9.9", TypeUpstream))

	assert.Equal(t, "1.1", tool.GetLatest().Version())
}

func TestGetLatestOrdersDecoratedVersions(t *testing.T) {
	tool := NewToolInfo("sample", time.Now(), "test")
	tool.AddVersion(ver("1.2.3", TypeRemote, "a"))
	tool.AddVersion(ver("release-1.2.32-release-third", TypeRemote, "b"))
	tool.AddVersion(ver("1.2.31", TypeRemote, "c"))

	assert.Equal(t, "release-1.2.32-release-third", tool.GetLatest().Version())
}

func TestGetLatestUpstreamPrefersOriginEntries(t *testing.T) {
	tool := NewToolInfo("sample", time.Now(), "test")
	tool.AddVersion(ver("3.0", TypeUpstream))
	tool.AddVersion(ver("2.0", TypeUpstream).WithOrigin(true))

	assert.Equal(t, "2.0", tool.GetLatestUpstream().Version())
}

func TestGetLatestRemotePicksLatestTag(t *testing.T) {
	now := time.Now()
	tool := NewToolInfo("sample", now, "test")

	old := NewVersionInfo("1.0", TypeRemote, NamedSource("r"), mapset.NewSet("latest"), now.Add(-time.Hour))
	fresh := NewVersionInfo("0.9", TypeRemote, NamedSource("r"), mapset.NewSet("latest", "dev"), now)
	tool.AddVersion(old)
	tool.AddVersion(fresh)
	tool.AddVersion(ver("2.0", TypeRemote, "experimental"))

	assert.Equal(t, "0.9", tool.GetLatestRemote().Version(), "newest observation with the latest tag wins")
}

func TestOriginVersionSentinels(t *testing.T) {
	tool := NewToolInfo("sample", time.Now(), "test")
	tool.AddVersion(ver("1.0", TypeUpstream))

	assert.Equal(t, "Not implemented", tool.GetOriginVersion().Version())

	tool.AddVersion(ver("1.1", TypeUpstream).WithOrigin(true))
	tool.AddVersion(ver("1.0.9", TypeUpstream).WithDockerOrigin(true))

	assert.Equal(t, "1.1", tool.GetOriginVersion().Version())
	// Docker origin lookup accepts either flag, newest observation wins.
	assert.NotEqual(t, "Not implemented", tool.GetDockerOriginVersion().Version())
}

func TestAddVersionMergesTags(t *testing.T) {
	tool := NewToolInfo("sample", time.Now(), "test")
	tool.AddVersion(ver("1.0", TypeLocal, "1.0"))
	tool.AddVersion(ver("1.0", TypeLocal, "latest"))

	assert.Len(t, tool.Versions, 1)
	assert.True(t, tool.Versions[0].Tags().Contains("latest"))
	assert.True(t, tool.Versions[0].Tags().Contains("1.0"))
}

func TestToolEqualityComparesNameAndLatestOnly(t *testing.T) {
	a := NewToolInfo("sample", time.Now(), "local")
	a.AddVersion(ver("0.9", TypeLocal))
	a.AddVersion(ver("1.0", TypeLocal))

	b := NewToolInfo("sample", time.Now(), "remote")
	b.AddVersion(ver("v1.0", TypeRemote))

	c := NewToolInfo("other", time.Now(), "remote")
	c.AddVersion(ver("1.0", TypeRemote))

	assert.True(t, a.Equal(b), "history and location must not affect equality")
	assert.False(t, a.Equal(c))
}
