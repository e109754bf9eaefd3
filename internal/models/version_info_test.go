package models

import (
	"encoding/json"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLive struct {
	provider     string
	version      string
	extra        string
	origin       bool
	dockerOrigin bool
}

func (f *fakeLive) Provider() string         { return f.provider }
func (f *fakeLive) Version() string          { return f.version }
func (f *fakeLive) ExtraInfo() string        { return f.extra }
func (f *fakeLive) IsOrigin() bool           { return f.origin }
func (f *fakeLive) IsDockerOrigin() bool     { return f.dockerOrigin }
func (f *fakeLive) Describe() map[string]any { return map[string]any{"provider": f.provider} }

func TestVersionInfoLiveSourceOverrides(t *testing.T) {
	live := &fakeLive{provider: "github", version: "1.2", extra: "3 commits behind master.", origin: true}
	v := NewVersionInfo("1.1", TypeUpstream, LiveCheckerSource(live), nil, time.Now())

	assert.Equal(t, "1.2", v.Version(), "checker-stored version wins")
	assert.Equal(t, "github", v.Provider())
	assert.True(t, v.Origin())
	assert.Equal(t, "3 commits behind master.", v.ExtraInfo())
}

func TestVersionInfoEqualByNormalizedValue(t *testing.T) {
	now := time.Now()
	a := NewVersionInfo("v1.0", TypeLocal, NamedSource("Docker Hub"), nil, now)
	b := NewVersionInfo("1.0", TypeRemote, NamedSource("Quay"), nil, now.Add(time.Hour))
	c := NewVersionInfo("1.1", TypeRemote, NamedSource("Quay"), nil, now)

	assert.True(t, a.Equal(b), "type and source must not affect equality")
	assert.False(t, a.Equal(c))
	assert.True(t, a.EqualString("release-1.0"))
}

func TestVersionInfoSizeText(t *testing.T) {
	now := time.Now()
	tests := []struct {
		size int64
		want string
	}{
		{-1, "NaN"},
		{512, "512 bytes"},
		{39529754, "39.53 MB"},
		{3952975, "3.95 MB"},
		{2500, "2.50 KB"},
	}
	for _, tt := range tests {
		v := NewVersionInfo("1.0", TypeRemote, NamedSource("r"), nil, now).WithSize(tt.size)
		assert.Equal(t, tt.want, v.SizeText())
	}
}

func TestVersionInfoJSONRoundTripFlattensSource(t *testing.T) {
	live := &fakeLive{provider: "github", version: "2.0", origin: true}
	tags := mapset.NewSet("latest", "latest-stable")
	v := NewVersionInfo("", TypeUpstream, LiveCheckerSource(live), tags, time.Date(2020, 3, 3, 13, 37, 0, 0, time.UTC))

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var restored VersionInfo
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, "2.0", restored.Version())
	assert.Nil(t, restored.Source().Live(), "live checker must not round-trip")
	assert.Equal(t, "github", restored.Provider())
	assert.True(t, restored.Origin())
	assert.True(t, restored.Tags().Equal(tags))
}
