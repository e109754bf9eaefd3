package registry

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/cincan/cincan-registry/internal/models"
)

type fakeDocker struct {
	pingErr error
	images  []image.Summary
	// image ID -> env
	envs map[string][]string
}

func (f *fakeDocker) Ping(context.Context) (types.Ping, error) {
	return types.Ping{}, f.pingErr
}

func (f *fakeDocker) ImageList(context.Context, image.ListOptions) ([]image.Summary, error) {
	return f.images, nil
}

func (f *fakeDocker) ImageInspectWithRaw(_ context.Context, id string) (types.ImageInspect, []byte, error) {
	env, ok := f.envs[id]
	if !ok {
		return types.ImageInspect{}, nil, errors.New("no such image")
	}
	return types.ImageInspect{Config: &container.Config{Env: env}}, nil, nil
}

func testDaemon(api dockerAPI) *Daemon {
	return NewDaemon(DaemonOptions{Prefix: "cincan/", API: api})
}

func sampleDocker() *fakeDocker {
	created := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC).Unix()
	return &fakeDocker{
		images: []image.Summary{
			{
				ID:       "img1",
				RepoTags: []string{"cincan/radamsa:latest", "cincan/radamsa:stable"},
				Created:  created,
				Size:     2048,
			},
			{
				ID:       "img2",
				RepoTags: []string{"cincan/radamsa:old"},
				Created:  created - 3600,
				Size:     1024,
			},
			{
				ID:       "img3",
				RepoTags: []string{"ubuntu:20.04"},
				Created:  created,
				Size:     4096,
			},
		},
		envs: map[string][]string{
			"img1": {"TOOL_VERSION=1.1"},
			"img2": {"TOOL_VERSION=1.0"},
			"img3": {},
		},
	}
}

func TestDaemonListTools(t *testing.T) {
	d := testDaemon(sampleDocker())

	tools := d.ListTools(context.Background(), "")
	require.Len(t, tools, 1, "non-prefixed images are excluded")

	tool := tools["radamsa"]
	require.NotNil(t, tool)
	require.Len(t, tool.Versions, 2)
	assert.Equal(t, "1.1", tool.GetLatest().Version())
	assert.Equal(t, models.TypeLocal, tool.GetLatest().Type())
	assert.True(t, tool.GetLatest().Tags().Contains("latest"))
	assert.True(t, tool.GetLatest().Tags().Contains("stable"))
	assert.Equal(t, int64(2048), tool.GetLatest().RawSize())
}

func TestDaemonListToolsByTag(t *testing.T) {
	d := testDaemon(sampleDocker())

	tools := d.ListTools(context.Background(), "old")
	require.Len(t, tools, 1)
	require.Len(t, tools["radamsa"].Versions, 1)
	assert.Equal(t, "1.0", tools["radamsa"].GetLatest().Version())

	assert.Empty(t, d.ListTools(context.Background(), "nonexistent"))
}

func TestDaemonToolByName(t *testing.T) {
	d := testDaemon(sampleDocker())

	tool := d.ToolByName(context.Background(), "cincan/radamsa")
	require.NotNil(t, tool)
	assert.Equal(t, "radamsa", tool.Name())
	require.Len(t, tool.Versions, 2)
	assert.Equal(t, "1.1", tool.GetLatest().Version())
}

func TestDaemonMissingVersionMarker(t *testing.T) {
	f := sampleDocker()
	f.envs["img1"] = []string{"PATH=/usr/bin"}
	f.envs["img2"] = nil
	d := testDaemon(f)

	tools := d.ListTools(context.Background(), "")
	require.Len(t, tools, 1)
	assert.Equal(t, models.VersionUndefined, tools["radamsa"].GetLatest().Version())
}

func TestDaemonUnavailableDegradesToEmpty(t *testing.T) {
	d := testDaemon(&fakeDocker{pingErr: errors.New("cannot connect to the Docker daemon")})

	assert.Empty(t, d.ListTools(context.Background(), ""))
	assert.Nil(t, d.ToolByName(context.Background(), "cincan/radamsa"))
	assert.False(t, d.Available(context.Background()))
}

func TestDaemonWithoutClient(t *testing.T) {
	d := &Daemon{prefix: "cincan/", versionVar: DefaultVersionVar, logger: slog.Default()}
	assert.False(t, d.Available(context.Background()))
	assert.Empty(t, d.ListTools(context.Background(), ""))
}
