package models

import (
	"encoding/json"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"gitlab.com/cincan/cincan-registry/internal/version"
)

// LatestTag is the container tag conventionally pointing at the newest build.
const LatestTag = "latest"

// UndefinedVersion returns the sentinel used when a tool has no versions in
// the requested scope. Callers never see a nil version or an error for empty
// input.
func UndefinedVersion() *VersionInfo {
	return NewVersionInfo(VersionUndefined, TypeUndefined, NamedSource(""), nil, time.Time{})
}

// NotImplementedVersion returns the sentinel used when no origin (or docker
// origin) upstream entry is configured for a tool.
func NotImplementedVersion() *VersionInfo {
	return NewVersionInfo("Not implemented", TypeUndefined, NamedSource(""), nil, time.Time{})
}

// ToolInfo aggregates every observed version of one named tool.
type ToolInfo struct {
	name        string
	Updated     time.Time
	Location    string
	Description string
	Versions    []*VersionInfo
}

// NewToolInfo creates a tool record. The name is the unique key and cannot
// be empty.
func NewToolInfo(name string, updated time.Time, location string) *ToolInfo {
	return &ToolInfo{name: name, Updated: updated, Location: location}
}

// Name returns the unique tool name.
func (t *ToolInfo) Name() string { return t.name }

// AddVersion appends a version observation. When an observation with the
// same version value and type already exists, its tag set is merged instead.
func (t *ToolInfo) AddVersion(v *VersionInfo) {
	for _, existing := range t.Versions {
		if existing.versionType == v.versionType && existing.Version() == v.Version() {
			existing.tags = existing.tags.Union(v.tags)
			return
		}
	}
	t.Versions = append(t.Versions, v)
}

// sortDescending orders versions by normalized value, newest first. Opaque
// versions sink below numeric ones; order among equal keys is preserved so
// the first-seen observation wins ties.
func sortDescending(versions []*VersionInfo) []*VersionInfo {
	out := make([]*VersionInfo, len(versions))
	copy(out, versions)
	sort.SliceStable(out, func(i, j int) bool {
		return version.Compare(out[i].Normalized(), out[j].Normalized()) > 0
	})
	return out
}

func latestByTime(versions []*VersionInfo) *VersionInfo {
	var best *VersionInfo
	for _, v := range versions {
		if best == nil || v.Updated().After(best.Updated()) {
			best = v
		}
	}
	return best
}

// GetLatest returns the newest local or remote version by normalized value.
// Upstream versions are excluded; an empty collection yields the undefined
// sentinel, never an error.
func (t *ToolInfo) GetLatest() *VersionInfo {
	var include []*VersionInfo
	for _, v := range t.Versions {
		if v.Type() != TypeUpstream {
			include = append(include, v)
		}
	}
	return firstOrUndefined(sortDescending(include))
}

// GetLatestUpstream returns the newest upstream version. Versions flagged as
// origin take precedence over the rest when any exist.
func (t *ToolInfo) GetLatestUpstream() *VersionInfo {
	var include, origins []*VersionInfo
	for _, v := range t.Versions {
		if v.Type() != TypeUpstream {
			continue
		}
		include = append(include, v)
		if v.Origin() {
			origins = append(origins, v)
		}
	}
	if len(origins) > 0 {
		include = origins
	}
	return firstOrUndefined(sortDescending(include))
}

// GetLatestRemote returns the remote version carrying the "latest" tag,
// newest by observation time when several qualify.
func (t *ToolInfo) GetLatestRemote() *VersionInfo {
	var include []*VersionInfo
	for _, v := range t.Versions {
		if v.Type() == TypeRemote && v.Tags().Contains(LatestTag) {
			include = append(include, v)
		}
	}
	if best := latestByTime(include); best != nil {
		return best
	}
	return UndefinedVersion()
}

// GetOriginVersion returns the upstream version marked as the very origin of
// the tool, or the not-implemented sentinel.
func (t *ToolInfo) GetOriginVersion() *VersionInfo {
	return t.originVersion(false)
}

// GetDockerOriginVersion returns the upstream version the build recipe
// installs from, or the not-implemented sentinel.
func (t *ToolInfo) GetDockerOriginVersion() *VersionInfo {
	return t.originVersion(true)
}

func (t *ToolInfo) originVersion(forDocker bool) *VersionInfo {
	var matches []*VersionInfo
	for _, v := range t.Versions {
		if v.Type() != TypeUpstream {
			continue
		}
		if v.Origin() || (forDocker && v.DockerOrigin()) {
			matches = append(matches, v)
		}
	}
	if best := latestByTime(matches); best != nil {
		return best
	}
	return NotImplementedVersion()
}

func firstOrUndefined(versions []*VersionInfo) *VersionInfo {
	if len(versions) == 0 {
		return UndefinedVersion()
	}
	return versions[0]
}

// Equal compares two tools by name and latest version only; version history
// is deliberately ignored.
func (t *ToolInfo) Equal(o *ToolInfo) bool {
	if o == nil {
		return false
	}
	return t.name == o.name && t.GetLatest().Equal(o.GetLatest())
}

// toolInfoJSON is the persisted wire form.
type toolInfoJSON struct {
	Name        string         `json:"name"`
	Updated     time.Time      `json:"updated"`
	Location    string         `json:"location"`
	Description string         `json:"description"`
	Versions    []*VersionInfo `json:"versions"`
}

// MarshalJSON serializes the tool with its full version collection.
func (t *ToolInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(toolInfoJSON{
		Name:        t.name,
		Updated:     t.Updated,
		Location:    t.Location,
		Description: t.Description,
		Versions:    t.Versions,
	})
}

// UnmarshalJSON restores a persisted tool record.
func (t *ToolInfo) UnmarshalJSON(data []byte) error {
	var w toolInfoJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.name = w.Name
	t.Updated = w.Updated
	t.Location = w.Location
	t.Description = w.Description
	t.Versions = w.Versions
	for _, v := range t.Versions {
		if v.tags == nil {
			v.tags = mapset.NewSet[string]()
		}
	}
	return nil
}
