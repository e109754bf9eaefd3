package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"gitlab.com/cincan/cincan-registry/internal/version"
)

// VersionType tells where a version observation came from.
type VersionType string

const (
	TypeLocal     VersionType = "local"    // image in the local daemon
	TypeRemote    VersionType = "remote"   // tag in the remote registry
	TypeUpstream  VersionType = "upstream" // origin of the tool, e.g. GitHub
	TypeUndefined VersionType = "undefined"
)

// VersionUndefined is the placeholder version used instead of failing when
// no version can be determined. Comparisons against it stay total.
const VersionUndefined = "undefined"

// LiveSource is a provider attached to a version during a reconciliation
// pass. Checkers satisfy it; the persisted form only keeps the provider name.
type LiveSource interface {
	Provider() string
	Version() string
	ExtraInfo() string
	IsOrigin() bool
	IsDockerOrigin() bool
	Describe() map[string]any
}

// ProviderRef names the source of a version observation. It is either a
// plain provider name (the only form that persists) or a live checker
// carried during a single run.
type ProviderRef struct {
	name string
	live LiveSource
}

// NamedSource builds a ProviderRef from a plain provider name.
func NamedSource(name string) ProviderRef { return ProviderRef{name: name} }

// LiveCheckerSource builds a ProviderRef wrapping a live checker.
func LiveCheckerSource(c LiveSource) ProviderRef { return ProviderRef{live: c} }

// Provider returns the provider name, from the live checker when present.
func (p ProviderRef) Provider() string {
	if p.live != nil {
		return p.live.Provider()
	}
	return p.name
}

// Live returns the attached checker, nil for cached references.
func (p ProviderRef) Live() LiveSource { return p.live }

func (p ProviderRef) String() string { return p.Provider() }

// VersionInfo is one observed version of a tool, tagged by origin type and
// provenance source.
type VersionInfo struct {
	value        string
	versionType  VersionType
	source       ProviderRef
	tags         mapset.Set[string]
	updated      time.Time
	origin       bool
	dockerOrigin bool
	size         int64
}

// NewVersionInfo creates a version observation. Tags may be nil.
func NewVersionInfo(value string, vt VersionType, source ProviderRef, tags mapset.Set[string], updated time.Time) *VersionInfo {
	if tags == nil {
		tags = mapset.NewSet[string]()
	}
	return &VersionInfo{
		value:       value,
		versionType: vt,
		source:      source,
		tags:        tags,
		updated:     updated,
		size:        -1,
	}
}

// WithOrigin marks this version as the authoritative upstream of record.
func (v *VersionInfo) WithOrigin(origin bool) *VersionInfo {
	v.origin = origin
	return v
}

// WithDockerOrigin marks this version as the one the build recipe installs.
func (v *VersionInfo) WithDockerOrigin(dockerOrigin bool) *VersionInfo {
	v.dockerOrigin = dockerOrigin
	return v
}

// WithSize sets the image size in bytes.
func (v *VersionInfo) WithSize(size int64) *VersionInfo {
	v.size = size
	return v
}

// Version returns the version value. A live checker that has fetched a
// version overrides the stored value.
func (v *VersionInfo) Version() string {
	if live := v.source.Live(); live != nil && live.Version() != "" {
		v.value = live.Version()
	}
	return v.value
}

// SetVersion replaces the version value; empty values are rejected.
func (v *VersionInfo) SetVersion(value string) error {
	if value == "" {
		return fmt.Errorf("cannot set empty version value")
	}
	v.value = value
	return nil
}

// Type returns where this version was observed.
func (v *VersionInfo) Type() VersionType { return v.versionType }

// Source returns the provenance reference.
func (v *VersionInfo) Source() ProviderRef { return v.source }

// SetSource replaces the provenance reference.
func (v *VersionInfo) SetSource(ref ProviderRef) { v.source = ref }

// Provider returns the provider name of the source.
func (v *VersionInfo) Provider() string { return v.source.Provider() }

// Tags returns the mutually exclusive grouping labels, e.g. container tags.
func (v *VersionInfo) Tags() mapset.Set[string] { return v.tags }

// Updated returns the observation timestamp.
func (v *VersionInfo) Updated() time.Time { return v.updated }

// SetUpdated replaces the observation timestamp.
func (v *VersionInfo) SetUpdated(t time.Time) { v.updated = t }

// Origin reports whether this is the authoritative upstream of record.
// A live checker overrides the stored flag.
func (v *VersionInfo) Origin() bool {
	if live := v.source.Live(); live != nil {
		v.origin = live.IsOrigin()
	}
	return v.origin
}

// DockerOrigin reports whether this upstream is what the build recipe
// actually installs, which may lag the true origin.
func (v *VersionInfo) DockerOrigin() bool {
	if live := v.source.Live(); live != nil {
		return live.IsDockerOrigin()
	}
	return v.dockerOrigin
}

// ExtraInfo returns free-text detail attached by a live checker.
func (v *VersionInfo) ExtraInfo() string {
	if live := v.source.Live(); live != nil {
		return live.ExtraInfo()
	}
	return ""
}

// RawSize returns the size in bytes, -1 when unknown.
func (v *VersionInfo) RawSize() int64 { return v.size }

// SizeText renders the size in human units, "NaN" when unknown.
func (v *VersionInfo) SizeText() string {
	if v.size < 0 {
		return "NaN"
	}
	size := float64(v.size)
	if size < 1000 {
		return fmt.Sprintf("%d bytes", v.size)
	}
	for _, unit := range []string{"KB", "MB", "GB"} {
		size /= 1000
		if size < 1000 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
	}
	return fmt.Sprintf("%.2f TB", size/1000)
}

// Normalized returns the comparable form of the version value.
func (v *VersionInfo) Normalized() version.Normalized {
	return version.Normalize(v.Version())
}

// Equal compares two versions by normalized value only.
func (v *VersionInfo) Equal(o *VersionInfo) bool {
	if o == nil {
		return false
	}
	return version.Equal(v.Normalized(), o.Normalized())
}

// EqualString compares the version against a raw string by normalized value.
func (v *VersionInfo) EqualString(raw string) bool {
	return version.Equal(v.Normalized(), version.Normalize(raw))
}

func (v *VersionInfo) String() string { return v.Version() }

// versionInfoJSON is the persisted wire form. The source always flattens to
// the provider name: live checkers never round-trip.
type versionInfoJSON struct {
	Version      string      `json:"version"`
	VersionType  VersionType `json:"version_type"`
	Source       string      `json:"source"`
	Tags         []string    `json:"tags"`
	Updated      time.Time   `json:"updated"`
	Origin       bool        `json:"origin"`
	DockerOrigin bool        `json:"docker_origin"`
	Size         int64       `json:"size"`
}

// MarshalJSON serializes with the source reduced to a provider name.
func (v *VersionInfo) MarshalJSON() ([]byte, error) {
	tags := v.tags.ToSlice()
	sort.Strings(tags)
	return json.Marshal(versionInfoJSON{
		Version:      v.Version(),
		VersionType:  v.versionType,
		Source:       v.Provider(),
		Tags:         tags,
		Updated:      v.updated,
		Origin:       v.Origin(),
		DockerOrigin: v.DockerOrigin(),
		Size:         v.size,
	})
}

// UnmarshalJSON restores a persisted version observation.
func (v *VersionInfo) UnmarshalJSON(data []byte) error {
	var w versionInfoJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	v.value = w.Version
	v.versionType = w.VersionType
	v.source = NamedSource(w.Source)
	v.tags = mapset.NewSet(w.Tags...)
	v.updated = w.Updated
	v.origin = w.Origin
	v.dockerOrigin = w.DockerOrigin
	v.size = w.Size
	return nil
}
