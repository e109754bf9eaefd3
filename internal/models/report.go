package models

// The types below form the stable report contract consumed by the CLI
// output layer and the HTTP API. One ToolSummary is produced per tool.

// VersionDigest is a single version entry in a report.
type VersionDigest struct {
	Version string   `json:"version"`
	Tags    []string `json:"tags,omitempty"`
}

// OriginDigest describes the origin version together with provider detail
// when the origin or docker-origin flag was set by a checker.
type OriginDigest struct {
	Version string         `json:"version"`
	Details map[string]any `json:"details,omitempty"`
}

// UpstreamDigest is a non-origin upstream observation in a report.
type UpstreamDigest struct {
	Version string         `json:"version"`
	Details map[string]any `json:"details,omitempty"`
	Source  string         `json:"source,omitempty"`
}

// SummaryVersions groups the version views of one tool.
type SummaryVersions struct {
	Local  *VersionDigest   `json:"local,omitempty"`
	Remote *VersionDigest   `json:"remote,omitempty"`
	Origin OriginDigest     `json:"origin"`
	Other  []UpstreamDigest `json:"other"`
}

// SummaryUpdates holds the per-tool update verdicts. Local is nil when the
// tool is not installed locally, so "unknown" stays distinct from "no".
type SummaryUpdates struct {
	Local  *bool `json:"local,omitempty"`
	Remote bool  `json:"remote"`
}

// ToolSummary is the reconciliation report for one tool.
type ToolSummary struct {
	Name     string          `json:"name"`
	Versions SummaryVersions `json:"versions"`
	Updates  SummaryUpdates  `json:"updates"`
}

// ToolListing is one row of the merged local/remote tool listing.
type ToolListing struct {
	Name           string `json:"name"`
	LocalVersion   string `json:"local_version"`
	RemoteVersion  string `json:"remote_version"`
	Description    string `json:"description"`
	CompressedSize string `json:"compressed_size"`
}
