package cache

import (
	"encoding/json"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"gitlab.com/cincan/cincan-registry/internal/models"
)

// SchemaVersion identifies the cache layout. A database carrying a different
// marker is wiped on open instead of migrated in place: the cache holds only
// re-fetchable data.
const SchemaVersion = "1"

// SchemaRecord is the single-row schema marker table.
type SchemaRecord struct {
	ID      uint   `gorm:"primaryKey"`
	Version string `gorm:"not null"`
}

func (SchemaRecord) TableName() string { return "schema_info" }

// ToolRecord is the persisted form of one tool.
type ToolRecord struct {
	Name        string    `gorm:"primaryKey"`
	Updated     time.Time `gorm:"index"`
	Location    string
	Description string
}

func (ToolRecord) TableName() string { return "tools" }

// VersionRecord is one persisted version observation. Tags are stored as a
// JSON array; live checker sources flatten to the provider name.
type VersionRecord struct {
	ID           string `gorm:"primaryKey"`
	ToolName     string `gorm:"index;not null"`
	Value        string `gorm:"not null"`
	VersionType  string `gorm:"index;not null"`
	Source       string `gorm:"index"`
	Tags         string
	Updated      time.Time `gorm:"index"`
	Origin       bool
	DockerOrigin bool
	Size         int64
}

func (VersionRecord) TableName() string { return "versions" }

func newVersionRecord(toolName string, v *models.VersionInfo) (VersionRecord, error) {
	tags := v.Tags().ToSlice()
	encoded, err := json.Marshal(tags)
	if err != nil {
		return VersionRecord{}, err
	}
	return VersionRecord{
		ID:           uuid.New().String(),
		ToolName:     toolName,
		Value:        v.Version(),
		VersionType:  string(v.Type()),
		Source:       v.Provider(),
		Tags:         string(encoded),
		Updated:      v.Updated(),
		Origin:       v.Origin(),
		DockerOrigin: v.DockerOrigin(),
		Size:         v.RawSize(),
	}, nil
}

func (r VersionRecord) toVersionInfo() (*models.VersionInfo, error) {
	var tags []string
	if r.Tags != "" {
		if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
			return nil, err
		}
	}
	v := models.NewVersionInfo(
		r.Value,
		models.VersionType(r.VersionType),
		models.NamedSource(r.Source),
		mapset.NewSet(tags...),
		r.Updated,
	)
	return v.WithOrigin(r.Origin).WithDockerOrigin(r.DockerOrigin).WithSize(r.Size), nil
}
