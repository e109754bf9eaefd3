// Package cache persists version observations between runs so that upstream
// providers are only queried when the cached value has expired. The store
// backs onto SQLite by default and PostgreSQL for shared deployments.
package cache

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"gitlab.com/cincan/cincan-registry/internal/models"
)

// DefaultTTL bounds how long a cached upstream observation stays usable.
const DefaultTTL = 24 * time.Hour

// Options selects and configures the database backend.
type Options struct {
	// Backend is "sqlite" or "postgres". Defaults to sqlite.
	Backend string
	// Path is the SQLite database file. ":memory:" is accepted.
	Path string
	// DSN is the PostgreSQL connection string when Backend is postgres.
	DSN string
	// Logger for schema lifecycle events. Defaults to slog.Default.
	Logger *slog.Logger
}

// Store reads and writes cached tool records.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured backend, migrates the schema and verifies
// the schema marker. A marker mismatch wipes the cache: everything in it can
// be fetched again.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var dialector gorm.Dialector
	switch opts.Backend {
	case "", "sqlite":
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		dialector = sqlite.Open(opts.Path)
	case "postgres":
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open version cache: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "cache")}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	migrator := s.db.Migrator()
	if migrator.HasTable(&SchemaRecord{}) {
		var marker SchemaRecord
		err := s.db.First(&marker).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			// empty marker table, treat as fresh
		case err != nil:
			return fmt.Errorf("read schema marker: %w", err)
		case marker.Version != SchemaVersion:
			s.logger.Info("cache schema changed, wiping database",
				"found", marker.Version, "expected", SchemaVersion)
			if err := migrator.DropTable(&VersionRecord{}, &ToolRecord{}, &SchemaRecord{}); err != nil {
				return fmt.Errorf("wipe outdated cache: %w", err)
			}
		}
	}
	if err := s.db.AutoMigrate(&SchemaRecord{}, &ToolRecord{}, &VersionRecord{}); err != nil {
		return fmt.Errorf("auto-migrate cache schema: %w", err)
	}
	var count int64
	if err := s.db.Model(&SchemaRecord{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count schema markers: %w", err)
	}
	if count == 0 {
		if err := s.db.Create(&SchemaRecord{Version: SchemaVersion}).Error; err != nil {
			return fmt.Errorf("write schema marker: %w", err)
		}
	}
	return nil
}

// ReadTool loads one tool with its full version collection. Returns nil, nil
// when the tool is not cached.
func (s *Store) ReadTool(name string) (*models.ToolInfo, error) {
	var record ToolRecord
	err := s.db.Where("name = ?", name).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tool %q: %w", name, err)
	}
	tool, err := s.assemble(record)
	if err != nil {
		return nil, err
	}
	return tool, nil
}

// ReadTools loads every cached tool keyed by name.
func (s *Store) ReadTools() (map[string]*models.ToolInfo, error) {
	var records []ToolRecord
	if err := s.db.Order("name ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("read tools: %w", err)
	}
	out := make(map[string]*models.ToolInfo, len(records))
	for _, record := range records {
		tool, err := s.assemble(record)
		if err != nil {
			return nil, err
		}
		out[tool.Name()] = tool
	}
	return out, nil
}

func (s *Store) assemble(record ToolRecord) (*models.ToolInfo, error) {
	tool := models.NewToolInfo(record.Name, record.Updated, record.Location)
	tool.Description = record.Description

	var versions []VersionRecord
	err := s.db.Where("tool_name = ?", record.Name).Order("updated ASC").Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("read versions of %q: %w", record.Name, err)
	}
	for _, vr := range versions {
		v, err := vr.toVersionInfo()
		if err != nil {
			return nil, fmt.Errorf("decode version of %q: %w", record.Name, err)
		}
		tool.AddVersion(v)
	}
	return tool, nil
}

// WriteTools persists a batch of tools in one transaction. Each tool's
// version collection replaces whatever was stored before; a failure rolls
// the whole batch back.
func (s *Store) WriteTools(tools []*models.ToolInfo) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, tool := range tools {
			record := ToolRecord{
				Name:        tool.Name(),
				Updated:     tool.Updated,
				Location:    tool.Location,
				Description: tool.Description,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"updated", "location", "description"}),
			}).Create(&record).Error
			if err != nil {
				return fmt.Errorf("upsert tool %q: %w", tool.Name(), err)
			}

			if err := tx.Where("tool_name = ?", tool.Name()).Delete(&VersionRecord{}).Error; err != nil {
				return fmt.Errorf("clear versions of %q: %w", tool.Name(), err)
			}
			for _, v := range tool.Versions {
				vr, err := newVersionRecord(tool.Name(), v)
				if err != nil {
					return fmt.Errorf("encode version of %q: %w", tool.Name(), err)
				}
				if err := tx.Create(&vr).Error; err != nil {
					return fmt.Errorf("write version of %q: %w", tool.Name(), err)
				}
			}
		}
		return nil
	})
}

// WriteTool persists a single tool.
func (s *Store) WriteTool(tool *models.ToolInfo) error {
	return s.WriteTools([]*models.ToolInfo{tool})
}

// FreshVersion returns the newest cached upstream observation of a tool from
// one provider, but only when its timestamp lies inside the freshness window
// [now-ttl, now]. Future-dated observations count as stale: a skewed clock
// must not pin a wrong value forever.
func (s *Store) FreshVersion(toolName, provider string, ttl time.Duration, now time.Time) (*models.VersionInfo, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	var record VersionRecord
	err := s.db.Where(
		"tool_name = ? AND source = ? AND version_type = ?",
		toolName, provider, string(models.TypeUpstream),
	).Order("updated DESC").First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached version of %q: %w", toolName, err)
	}
	if record.Updated.Before(now.Add(-ttl)) || record.Updated.After(now) {
		return nil, false, nil
	}
	v, err := record.toVersionInfo()
	if err != nil {
		return nil, false, fmt.Errorf("decode cached version of %q: %w", toolName, err)
	}
	return v, true, nil
}
