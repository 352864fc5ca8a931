package database

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"pdfbudget/internal/common"
	"pdfbudget/internal/domain/compression"
)

// Database handles database operations
type Database struct {
	db *gorm.DB
}

// NewDatabase creates a new database instance
func NewDatabase(dbPath string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	database := &Database{db: db}

	// Auto-migrate the schema
	err = db.AutoMigrate(&UserPreferences{}, &RunRecord{})
	if err != nil {
		return nil, err
	}

	return database, nil
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetPreferences gets the current user preferences
func (d *Database) GetPreferences() (*UserPreferencesData, error) {
	prefs, err := d.getOrCreatePreferences()
	if err != nil {
		return nil, err
	}

	prefsData := prefs.GetPreferences()
	return &prefsData, nil
}

// UpdatePreferences updates user preferences. Values may be typed or the
// raw strings of a command line key=value pair.
func (d *Database) UpdatePreferences(data map[string]interface{}) error {
	prefs, err := d.getOrCreatePreferences()
	if err != nil {
		return err
	}

	currentPrefs := prefs.GetPreferences()

	for key, val := range data {
		if err := setPreference(&currentPrefs, normalizeKey(key), val); err != nil {
			return err
		}
	}

	// Save updated preferences
	if err := prefs.SetPreferences(currentPrefs); err != nil {
		return err
	}

	return d.db.Save(prefs).Error
}

func setPreference(p *UserPreferencesData, key string, val interface{}) error {
	var err error
	switch key {
	case "quality":
		var s string
		if s, err = asString(val); err == nil {
			var q compression.Quality
			if q, err = compression.ParseQuality(s); err == nil {
				p.Quality = string(q)
			}
		}
	case "limit", "margin":
		var s string
		if s, err = asString(val); err == nil {
			if _, err = common.ParseBytes(s); err == nil {
				if key == "limit" {
					p.Limit = s
				} else {
					p.Margin = s
				}
			}
		}
	case "turbo":
		p.Turbo, err = asBool(val)
	case "remove_blank":
		p.RemoveBlank, err = asBool(val)
	case "grayscale":
		p.Grayscale, err = asBool(val)
	case "workers":
		p.Workers, err = asInt(val)
	case "image_dpi":
		p.ImageDPI, err = asInt(val)
	case "pdf_version":
		p.PDFVersion, err = asString(val)
	default:
		return fmt.Errorf("unknown preference %q", key)
	}
	if err != nil {
		return fmt.Errorf("preference %s: %w", key, err)
	}
	return nil
}

func asString(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return "", fmt.Errorf("expected a string, got %T", v)
}

func asBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(b))
	}
	return false, fmt.Errorf("expected a boolean, got %T", v)
}

func asInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

// getOrCreatePreferences gets existing preferences or creates default ones
func (d *Database) getOrCreatePreferences() (*UserPreferences, error) {
	var prefs UserPreferences

	// Try to get existing preferences with ID = 1
	result := d.db.First(&prefs, 1)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			// Create default preferences
			prefs = UserPreferences{
				ID: 1,
			}

			defaultPrefs := DefaultPreferences()
			if err := prefs.SetPreferences(defaultPrefs); err != nil {
				return nil, err
			}

			if err := d.db.Create(&prefs).Error; err != nil {
				return nil, err
			}
		} else {
			return nil, result.Error
		}
	}

	return &prefs, nil
}

// RecordRun stores a finished run.
func (d *Database) RecordRun(rec *RunRecord) error {
	return d.db.Create(rec).Error
}

// RecentRuns returns up to limit runs, newest first.
func (d *Database) RecentRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []RunRecord
	err := d.db.Order("id desc").Limit(limit).Find(&runs).Error
	return runs, err
}
