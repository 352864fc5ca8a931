package database

import (
	"encoding/json"
	"strings"
	"time"

	"pdfbudget/internal/common"
	"pdfbudget/internal/orchestrator"
)

// UserPreferences database model
type UserPreferences struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PreferencesJSON string    `gorm:"type:text" json:"preferences_json"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// UserPreferencesData represents user preferences data
type UserPreferencesData struct {
	Quality     string `json:"quality"`
	Limit       string `json:"limit"`
	Margin      string `json:"margin"`
	Turbo       bool   `json:"turbo"`
	RemoveBlank bool   `json:"remove_blank"`
	Workers     int    `json:"workers"`
	ImageDPI    int    `json:"image_dpi"`
	PDFVersion  string `json:"pdf_version"`
	Grayscale   bool   `json:"grayscale"`
}

// DefaultPreferences returns default user preferences
func DefaultPreferences() UserPreferencesData {
	return UserPreferencesData{
		Quality:    common.DefaultQuality,
		Limit:      common.FormatBytes(common.DefaultLimitBytes),
		Margin:     common.FormatBytes(common.DefaultMarginBytes),
		Turbo:      true,
		ImageDPI:   110,
		PDFVersion: "1.4",
	}
}

// GetPreferences returns the user preferences data
func (up *UserPreferences) GetPreferences() UserPreferencesData {
	if up.PreferencesJSON == "" {
		return DefaultPreferences()
	}

	prefs := DefaultPreferences()
	if err := json.Unmarshal([]byte(up.PreferencesJSON), &prefs); err != nil {
		return DefaultPreferences()
	}

	return prefs
}

// SetPreferences sets the user preferences data
func (up *UserPreferences) SetPreferences(prefs UserPreferencesData) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return err
	}

	up.PreferencesJSON = string(data)
	return nil
}

// RunRecord is one finished run.
type RunRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RunID       string    `gorm:"index;size:16" json:"run_id"`
	Mode        string    `gorm:"size:16" json:"mode"`
	Outcome     string    `gorm:"size:16" json:"outcome"`
	Inputs      int       `json:"inputs"`
	Skipped     int       `json:"skipped"`
	Warnings    int       `json:"warnings"`
	OutputsJSON string    `gorm:"type:text" json:"outputs_json"`
	BytesIn     int64     `json:"bytes_in"`
	BytesOut    int64     `json:"bytes_out"`
	DurationMS  int64     `json:"duration_ms"`
	Error       string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// NewRunRecord summarizes a report for storage.
func NewRunRecord(inputs int, r *orchestrator.Report) RunRecord {
	rec := RunRecord{
		RunID:      r.RunID,
		Mode:       string(r.Mode),
		Outcome:    string(r.Outcome()),
		Inputs:     inputs,
		Skipped:    len(r.Skipped),
		Warnings:   len(r.Warnings()),
		BytesIn:    r.BytesIn,
		BytesOut:   r.BytesOut(),
		DurationMS: r.Duration.Milliseconds(),
	}
	if data, err := json.Marshal(r.Outputs); err == nil {
		rec.OutputsJSON = string(data)
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// Outputs decodes the stored outputs.
func (r *RunRecord) Outputs() []orchestrator.Output {
	var out []orchestrator.Output
	if err := json.Unmarshal([]byte(r.OutputsJSON), &out); err != nil {
		return nil
	}
	return out
}

// Saved is the fraction of input bytes removed, or 0 when unknown.
func (r *RunRecord) Saved() float64 {
	if r.BytesIn <= 0 || r.BytesOut <= 0 {
		return 0
	}
	return 1 - float64(r.BytesOut)/float64(r.BytesIn)
}

func normalizeKey(k string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), "-", "_")
}
