package database

import (
	"path/filepath"
	"testing"
	"time"

	domain "pdfbudget/internal/domain/compression"
	"pdfbudget/internal/orchestrator"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.sqlite3"))
	if err != nil {
		t.Fatalf("NewDatabase failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGetPreferences_Defaults(t *testing.T) {
	db := openTestDB(t)

	prefs, err := db.GetPreferences()
	if err != nil {
		t.Fatalf("GetPreferences failed: %v", err)
	}
	if *prefs != DefaultPreferences() {
		t.Errorf("Expected defaults, got %+v", prefs)
	}
}

func TestUpdatePreferences(t *testing.T) {
	db := openTestDB(t)

	err := db.UpdatePreferences(map[string]interface{}{
		"quality":      "screen",
		"limit":        "10MB",
		"remove-blank": "true",
		"image_dpi":    float64(96),
		"turbo":        false,
	})
	if err != nil {
		t.Fatalf("UpdatePreferences failed: %v", err)
	}

	prefs, err := db.GetPreferences()
	if err != nil {
		t.Fatal(err)
	}
	if prefs.Quality != "screen" || prefs.Limit != "10MB" || !prefs.RemoveBlank || prefs.ImageDPI != 96 || prefs.Turbo {
		t.Errorf("Unexpected preferences %+v", prefs)
	}
	if prefs.PDFVersion != "1.4" {
		t.Errorf("Expected untouched fields to keep defaults, got %q", prefs.PDFVersion)
	}
}

func TestUpdatePreferences_Invalid(t *testing.T) {
	db := openTestDB(t)

	tests := []struct {
		name string
		data map[string]interface{}
	}{
		{"unknown key", map[string]interface{}{"colour": "red"}},
		{"bad quality", map[string]interface{}{"quality": "best"}},
		{"bad limit", map[string]interface{}{"limit": "lots"}},
		{"bad bool", map[string]interface{}{"turbo": "maybe"}},
		{"wrong type", map[string]interface{}{"workers": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := db.UpdatePreferences(tt.data); err == nil {
				t.Error("Expected error")
			}
		})
	}

	prefs, _ := db.GetPreferences()
	if *prefs != DefaultPreferences() {
		t.Errorf("Rejected updates must not be stored, got %+v", prefs)
	}
}

func TestRecordRun(t *testing.T) {
	db := openTestDB(t)

	for i, id := range []string{"first", "second", "third"} {
		report := &orchestrator.Report{
			RunID:    id,
			Mode:     orchestrator.ModeTurbo,
			State:    orchestrator.StateDone,
			Outputs:  []orchestrator.Output{{Path: id + ".pdf", Size: 100}},
			BytesIn:  400,
			Duration: time.Duration(i+1) * time.Second,
		}
		rec := NewRunRecord(2, report)
		if err := db.RecordRun(&rec); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}
	failed := NewRunRecord(1, &orchestrator.Report{RunID: "failed", State: orchestrator.StateFailed, Err: domain.ErrToolNotFound})
	if err := db.RecordRun(&failed); err != nil {
		t.Fatal(err)
	}

	runs, err := db.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "failed" || runs[1].RunID != "third" {
		t.Fatalf("Expected newest runs first, got %+v", runs)
	}
	if runs[0].Outcome != string(orchestrator.OutcomeFailed) || runs[0].Error == "" {
		t.Errorf("Expected the failure to be stored, got %+v", runs[0])
	}

	third := runs[1]
	if outs := third.Outputs(); len(outs) != 1 || outs[0].Path != "third.pdf" {
		t.Errorf("Unexpected outputs %+v", outs)
	}
	if third.Saved() != 0.75 || third.DurationMS != 3000 {
		t.Errorf("Unexpected stats saved=%v duration=%d", third.Saved(), third.DurationMS)
	}
}
