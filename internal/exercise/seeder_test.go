package exercise

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
	"github.com/felixgeelhaar/nosubvo/internal/storage/sqlstore"
)

func newStore(t *testing.T) *sqlstore.UnitOfWork {
	t.Helper()
	ctx := context.Background()

	db, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return sqlstore.NewUnitOfWork(db)
}

func TestSeeder_SeedDir_SkipsExisting(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	dir := newPackDir(t)
	seeder := NewSeeder(store, nil)

	first, err := seeder.SeedDir(ctx, dir)
	if err != nil {
		t.Fatalf("SeedDir() error = %v", err)
	}
	if first != (SeedResult{Inserted: 2}) {
		t.Errorf("first SeedDir() = %+v; want 2 inserted", first)
	}

	second, err := seeder.SeedDir(ctx, dir)
	if err != nil {
		t.Fatalf("SeedDir() error = %v", err)
	}
	if second != (SeedResult{Skipped: 2}) {
		t.Errorf("second SeedDir() = %+v; want 2 skipped", second)
	}

	list, err := store.Exercises().List(ctx, domain.ExerciseFilter{Language: "de"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("stored %d exercises; want 2", len(list))
	}
}

func TestSeeder_SameTitleOtherLanguage(t *testing.T) {
	ctx := context.Background()
	seeder := NewSeeder(newStore(t), nil)

	res, err := seeder.Seed(ctx, []*domain.Exercise{
		{Title: "Radio", Text: "Das Radio spielt.", Language: "de"},
		{Title: "Radio", Text: "La radio suona.", Language: "it"},
	})
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if res.Inserted != 2 {
		t.Errorf("Inserted = %d; want 2", res.Inserted)
	}
}

func workbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("SetSheetRow() error = %v", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}
	return buf
}

func TestSpreadsheetImporter_Import(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	questions := `[{"question":"Who sings?","options":{"A":"Anna","B":"Ben"},"correct_answer":"B"}]`
	buf := workbook(t, [][]any{
		{"Title", "Text", "Language", "Difficulty", "Topic", "Questions"},
		{"The Choir", "Ben sings in a choir.", "EN", "Beginner", "music", questions},
		{"", "No title here.", "en", "", "", ""},
		{},
		{"Bad Level", "Some text.", "en", "expert", "", ""},
		{"Defaults", "Only the essentials.", "", "", "", ""},
		{"Broken JSON", "Text.", "en", "", "", "{"},
	})

	imp := NewSpreadsheetImporter(store, nil)
	res, err := imp.Import(ctx, buf, "")
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if res.Processed != 5 {
		t.Errorf("Processed = %d; want 5", res.Processed)
	}
	if res.Inserted != 2 {
		t.Errorf("Inserted = %d; want 2", res.Inserted)
	}
	wantRows := []int{3, 5, 7}
	if len(res.Errors) != len(wantRows) {
		t.Fatalf("Errors = %v; want rows %v", res.Errors, wantRows)
	}
	for i, row := range wantRows {
		if res.Errors[i].Row != row {
			t.Errorf("Errors[%d].Row = %d; want %d", i, res.Errors[i].Row, row)
		}
	}

	choir, err := store.Exercises().FindByTitle(ctx, "en", "The Choir")
	if err != nil {
		t.Fatalf("FindByTitle() error = %v", err)
	}
	if choir.Difficulty != domain.DifficultyBeginner || len(choir.Questions) != 1 || choir.Questions[0].Answer != 1 {
		t.Errorf("choir = %+v; want beginner with answer index 1", choir)
	}

	defaults, err := store.Exercises().FindByTitle(ctx, domain.DefaultLanguage, "Defaults")
	if err != nil {
		t.Fatalf("FindByTitle(defaults) error = %v", err)
	}
	if defaults.Difficulty != domain.DefaultDifficulty || defaults.Topic != domain.DefaultTopic {
		t.Errorf("defaults = %s/%s; want %s/%s", defaults.Difficulty, defaults.Topic, domain.DefaultDifficulty, domain.DefaultTopic)
	}

	// Re-importing skips everything already stored
	again, err := imp.Import(ctx, workbook(t, [][]any{
		{"The Choir", "Ben sings in a choir.", "en", "", "", ""},
	}), "Sheet1")
	if err != nil {
		t.Fatalf("second Import() error = %v", err)
	}
	if again.Skipped != 1 || again.Inserted != 0 {
		t.Errorf("second Import() = %+v; want 1 skipped", again)
	}
}

func TestSpreadsheetImporter_UnknownSheet(t *testing.T) {
	imp := NewSpreadsheetImporter(newStore(t), nil)
	if _, err := imp.Import(context.Background(), workbook(t, [][]any{{"x"}}), "Missing"); err == nil {
		t.Error("Import() error = nil; want missing sheet error")
	}
}
