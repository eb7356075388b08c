package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"utiles/internal"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "utiles.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func strp(v string) *string { return &v }

func TestCourseRoundTripAndConflict(t *testing.T) {
	db := openTestDB(t)

	rec, err := db.CreateCourse(internal.CourseRecord{Name: "3° Básico B", Level: internal.LevelBasic, Grade: 3, Section: strp(" b ")})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Section == nil || *rec.Section != "B" {
		t.Fatalf("section=%v", rec.Section)
	}

	c, err := db.MustCourse(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Versions) != 0 || c.ReviewState != internal.ReviewDraft || c.Revision != 0 {
		t.Fatalf("fresh course=%+v", c)
	}

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	c.Versions = []internal.MaterialsVersion{{
		ID: "v1", UploadedAt: now, UpdatedAt: now, SourceFileName: "3B.pdf",
		Items: []internal.SupplyItem{{ID: "i1", Name: "Cuaderno", Quantity: 2, ToPurchase: true}},
	}}
	stale := c

	saved, err := db.SaveCourse(c)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Revision != 1 {
		t.Fatalf("revision=%d", saved.Revision)
	}

	if _, err := db.SaveCourse(stale); !errors.Is(err, internal.ErrConflict) {
		t.Fatalf("stale save err=%v", err)
	}

	reread, err := db.MustCourse(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reread.Revision != 1 || len(reread.Versions) != 1 || reread.Versions[0].Items[0].Quantity != 2 {
		t.Fatalf("reread=%+v", reread)
	}
}

func TestMissingCourse(t *testing.T) {
	db := openTestDB(t)
	if c, err := db.GetCourse(42); err != nil || c != nil {
		t.Fatalf("c=%v err=%v", c, err)
	}
	if _, err := db.MustCourse(42); !errors.Is(err, internal.ErrCourseNotFound) {
		t.Fatalf("err=%v", err)
	}
	if _, err := db.SaveCourse(internal.Course{CourseRecord: internal.CourseRecord{ID: 42}}); !errors.Is(err, internal.ErrCourseNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestCreateCourseValidatesGrade(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.CreateCourse(internal.CourseRecord{Level: internal.LevelSecondary, Grade: 5}); err == nil {
		t.Fatal("expected invalid grade error")
	}
	if _, err := db.CreateCourse(internal.CourseRecord{Level: "tecnico", Grade: 1}); err == nil {
		t.Fatal("expected invalid level error")
	}
}

func TestFindCoursesAndCatalogUpsert(t *testing.T) {
	db := openTestDB(t)
	ext := func(v string) *string { return &v }
	records := []internal.CourseRecord{
		{ExternalID: ext("10"), Name: "1° Medio A", Level: internal.LevelSecondary, Grade: 1, Section: strp("A")},
		{ExternalID: ext("11"), Name: "1° Medio B", Level: internal.LevelSecondary, Grade: 1, Section: strp("B")},
		{ExternalID: ext("12"), Name: "2° Básico", Level: internal.LevelBasic, Grade: 2},
	}
	if err := db.UpsertCatalogCourses(records); err != nil {
		t.Fatal(err)
	}
	records[1].Name = "1° Medio B (tarde)"
	if err := db.UpsertCatalogCourses(records[1:2]); err != nil {
		t.Fatal(err)
	}

	level := internal.LevelSecondary
	got, err := db.FindCourses(internal.CourseFilter{Level: &level})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "1° Medio A" || got[1].Name != "1° Medio B (tarde)" {
		t.Fatalf("got %+v", got)
	}

	all, err := db.ListCourseRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len=%d", len(all))
	}

	if err := db.UpsertCatalogCourses([]internal.CourseRecord{{Name: "sin id", Level: internal.LevelBasic, Grade: 1}}); err == nil {
		t.Fatal("expected missing external id error")
	}
}

func TestUploadsByStatus(t *testing.T) {
	db := openTestDB(t)
	for _, status := range []internal.UploadStatus{internal.UploadApplied, internal.UploadManualReview, internal.UploadNeedsConfirm} {
		if _, err := db.InsertUpload(internal.UploadRow{FileName: string(status) + ".pdf", PDFRef: "/tmp/x.pdf", Status: status}); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := db.ListUploadsByStatus([]internal.UploadStatus{internal.UploadManualReview, internal.UploadNeedsConfirm}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Status != internal.UploadManualReview {
		t.Fatalf("rows=%+v", rows)
	}

	if err := db.UpdateUploadStatus(rows[0].ID, internal.UploadApplied, "assigned"); err != nil {
		t.Fatal(err)
	}
	row, err := db.GetUpload(rows[0].ID)
	if err != nil || row == nil || row.Status != internal.UploadApplied || row.Reason != "assigned" {
		t.Fatalf("row=%+v err=%v", row, err)
	}
}

func TestMetadata(t *testing.T) {
	db := openTestDB(t)
	if v, err := db.GetMetadata("catalog.last_sync"); err != nil || v != nil {
		t.Fatalf("v=%v err=%v", v, err)
	}
	if err := db.SetMetadata("catalog.last_sync", "a"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetMetadata("catalog.last_sync", "b"); err != nil {
		t.Fatal(err)
	}
	if v, err := db.GetMetadata("catalog.last_sync"); err != nil || v == nil || *v != "b" {
		t.Fatalf("v=%v err=%v", v, err)
	}
}

func TestGetCourseRecomputesStoredReviewState(t *testing.T) {
	db := openTestDB(t)
	rec, err := db.CreateCourse(internal.CourseRecord{Name: "5° Básico", Level: internal.LevelBasic, Grade: 5})
	if err != nil {
		t.Fatal(err)
	}

	versions := `[{"id":"v1","fecha_subida":"2026-02-01T10:00:00Z","fecha_actualizacion":"2026-02-01T10:00:00Z",
		"nombre_archivo":"5.pdf","materiales":[
			{"id":"a","nombre":"Cuaderno","cantidad":1,"aprobado":true},
			{"id":"b","nombre":"  ","cantidad":1,"aprobado":false},
			{"id":"c","nombre":"Regla","cantidad":1,"aprobado":true}]}]`
	if _, err := db.conn.Exec(`UPDATE courses SET versionsJson = ?, reviewState = 'revisado', reviewedAt = ? WHERE id = ?`,
		versions, "2026-02-02T10:00:00Z", rec.ID); err != nil {
		t.Fatal(err)
	}

	c, err := db.MustCourse(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if c.ReviewState != internal.ReviewDraft || c.ReviewedAt != nil {
		t.Fatalf("state=%s reviewedAt=%v", c.ReviewState, c.ReviewedAt)
	}
	items := c.LatestVersion().Items
	if len(items) != 3 || items[1].Name != UnnamedItem || items[2].Name != "Regla" {
		t.Fatalf("items=%+v", items)
	}
}

func TestGetCourseRejectsBadReviewedAt(t *testing.T) {
	db := openTestDB(t)
	rec, err := db.CreateCourse(internal.CourseRecord{Name: "1° Medio", Level: internal.LevelSecondary, Grade: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.conn.Exec(`UPDATE courses SET reviewState = 'revisado', reviewedAt = 'ayer' WHERE id = ?`, rec.ID); err != nil {
		t.Fatal(err)
	}

	_, err = db.GetCourse(rec.ID)
	var parseErr *time.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err=%v", err)
	}
}
