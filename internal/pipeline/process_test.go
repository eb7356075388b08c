package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"utiles/internal"
	"utiles/internal/config"
	"utiles/internal/storage"
	"utiles/internal/util"
)

type fakeExtractor struct {
	items []internal.RawItem
	err   error
}

func (f fakeExtractor) ExtractItems(context.Context, []byte) ([]internal.RawItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]internal.RawItem, len(f.items))
	copy(out, f.items)
	return out, nil
}

func (fakeExtractor) AIProcessed() bool { return true }

func fakePages([]byte) ([]internal.PageText, error) {
	return []internal.PageText{{
		PageNumber: 1,
		PageWidth:  612,
		PageHeight: 792,
		TextRuns: []internal.TextRun{
			{Text: "Lista de útiles", X: 72, Y: 720, Width: 120, Height: 14},
			{Text: "2 Cuadernos universitarios 100 hojas", X: 72, Y: 600, Width: 200, Height: 12},
			{Text: "Estuche con cierre", X: 72, Y: 580, Width: 100, Height: 12},
		},
	}}, nil
}

type fixture struct {
	db    *storage.DB
	cfg   config.Config
	proc  *ProcessingService
	b3B   internal.CourseRecord
	b3A   internal.CourseRecord
	tmp   string
	items []internal.RawItem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "utiles.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	year := 2026
	b3B, err := db.CreateCourse(internal.CourseRecord{Name: "3° Básico B 2026", Level: internal.LevelBasic, Grade: 3, Section: util.StringPtr("B"), Year: &year})
	if err != nil {
		t.Fatal(err)
	}
	b3A, err := db.CreateCourse(internal.CourseRecord{Name: "3° Básico A 2026", Level: internal.LevelBasic, Grade: 3, Section: util.StringPtr("A"), Year: &year})
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Config{
		PDFDir:            filepath.Join(tmp, "pdf"),
		OutputDir:         filepath.Join(tmp, "out"),
		AutoCreateCourses: true,
		BatchWorkers:      4,
		ConflictRetries:   3,
	}
	items := []internal.RawItem{
		{Name: "Cuadernos universitarios", Quantity: util.FloatPtr(2), Subject: util.StringPtr("Lenguaje")},
		{Name: "Regla 30 cm", ToPurchase: util.BoolPtr(false)},
	}
	proc := NewProcessingService(db, cfg, nil, fakeExtractor{items: items})
	proc.readText = fakePages

	return &fixture{db: db, cfg: cfg, proc: proc, b3B: b3B, b3A: b3A, tmp: tmp, items: items}
}

func upload(name string) Upload {
	return Upload{FileName: name, Content: []byte("%PDF-1.4 " + name)}
}

func TestProcessFileAppliesMatchedCourse(t *testing.T) {
	f := newFixture(t)

	res, err := f.proc.ProcessFile(context.Background(), upload("3° Básico B 2026.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != internal.UploadApplied {
		t.Fatalf("status=%s reason=%s", res.Status, res.Reason)
	}
	if res.CourseID == nil || *res.CourseID != f.b3B.ID {
		t.Fatalf("course=%v, want %d", res.CourseID, f.b3B.ID)
	}
	if res.Score != 100 || res.ItemCount != 2 || res.LocatedCount != 1 {
		t.Fatalf("score=%d items=%d located=%d", res.Score, res.ItemCount, res.LocatedCount)
	}

	c, err := f.db.MustCourse(f.b3B.ID)
	if err != nil {
		t.Fatal(err)
	}
	latest := c.LatestVersion()
	if latest == nil || latest.ID != res.VersionID {
		t.Fatalf("latest=%+v", latest)
	}
	if !latest.AIProcessed || latest.SourcePDFRef == nil {
		t.Fatalf("version=%+v", latest)
	}
	if c.ReviewState != internal.ReviewDraft {
		t.Fatalf("state=%s", c.ReviewState)
	}
	first := latest.Items[0]
	if first.Coordinates == nil || first.Coordinates.Page != 1 {
		t.Fatalf("coordinates=%+v", first.Coordinates)
	}
	if first.Quantity != 2 || !first.ToPurchase || first.Approved {
		t.Fatalf("first item=%+v", first)
	}
	if latest.Items[1].Coordinates != nil || latest.Items[1].ToPurchase {
		t.Fatalf("second item=%+v", latest.Items[1])
	}

	row, err := f.db.GetUpload(res.UploadID)
	if err != nil || row == nil {
		t.Fatalf("upload row=%v err=%v", row, err)
	}
	if row.Status != internal.UploadApplied || row.VersionID == nil || *row.VersionID != res.VersionID {
		t.Fatalf("row=%+v", row)
	}
}

func TestProcessFileRoutesToReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.proc.ProcessFile(ctx, upload("Algebra.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != internal.UploadManualReview || res.Reason != "inference_failed" {
		t.Fatalf("status=%s reason=%s", res.Status, res.Reason)
	}

	res, err = f.proc.ProcessFile(ctx, upload("3° Básico.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != internal.UploadNeedsConfirm || res.Score != 80 {
		t.Fatalf("status=%s score=%d", res.Status, res.Score)
	}
	if res.CourseID == nil || *res.CourseID != f.b3B.ID {
		t.Fatalf("suggested course=%v", res.CourseID)
	}

	c, err := f.db.MustCourse(f.b3B.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Versions) != 0 {
		t.Fatalf("versions=%d, want 0", len(c.Versions))
	}

	pending, err := f.db.ListUploadsByStatus([]internal.UploadStatus{internal.UploadManualReview, internal.UploadNeedsConfirm}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending=%d", len(pending))
	}
}

func TestProcessFileAcceptAmbiguous(t *testing.T) {
	f := newFixture(t)
	f.proc.cfg.AcceptAmbiguous = true

	res, err := f.proc.ProcessFile(context.Background(), upload("3° Básico.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != internal.UploadApplied || res.Reason != "ambiguous" {
		t.Fatalf("status=%s reason=%s", res.Status, res.Reason)
	}
}

func TestProcessFileCreatesMissingCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.proc.ProcessFile(ctx, upload("Lista 4 medio.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != internal.UploadApplied || !res.Created || res.Reason != "course_created" {
		t.Fatalf("res=%+v", res)
	}
	c, err := f.db.MustCourse(*res.CourseID)
	if err != nil {
		t.Fatal(err)
	}
	if c.Level != internal.LevelSecondary || c.Grade != 4 || len(c.Versions) != 1 {
		t.Fatalf("course=%+v", c.CourseRecord)
	}

	again, err := f.proc.ProcessFile(ctx, upload("4 Medio.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if again.Created || again.CourseID == nil || *again.CourseID != c.ID {
		t.Fatalf("second upload=%+v", again)
	}
}

func TestProcessFileWithoutAutoCreate(t *testing.T) {
	f := newFixture(t)
	f.proc.cfg.AutoCreateCourses = false

	res, err := f.proc.ProcessFile(context.Background(), upload("Lista 4 medio.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != internal.UploadManualReview || res.Reason != "no_confident_match" {
		t.Fatalf("status=%s reason=%s", res.Status, res.Reason)
	}
}

func TestProcessFileExtractorFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("model unavailable")
	f.proc.extractor = fakeExtractor{err: boom}

	res, err := f.proc.ProcessFile(context.Background(), upload("3° Básico B 2026.pdf"))
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if res.Status != internal.UploadFailed || res.UploadID == 0 {
		t.Fatalf("res=%+v", res)
	}
}

func TestAssignUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.proc.ProcessFile(ctx, upload("3° Básico.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	res, err := f.proc.AssignUpload(ctx, pending.UploadID, f.b3A.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != internal.UploadApplied || *res.CourseID != f.b3A.ID {
		t.Fatalf("res=%+v", res)
	}

	row, err := f.db.GetUpload(pending.UploadID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != internal.UploadApplied {
		t.Fatalf("original upload status=%s", row.Status)
	}
	c, err := f.db.MustCourse(f.b3A.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Versions) != 1 {
		t.Fatalf("versions=%d", len(c.Versions))
	}
}

func TestBatchRunnerKeepsOrder(t *testing.T) {
	f := newFixture(t)
	uploads := []Upload{
		upload("3° Básico B 2026.pdf"),
		upload("Algebra.pdf"),
		upload("3° Básico.pdf"),
		upload("Lista 4 medio.pdf"),
	}

	results, err := NewBatchRunner(f.proc, 4).Run(context.Background(), uploads)
	if err != nil {
		t.Fatal(err)
	}
	want := []internal.UploadStatus{
		internal.UploadApplied,
		internal.UploadManualReview,
		internal.UploadNeedsConfirm,
		internal.UploadApplied,
	}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("%d: %v", i, r.Err)
		}
		if r.Result.FileName != uploads[i].FileName || r.Result.Status != want[i] {
			t.Fatalf("%d: file=%s status=%s", i, r.Result.FileName, r.Result.Status)
		}
	}
}

func TestBatchRunnerSameCourseKeepsEveryVersion(t *testing.T) {
	f := newFixture(t)
	uploads := make([]Upload, 8)
	for i := range uploads {
		uploads[i] = Upload{
			FileName: "3° Básico B 2026.pdf",
			Content:  []byte(fmt.Sprintf("%%PDF-1.4 copia %d", i)),
		}
	}

	results, err := NewBatchRunner(f.proc, 4).Run(context.Background(), uploads)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range results {
		if r.Err != nil || r.Result.Status != internal.UploadApplied {
			t.Fatalf("%d: status=%s err=%v", i, r.Result.Status, r.Err)
		}
	}

	c, err := f.db.MustCourse(f.b3B.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Versions) != len(uploads) {
		t.Fatalf("versions=%d, want %d", len(c.Versions), len(uploads))
	}
	seen := map[string]bool{}
	for _, v := range c.Versions {
		if seen[v.ID] {
			t.Fatalf("duplicate version %s", v.ID)
		}
		seen[v.ID] = true
	}
}

func TestBatchRunnerCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBatchRunner(f.proc, 2).Run(ctx, []Upload{upload("3° Básico B 2026.pdf")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}

func TestBatchRunnerCreatesCoursesConcurrently(t *testing.T) {
	f := newFixture(t)
	var uploads []Upload
	for round := 0; round < 2; round++ {
		for grade := 1; grade <= 8; grade++ {
			uploads = append(uploads, Upload{
				FileName: fmt.Sprintf("%d° Básico C 2027.pdf", grade),
				Content:  []byte(fmt.Sprintf("%%PDF-1.4 basico %d ronda %d", grade, round)),
			})
		}
		for grade := 1; grade <= 4; grade++ {
			uploads = append(uploads, Upload{
				FileName: fmt.Sprintf("%d° Medio C 2027.pdf", grade),
				Content:  []byte(fmt.Sprintf("%%PDF-1.4 medio %d ronda %d", grade, round)),
			})
		}
	}

	results, err := NewBatchRunner(f.proc, 8).Run(context.Background(), uploads)
	if err != nil {
		t.Fatal(err)
	}
	created := 0
	for i, r := range results {
		if r.Err != nil || r.Result.Status != internal.UploadApplied {
			t.Fatalf("%d %s: status=%s reason=%s err=%v", i, r.Result.FileName, r.Result.Status, r.Result.Reason, r.Err)
		}
		if r.Result.Created {
			created++
		}
	}
	if created != 12 {
		t.Fatalf("created=%d, want 12", created)
	}

	records, err := f.db.ListCourseRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 14 {
		t.Fatalf("courses=%d, want 14", len(records))
	}
	for _, rec := range records {
		if rec.ID == f.b3A.ID || rec.ID == f.b3B.ID {
			continue
		}
		c, err := f.db.MustCourse(rec.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(c.Versions) != 2 {
			t.Fatalf("course %q versions=%d, want 2", c.Name, len(c.Versions))
		}
	}
}
