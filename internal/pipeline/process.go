package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"utiles/internal"
	"utiles/internal/catalog"
	"utiles/internal/config"
	"utiles/internal/course"
	"utiles/internal/ledger"
	"utiles/internal/locate"
	"utiles/internal/logger"
	"utiles/internal/storage"
)

// Upload is one supply-list PDF entering the pipeline. The course is inferred
// from Label, or from FileName when Label is empty. CourseID skips inference
// when a human already chose the course.
type Upload struct {
	FileName string
	Label    string
	Content  []byte
	EmailID  *int
	CourseID *int
}

func (u Upload) label() string {
	if u.Label != "" {
		return u.Label
	}
	return u.FileName
}

type FileResult struct {
	UploadID     int
	FileName     string
	Status       internal.UploadStatus
	Reason       string
	CourseID     *int
	CourseName   string
	VersionID    string
	Score        int
	Band         course.Band
	Method       string
	Confidence   int
	Created      bool
	ItemCount    int
	LocatedCount int
}

type ProcessingService struct {
	db        *storage.DB
	cfg       config.Config
	log       *logger.Logger
	extractor ItemExtractor
	readText  func([]byte) ([]internal.PageText, error)
	now       func() time.Time
	locks     *courseLocks

	mu    sync.Mutex
	index *catalog.Index
}

func NewProcessingService(db *storage.DB, cfg config.Config, log *logger.Logger, extractor ItemExtractor) *ProcessingService {
	if log == nil {
		log = logger.Nop()
	}
	if extractor == nil {
		extractor = RuleExtractor{}
	}
	return &ProcessingService{
		db:        db,
		cfg:       cfg,
		log:       log,
		extractor: extractor,
		readText:  locate.ReadTextLayer,
		now:       time.Now,
		locks:     newCourseLocks(),
	}
}

// Refresh drops the cached catalog index; the next file reloads it from the store.
func (s *ProcessingService) Refresh() {
	s.mu.Lock()
	s.index = nil
	s.mu.Unlock()
}

// ProcessFile reconciles one PDF: it resolves the course, extracts and
// locates the items and appends them as a new materials version. Files that
// need a human (no inference, weak or ambiguous match) are recorded and
// returned without an error; err is only set when the file could not be
// handled at all.
func (s *ProcessingService) ProcessFile(ctx context.Context, up Upload) (FileResult, error) {
	start := time.Now()
	res := FileResult{FileName: up.FileName}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	log := s.log.With("file", up.FileName)

	pdfRef, err := s.storePDF(up.Content)
	if err != nil {
		return res, fmt.Errorf("store pdf: %w", err)
	}

	rec, err := s.resolveTarget(up, &res)
	if err != nil {
		return s.fail(res, up, pdfRef, start, err)
	}
	if rec == nil {
		log.Info("file routed to review", "status", res.Status, "reason", res.Reason, "score", res.Score)
		return s.record(res, up, pdfRef, start)
	}
	res.CourseID = intPtr(rec.ID)
	res.CourseName = rec.Name

	raw, err := s.extractor.ExtractItems(ctx, up.Content)
	if err != nil {
		return s.fail(res, up, pdfRef, start, fmt.Errorf("extract items: %w", err))
	}
	items := NormalizeItems(raw)
	res.ItemCount = len(items)
	res.LocatedCount = s.locateItems(log, up.Content, items)

	now := s.now()
	version := internal.MaterialsVersion{
		ID:             uuid.NewString(),
		UploadedAt:     now,
		UpdatedAt:      now,
		SourceFileName: up.FileName,
		SourcePDFRef:   &pdfRef,
		Items:          items,
	}
	if ai, ok := s.extractor.(aiProcessed); ok {
		version.AIProcessed = ai.AIProcessed()
	}

	if _, err := s.appendVersion(ctx, rec.ID, version); err != nil {
		return s.fail(res, up, pdfRef, start, err)
	}
	res.VersionID = version.ID
	res.Status = internal.UploadApplied
	if res.Reason == "" {
		res.Reason = string(res.Band)
	}
	log.Info("version appended",
		"course_id", rec.ID,
		"version_id", version.ID,
		"items", res.ItemCount,
		"located", res.LocatedCount,
		"score", res.Score,
	)
	return s.record(res, up, pdfRef, start)
}

// resolveTarget returns the course the file belongs to, or nil with res
// describing why a human has to decide.
func (s *ProcessingService) resolveTarget(up Upload, res *FileResult) (*internal.CourseRecord, error) {
	if up.CourseID != nil {
		c, err := s.db.MustCourse(*up.CourseID)
		if err != nil {
			return nil, err
		}
		res.Band = course.BandMatched
		res.Reason = "assigned"
		return &c.CourseRecord, nil
	}

	idx, err := s.catalogIndex()
	if err != nil {
		return nil, err
	}
	resolution, err := ResolveCourse(up.label(), idx)
	res.Band = resolution.Band
	if d := resolution.Descriptor; d != nil {
		res.Method = string(d.Method)
		res.Confidence = d.Confidence
	}
	if m := resolution.Match; m != nil {
		res.Score = m.Score
		res.CourseID = intPtr(m.Record.ID)
		res.CourseName = m.Record.Name
	}

	switch {
	case errors.Is(err, internal.ErrInferenceFailed):
		res.Status, res.Reason = internal.UploadManualReview, "inference_failed"
		return nil, nil
	case errors.Is(err, internal.ErrNoConfidentMatch):
		if !s.cfg.AutoCreateCourses {
			res.Status, res.Reason = internal.UploadManualReview, "no_confident_match"
			return nil, nil
		}
		rec, created, err := s.createCourse(*resolution.Descriptor)
		if err != nil {
			return nil, err
		}
		res.Created = created
		res.Reason = "course_created"
		return &rec, nil
	case err != nil:
		return nil, err
	}

	if resolution.Band == course.BandAmbiguous && !s.cfg.AcceptAmbiguous {
		res.Status, res.Reason = internal.UploadNeedsConfirm, "ambiguous_match"
		return nil, nil
	}
	rec := resolution.Match.Record
	return &rec, nil
}

func (s *ProcessingService) catalogIndex() (*catalog.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != nil {
		return s.index, nil
	}
	records, err := s.db.ListCourseRecords()
	if err != nil {
		return nil, err
	}
	s.index = catalog.BuildIndex(records)
	return s.index, nil
}

// createCourse adds a catalog course for desc. Another file of the same batch
// may have created it first, so the index is matched again under the lock.
func (s *ProcessingService) createCourse(desc internal.CourseDescriptor) (internal.CourseRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index != nil {
		if m := course.Match(desc, s.index.Candidates(desc.Level, desc.Grade)); m != nil {
			return m.Record, false, nil
		}
	}
	rec, err := s.db.CreateCourse(recordFromDescriptor(desc))
	if err != nil {
		return internal.CourseRecord{}, false, fmt.Errorf("create course: %w", err)
	}
	if s.index != nil {
		s.index.Add(rec)
	}
	s.log.Info("course created", "course_id", rec.ID, "name", rec.Name)
	return rec, true, nil
}

// locateItems attaches coordinates in place and returns how many items were found.
func (s *ProcessingService) locateItems(log *logger.Logger, content []byte, items []internal.SupplyItem) int {
	pages, err := s.readText(content)
	if err != nil {
		log.Warn("pdf text layer unavailable", "error", err)
		return 0
	}
	located := 0
	for i := range items {
		coords := locate.Locate(pages, items[i].Name)
		if coords == nil {
			log.Debug("item not located", "item", items[i].Name, "error", internal.ErrLocatorMiss)
			continue
		}
		items[i].Coordinates = coords
		located++
	}
	return located
}

func (s *ProcessingService) appendVersion(ctx context.Context, courseID int, version internal.MaterialsVersion) (internal.Course, error) {
	unlock := s.locks.lock(courseID)
	defer unlock()
	return updateCourse(ctx, s.db, courseID, s.cfg.ConflictRetries, func(c internal.Course) (internal.Course, error) {
		return ledger.AppendVersion(c, version, s.now()), nil
	})
}

// storePDF keeps the original file under its content hash and returns the path.
func (s *ProcessingService) storePDF(content []byte) (string, error) {
	sum := sha256.Sum256(content)
	name := hex.EncodeToString(sum[:]) + ".pdf"
	if err := os.MkdirAll(s.cfg.PDFDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.PDFDir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return "", err
		}
	}
	return path, nil
}

func (s *ProcessingService) fail(res FileResult, up Upload, pdfRef string, start time.Time, cause error) (FileResult, error) {
	res.Status = internal.UploadFailed
	res.Reason = cause.Error()
	s.log.Error("file failed", "file", up.FileName, "error", cause)
	out, err := s.record(res, up, pdfRef, start)
	if err != nil {
		return out, errors.Join(cause, err)
	}
	return out, cause
}

func (s *ProcessingService) record(res FileResult, up Upload, pdfRef string, start time.Time) (FileResult, error) {
	row := internal.UploadRow{
		FileName:     up.FileName,
		PDFRef:       pdfRef,
		Status:       res.Status,
		Reason:       res.Reason,
		CourseID:     res.CourseID,
		ItemCount:    res.ItemCount,
		LocatedCount: res.LocatedCount,
		EmailID:      up.EmailID,
	}
	if res.VersionID != "" {
		row.VersionID = &res.VersionID
	}
	if res.Score > 0 {
		row.MatchScore = intPtr(res.Score)
	}
	if res.Band != "" {
		band := string(res.Band)
		row.MatchBand = &band
	}
	if res.Method != "" {
		row.Method = &res.Method
		row.Confidence = intPtr(res.Confidence)
	}

	id, err := s.db.InsertUpload(row)
	if err != nil {
		return res, fmt.Errorf("record upload: %w", err)
	}
	res.UploadID = id

	counts := map[string]int{"items": res.ItemCount, "located": res.LocatedCount, "score": res.Score}
	timings := map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())}
	if err := s.db.InsertRun(uuid.NewString(), "file", timings, counts); err != nil {
		s.log.Warn("run not recorded", "error", err)
	}
	return res, nil
}

// AssignUpload reprocesses a stored upload against a course chosen by a reviewer.
func (s *ProcessingService) AssignUpload(ctx context.Context, uploadID, courseID int) (FileResult, error) {
	row, err := s.db.GetUpload(uploadID)
	if err != nil {
		return FileResult{}, err
	}
	if row == nil {
		return FileResult{}, fmt.Errorf("upload %d not found", uploadID)
	}
	content, err := os.ReadFile(row.PDFRef)
	if err != nil {
		return FileResult{}, err
	}
	res, err := s.ProcessFile(ctx, Upload{FileName: row.FileName, Content: content, EmailID: row.EmailID, CourseID: &courseID})
	if err != nil {
		return res, err
	}
	if err := s.db.UpdateUploadStatus(uploadID, internal.UploadApplied, fmt.Sprintf("assigned course %d in upload %d", courseID, res.UploadID)); err != nil {
		return res, err
	}
	return res, nil
}

func intPtr(v int) *int { return &v }
