package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"utiles/internal"
	"utiles/internal/config"
	"utiles/internal/ledger"
	"utiles/internal/logger"
	"utiles/internal/storage"
)

type ApprovalService struct {
	db       *storage.DB
	log      *logger.Logger
	attempts int
	now      func() time.Time
}

func NewApprovalService(db *storage.DB, cfg config.Config, log *logger.Logger) *ApprovalService {
	if log == nil {
		log = logger.Nop()
	}
	return &ApprovalService{db: db, log: log, attempts: cfg.ConflictRetries, now: time.Now}
}

// SetItem approves or un-approves one item of the latest version of a course.
func (s *ApprovalService) SetItem(ctx context.Context, courseID int, ref internal.ItemRef, approved bool) (internal.Course, error) {
	c, err := updateCourse(ctx, s.db, courseID, s.attempts, func(c internal.Course) (internal.Course, error) {
		return ledger.SetItemApproval(c, ref, approved, s.now())
	})
	if err != nil {
		return c, err
	}
	s.log.Info("item approval set", "course_id", courseID, "approved", approved, "review_state", c.ReviewState)
	return c, nil
}

// SetAll approves or un-approves every item of the latest version.
func (s *ApprovalService) SetAll(ctx context.Context, courseID int, approved bool) (internal.Course, error) {
	c, err := updateCourse(ctx, s.db, courseID, s.attempts, func(c internal.Course) (internal.Course, error) {
		return ledger.SetAllApproval(c, approved, s.now())
	})
	if err != nil {
		return c, err
	}
	s.log.Info("all approvals set", "course_id", courseID, "approved", approved, "review_state", c.ReviewState)
	return c, nil
}

type CopyService struct {
	db       *storage.DB
	log      *logger.Logger
	attempts int
	now      func() time.Time
}

func NewCopyService(db *storage.DB, cfg config.Config, log *logger.Logger) *CopyService {
	if log == nil {
		log = logger.Nop()
	}
	return &CopyService{db: db, log: log, attempts: cfg.ConflictRetries, now: time.Now}
}

// CopyLatest appends a copy of the latest version of course fromID to course
// toID. The copy gets new ids and starts unapproved; coordinates are kept.
func (s *CopyService) CopyLatest(ctx context.Context, fromID, toID int) (internal.Course, error) {
	source, err := s.db.MustCourse(fromID)
	if err != nil {
		return internal.Course{}, err
	}
	latest := source.LatestVersion()
	if latest == nil {
		return internal.Course{}, fmt.Errorf("course %d: %w", fromID, internal.ErrEmptyLedger)
	}
	version := copyVersion(*latest, s.now())

	c, err := updateCourse(ctx, s.db, toID, s.attempts, func(c internal.Course) (internal.Course, error) {
		return ledger.AppendVersion(c, version, s.now()), nil
	})
	if err != nil {
		return c, err
	}
	s.log.Info("version copied", "from", fromID, "to", toID, "version_id", version.ID, "items", len(version.Items))
	return c, nil
}

func copyVersion(src internal.MaterialsVersion, now time.Time) internal.MaterialsVersion {
	items := make([]internal.SupplyItem, len(src.Items))
	for i, item := range src.Items {
		item.ID = uuid.NewString()
		item.Approved = false
		item.ApprovedAt = nil
		if item.Coordinates != nil {
			coords := *item.Coordinates
			item.Coordinates = &coords
		}
		items[i] = item
	}
	return internal.MaterialsVersion{
		ID:             uuid.NewString(),
		UploadedAt:     now,
		UpdatedAt:      now,
		SourceFileName: src.SourceFileName,
		SourcePDFRef:   src.SourcePDFRef,
		Items:          items,
		AIProcessed:    src.AIProcessed,
	}
}

// updateCourse reads the course, applies fn and saves it, starting over with a
// fresh read whenever the store reports a concurrent write.
func updateCourse(ctx context.Context, db *storage.DB, courseID, attempts int, fn func(internal.Course) (internal.Course, error)) (internal.Course, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return internal.Course{}, err
		}
		current, err := db.MustCourse(courseID)
		if err != nil {
			return internal.Course{}, err
		}
		next, err := fn(current)
		if err != nil {
			return internal.Course{}, err
		}
		saved, err := db.SaveCourse(next)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, internal.ErrConflict) {
			return internal.Course{}, err
		}
		lastErr = err
	}
	return internal.Course{}, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}
