package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"utiles/internal"
	"utiles/internal/ledger"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// A single connection keeps per-connection pragmas in effect and lets
	// sqlite serialize concurrent writers of the batch runner.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS courses (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  externalId TEXT UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  level TEXT NOT NULL,
  grade INTEGER NOT NULL,
  section TEXT,
  year INTEGER,
  versionsJson TEXT NOT NULL DEFAULT '[]',
  reviewState TEXT NOT NULL DEFAULT 'borrador',
  reviewedAt TEXT,
  revision INTEGER NOT NULL DEFAULT 0,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_courses_level_grade ON courses(level, grade);

CREATE TABLE IF NOT EXISTS uploads (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  fileName TEXT NOT NULL,
  pdfRef TEXT NOT NULL,
  status TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  courseId INTEGER,
  versionId TEXT,
  matchScore INTEGER,
  matchBand TEXT,
  method TEXT,
  confidence INTEGER,
  itemCount INTEGER NOT NULL DEFAULT 0,
  locatedCount INTEGER NOT NULL DEFAULT 0,
  emailId INTEGER,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(courseId) REFERENCES courses(id)
);
CREATE INDEX IF NOT EXISTS idx_uploads_status ON uploads(status);

CREATE TABLE IF NOT EXISTS emails (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'fetched',
  rawRef TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  kind TEXT NOT NULL,
  timingsJson TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

const courseColumns = `id, externalId, name, level, grade, section, year`

func scanRecord(scan func(dest ...any) error) (internal.CourseRecord, error) {
	var rec internal.CourseRecord
	var level string
	if err := scan(&rec.ID, &rec.ExternalID, &rec.Name, &level, &rec.Grade, &rec.Section, &rec.Year); err != nil {
		return internal.CourseRecord{}, err
	}
	rec.Level = internal.Level(level)
	return rec, nil
}

// FindCourses lists catalog records in id order, which is the order the
// matcher uses to break ties.
func (d *DB) FindCourses(filter internal.CourseFilter) ([]internal.CourseRecord, error) {
	where := []string{"1=1"}
	args := []any{}
	if filter.Level != nil {
		where = append(where, "level = ?")
		args = append(args, string(*filter.Level))
	}
	if filter.Grade != nil {
		where = append(where, "grade = ?")
		args = append(args, *filter.Grade)
	}
	if filter.Year != nil {
		where = append(where, "year = ?")
		args = append(args, *filter.Year)
	}

	rows, err := d.conn.Query(`SELECT `+courseColumns+` FROM courses WHERE `+strings.Join(where, " AND ")+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.CourseRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (d *DB) ListCourseRecords() ([]internal.CourseRecord, error) {
	return d.FindCourses(internal.CourseFilter{})
}

func (d *DB) CreateCourse(rec internal.CourseRecord) (internal.CourseRecord, error) {
	if err := validateRecord(rec); err != nil {
		return internal.CourseRecord{}, err
	}
	result, err := d.conn.Exec(`
INSERT INTO courses (externalId, name, level, grade, section, year)
VALUES (?, ?, ?, ?, ?, ?)
`, rec.ExternalID, rec.Name, string(rec.Level), rec.Grade, normalizeSection(rec.Section), rec.Year)
	if err != nil {
		return internal.CourseRecord{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return internal.CourseRecord{}, err
	}
	rec.ID = int(id)
	rec.Section = normalizeSection(rec.Section)
	return rec, nil
}

// UpsertCatalogCourses writes records synced from the CMS, keyed by external
// id. Versions and review state of existing courses are left alone.
func (d *DB) UpsertCatalogCourses(records []internal.CourseRecord) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO courses (externalId, name, level, grade, section, year)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(externalId) DO UPDATE SET
  name=excluded.name,
  level=excluded.level,
  grade=excluded.grade,
  section=excluded.section,
  year=excluded.year,
  updatedAt=CURRENT_TIMESTAMP
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.ExternalID == nil {
			return fmt.Errorf("catalog course %q has no external id", rec.Name)
		}
		if err := validateRecord(rec); err != nil {
			return err
		}
		if _, err := stmt.Exec(rec.ExternalID, rec.Name, string(rec.Level), rec.Grade, normalizeSection(rec.Section), rec.Year); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetCourse returns nil, nil when the course does not exist.
func (d *DB) GetCourse(id int) (*internal.Course, error) {
	var (
		c            internal.Course
		level        string
		versionsJSON string
		reviewState  string
		reviewedAt   *string
	)
	err := d.conn.QueryRow(`
SELECT `+courseColumns+`, versionsJson, reviewState, reviewedAt, revision
FROM courses WHERE id = ?
`, id).Scan(
		&c.ID, &c.ExternalID, &c.Name, &level, &c.Grade, &c.Section, &c.Year,
		&versionsJSON, &reviewState, &reviewedAt, &c.Revision,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.Level = internal.Level(level)
	c.ReviewState = internal.ReviewState(reviewState)
	if c.ReviewState != internal.ReviewReviewed {
		c.ReviewState = internal.ReviewDraft
	}
	if reviewedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *reviewedAt)
		if err != nil {
			return nil, fmt.Errorf("course %d: parse reviewedAt: %w", id, err)
		}
		c.ReviewedAt = &t
	}
	c.Versions, err = DecodeVersions([]byte(versionsJSON))
	if err != nil {
		return nil, fmt.Errorf("course %d: %w", id, err)
	}
	// The stored state may predate coercion of its items.
	recomputed := ledger.Recompute(c, time.Now())
	return &recomputed, nil
}

func (d *DB) MustCourse(id int) (internal.Course, error) {
	c, err := d.GetCourse(id)
	if err != nil {
		return internal.Course{}, err
	}
	if c == nil {
		return internal.Course{}, fmt.Errorf("%w: id=%d", internal.ErrCourseNotFound, id)
	}
	return *c, nil
}

// SaveCourse persists the versions and review state of course if nobody
// wrote it since it was read. It returns internal.ErrConflict otherwise; the
// caller is expected to re-read and retry.
func (d *DB) SaveCourse(course internal.Course) (internal.Course, error) {
	versionsJSON, err := json.Marshal(course.Versions)
	if err != nil {
		return internal.Course{}, err
	}
	var reviewedAt *string
	if course.ReviewedAt != nil {
		s := course.ReviewedAt.UTC().Format(time.RFC3339Nano)
		reviewedAt = &s
	}

	result, err := d.conn.Exec(`
UPDATE courses
SET versionsJson = ?, reviewState = ?, reviewedAt = ?, revision = revision + 1, updatedAt = CURRENT_TIMESTAMP
WHERE id = ? AND revision = ?
`, string(versionsJSON), string(course.ReviewState), reviewedAt, course.ID, course.Revision)
	if err != nil {
		return internal.Course{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return internal.Course{}, err
	}
	if affected == 0 {
		existing, err := d.GetCourse(course.ID)
		if err != nil {
			return internal.Course{}, err
		}
		if existing == nil {
			return internal.Course{}, fmt.Errorf("%w: id=%d", internal.ErrCourseNotFound, course.ID)
		}
		return internal.Course{}, fmt.Errorf("%w: id=%d revision=%d", internal.ErrConflict, course.ID, course.Revision)
	}
	course.Revision++
	return course, nil
}

func (d *DB) InsertUpload(row internal.UploadRow) (int, error) {
	result, err := d.conn.Exec(`
INSERT INTO uploads (fileName, pdfRef, status, reason, courseId, versionId, matchScore, matchBand, method, confidence, itemCount, locatedCount, emailId)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, row.FileName, row.PDFRef, string(row.Status), row.Reason, row.CourseID, row.VersionID, row.MatchScore, row.MatchBand, row.Method, row.Confidence, row.ItemCount, row.LocatedCount, row.EmailID)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	return int(id), err
}

const uploadColumns = `id, fileName, pdfRef, status, reason, courseId, versionId, matchScore, matchBand, method, confidence, itemCount, locatedCount, emailId, createdAt`

func scanUpload(scan func(dest ...any) error) (internal.UploadRow, error) {
	var row internal.UploadRow
	var status string
	err := scan(&row.ID, &row.FileName, &row.PDFRef, &status, &row.Reason, &row.CourseID, &row.VersionID,
		&row.MatchScore, &row.MatchBand, &row.Method, &row.Confidence, &row.ItemCount, &row.LocatedCount, &row.EmailID, &row.CreatedAt)
	row.Status = internal.UploadStatus(status)
	return row, err
}

func (d *DB) GetUpload(id int) (*internal.UploadRow, error) {
	row, err := scanUpload(d.conn.QueryRow(`SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) ListUploadsByStatus(statuses []internal.UploadStatus, limit int) ([]internal.UploadRow, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, 0, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for _, s := range statuses {
		placeholders = append(placeholders, "?")
		args = append(args, string(s))
	}
	args = append(args, limit)

	rows, err := d.conn.Query(`SELECT `+uploadColumns+` FROM uploads WHERE status IN (`+strings.Join(placeholders, ",")+`) ORDER BY id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.UploadRow
	for rows.Next() {
		row, err := scanUpload(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpdateUploadStatus(id int, status internal.UploadStatus, reason string) error {
	_, err := d.conn.Exec(`UPDATE uploads SET status = ?, reason = ? WHERE id = ?`, string(status), reason, id)
	return err
}

func (d *DB) InsertRun(traceID, kind string, timings map[string]float64, counts map[string]int) error {
	timingsJSON, _ := json.Marshal(timings)
	countsJSON, _ := json.Marshal(counts)
	_, err := d.conn.Exec(`INSERT INTO runs (traceId, kind, timingsJson, countsJson) VALUES (?, ?, ?, ?)`, traceID, kind, string(timingsJSON), string(countsJSON))
	return err
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func validateRecord(rec internal.CourseRecord) error {
	max := rec.Level.MaxGrade()
	if max == 0 {
		return fmt.Errorf("invalid course level %q", rec.Level)
	}
	if rec.Grade < 1 || rec.Grade > max {
		return fmt.Errorf("invalid grade %d for level %s", rec.Grade, rec.Level)
	}
	return nil
}

func normalizeSection(section *string) *string {
	if section == nil {
		return nil
	}
	s := strings.ToUpper(strings.TrimSpace(*section))
	if s == "" {
		return nil
	}
	return &s
}
