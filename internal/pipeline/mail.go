package pipeline

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/jhillyerd/enmime"

	"utiles/internal"
	"utiles/internal/course"
	"utiles/internal/logger"
	"utiles/internal/storage"
)

const (
	EmailFetched   = "fetched"
	EmailProcessed = "processed"
	EmailSkipped   = "skipped"
	EmailFailed    = "failed"
)

type MailResult struct {
	EmailID int
	Files   []FileResult
	// Courses lists the ids of courses that received a new version.
	Courses []int
}

// MailProcessor feeds PDF attachments of stored messages into the pipeline.
type MailProcessor struct {
	db   *storage.DB
	proc *ProcessingService
	log  *logger.Logger
}

func NewMailProcessor(db *storage.DB, proc *ProcessingService) *MailProcessor {
	return &MailProcessor{db: db, proc: proc, log: proc.log}
}

func (m *MailProcessor) ProcessPending(ctx context.Context, limit int, provider string) ([]MailResult, error) {
	pending, err := m.db.ListEmailsByStatus(EmailFetched, limit)
	if err != nil {
		return nil, err
	}
	out := []MailResult{}
	for _, email := range pending {
		if provider != "" && email.Provider != provider {
			continue
		}
		res, err := m.ProcessEmail(ctx, email)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			m.log.Error("email failed", "email_id", email.ID, "error", err)
			_ = m.db.UpdateEmailStatus(email.ID, EmailFailed)
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

func (m *MailProcessor) ProcessEmail(ctx context.Context, email internal.EmailRow) (MailResult, error) {
	res := MailResult{EmailID: email.ID}
	raw, err := os.ReadFile(email.RawRef)
	if err != nil {
		return res, err
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return res, err
	}

	subject := firstNonEmpty(env.GetHeader("Subject"), email.Subject)
	attachments := []*enmime.Part{}
	names := []string{}
	for _, att := range env.Attachments {
		name := strings.TrimSpace(att.FileName)
		names = append(names, name)
		if strings.HasSuffix(strings.ToLower(name), ".pdf") {
			attachments = append(attachments, att)
		}
	}

	detect := DetectSupplyList(subject, env.Text, names)
	if !detect.IsSupplyList || len(attachments) == 0 {
		m.log.Info("email skipped", "email_id", email.ID, "score", detect.Score)
		return res, m.db.UpdateEmailStatus(email.ID, EmailSkipped)
	}

	seen := map[int]struct{}{}
	for _, att := range attachments {
		up := Upload{FileName: att.FileName, Content: att.Content, EmailID: &email.ID}
		// Attachments named "lista.pdf" carry the course in the subject.
		if course.Infer(att.FileName) == nil && course.Infer(subject) != nil {
			up.Label = subject
		}
		fr, err := m.proc.ProcessFile(ctx, up)
		if err != nil && ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Files = append(res.Files, fr)
		if fr.Status == internal.UploadApplied && fr.CourseID != nil {
			if _, ok := seen[*fr.CourseID]; !ok {
				seen[*fr.CourseID] = struct{}{}
				res.Courses = append(res.Courses, *fr.CourseID)
			}
		}
	}
	return res, m.db.UpdateEmailStatus(email.ID, EmailProcessed)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
