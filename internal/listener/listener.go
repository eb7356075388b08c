package listener

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"utiles/internal/config"
	"utiles/internal/connectors"
	gmailconnector "utiles/internal/connectors/gmail"
	imapconnector "utiles/internal/connectors/imap"
	"utiles/internal/logger"
	"utiles/internal/pipeline"
	"utiles/internal/storage"
)

// Service polls the mailbox, runs PDF attachments through the pipeline and
// exports every course that received a new version.
type Service struct {
	db   *storage.DB
	cfg  config.Config
	log  *logger.Logger
	mail *pipeline.MailProcessor

	connector connectors.MailConnector
}

func NewService(db *storage.DB, cfg config.Config, log *logger.Logger, extractor pipeline.ItemExtractor) *Service {
	if log == nil {
		log = logger.Nop()
	}
	proc := pipeline.NewProcessingService(db, cfg, log, extractor)
	return &Service{
		db:   db,
		cfg:  cfg,
		log:  log,
		mail: pipeline.NewMailProcessor(db, proc),
	}
}

func (s *Service) Run(ctx context.Context) error {
	interval := s.cfg.ListenerInterval()
	s.log.Info("listener started", "provider", s.cfg.MailListenerProvider, "interval", interval.String())
	for {
		if err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("listener cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.log.Info("listener stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

func (s *Service) RunCycle(ctx context.Context) error {
	provider := strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
	mailConnector, err := s.makeConnector(ctx, provider)
	if err != nil {
		return err
	}

	fetchService := connectors.NewFetchService(s.db, s.cfg.RawMailDir, mailConnector, s.log)
	fetched, err := fetchService.FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return err
	}

	results, err := s.mail.ProcessPending(ctx, s.cfg.MailListenerProcessBatch, provider)
	if err != nil {
		return err
	}

	touched := map[int]struct{}{}
	files := 0
	for _, r := range results {
		files += len(r.Files)
		for _, id := range r.Courses {
			touched[id] = struct{}{}
		}
	}
	if s.cfg.MailListenerAutoExport {
		for id := range touched {
			if err := s.exportCourse(id); err != nil {
				s.log.Warn("course export failed", "course_id", id, "error", err)
			}
		}
	}

	s.log.Info("listener cycle done",
		"provider", provider,
		"fetched", fetched.Fetched,
		"stored", fetched.Stored,
		"store_failed", fetched.Failed,
		"emails", len(results),
		"files", files,
		"courses", len(touched),
	)
	return nil
}

func (s *Service) exportCourse(id int) error {
	c, err := s.db.MustCourse(id)
	if err != nil {
		return err
	}
	path := filepath.Join(s.cfg.OutputDir, "listener", ExportFileName(c.ID, c.Name))
	return pipeline.ExportVersionToXLSX(c, path)
}

func (s *Service) makeConnector(ctx context.Context, provider string) (connectors.MailConnector, error) {
	if s.connector != nil {
		return s.connector, nil
	}
	switch provider {
	case "gmail":
		return gmailconnector.NewConnector(ctx, s.cfg)
	case "imap":
		return imapconnector.NewConnector(s.cfg)
	default:
		return nil, fmt.Errorf("unsupported listener provider: %s", provider)
	}
}

// ExportFileName builds a file-system safe name for a course export.
func ExportFileName(courseID int, name string) string {
	repl := strings.NewReplacer("<", "_", ">", "_", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_", "°", "")
	out := repl.Replace(strings.TrimSpace(name))
	if len(out) > 120 {
		out = out[:120]
	}
	return fmt.Sprintf("%d_%s.xlsx", courseID, out)
}
