package connectors

import (
	"context"

	"utiles/internal/logger"
	"utiles/internal/storage"
)

type FetchService struct {
	connector MailConnector
	store     *MailStoreService
	log       *logger.Logger
}

type FetchResult struct {
	Fetched int
	Stored  int
	Failed  int
}

func NewFetchService(db *storage.DB, rawMailDir string, connector MailConnector, log *logger.Logger) *FetchService {
	if log == nil {
		log = logger.Nop()
	}
	return &FetchService{
		connector: connector,
		store:     NewMailStoreService(db, rawMailDir),
		log:       log,
	}
}

// FetchAndStore pulls up to max messages from label. A message that cannot be
// stored is logged and counted; the rest of the batch is still stored.
func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, err
	}

	res := FetchResult{Fetched: len(messages)}
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		row, err := s.store.Store(msg)
		if err != nil {
			res.Failed++
			s.log.Warn("mail not stored", "provider", msg.Provider, "message_id", msg.MessageID, "error", err)
			continue
		}
		s.log.Debug("mail stored", "email_id", row.ID, "provider", row.Provider, "status", row.Status)
		res.Stored++
	}
	return res, nil
}
