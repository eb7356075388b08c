package connectors

import (
	"context"

	"utiles/internal"
)

// MailConnector fetches raw messages from a mailbox. Implementations only
// return messages that may carry a supply list (PDF attachments).
type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}
