package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"utiles/internal"
	"utiles/internal/storage"
)

// MailStoreService keeps raw messages on disk under their content hash and
// records them in the emails table.
type MailStoreService struct {
	db         *storage.DB
	rawMailDir string
}

func NewMailStoreService(db *storage.DB, rawMailDir string) *MailStoreService {
	return &MailStoreService{db: db, rawMailDir: rawMailDir}
}

// Store writes msg once per content hash. Messages without a provider id are
// keyed by their hash so a re-fetch does not create a second row.
func (s *MailStoreService) Store(msg internal.FetchedMailMessage) (internal.EmailRow, error) {
	if len(msg.Raw) == 0 {
		return internal.EmailRow{}, fmt.Errorf("message %q has no raw content", msg.MessageID)
	}
	sum := sha256.Sum256(msg.Raw)
	hash := hex.EncodeToString(sum[:])
	if strings.TrimSpace(msg.MessageID) == "" {
		msg.MessageID = "sha256:" + hash
	}

	rawPath, err := s.writeRaw(hash, msg.Raw)
	if err != nil {
		return internal.EmailRow{}, err
	}
	return s.db.UpsertEmail(msg, hash, rawPath)
}

func (s *MailStoreService) writeRaw(hash string, raw []byte) (string, error) {
	if err := os.MkdirAll(s.rawMailDir, 0o755); err != nil {
		return "", err
	}
	rawPath := filepath.Join(s.rawMailDir, hash+".eml")
	if _, err := os.Stat(rawPath); err == nil {
		return rawPath, nil
	}

	tmp, err := os.CreateTemp(s.rawMailDir, hash+".*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), rawPath); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return rawPath, nil
}
