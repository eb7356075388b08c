package listener

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"utiles/internal"
	"utiles/internal/config"
	"utiles/internal/storage"
	"utiles/internal/util"
)

type stubConnector struct {
	messages []internal.FetchedMailMessage
}

func (s stubConnector) FetchInbox(context.Context, string, int) ([]internal.FetchedMailMessage, error) {
	return s.messages, nil
}

type stubExtractor struct{}

func (stubExtractor) ExtractItems(context.Context, []byte) ([]internal.RawItem, error) {
	return []internal.RawItem{{Name: "Cuaderno college 100 hojas", Quantity: util.FloatPtr(4)}}, nil
}

const rawMessage = "From: apoderado@example.cl\r\n" +
	"Subject: Lista de utiles 5 Basico A\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b\"\r\n\r\n" +
	"--b\r\n" +
	"Content-Type: text/plain\r\n\r\n" +
	"Lista adjunta.\r\n" +
	"--b\r\n" +
	"Content-Type: application/pdf; name=\"5A.pdf\"\r\n" +
	"Content-Disposition: attachment; filename=\"lista.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n\r\n"

func TestRunCycleExportsTouchedCourses(t *testing.T) {
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "utiles.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg := config.Config{
		PDFDir:                   filepath.Join(tmp, "pdf"),
		RawMailDir:               filepath.Join(tmp, "raw"),
		OutputDir:                filepath.Join(tmp, "out"),
		AutoCreateCourses:        true,
		ConflictRetries:          3,
		MailListenerProvider:     "imap",
		MailListenerLabel:        "INBOX",
		MailListenerFetchMax:     10,
		MailListenerProcessBatch: 10,
		MailListenerAutoExport:   true,
	}
	raw := rawMessage + base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 lista")) + "\r\n--b--\r\n"

	svc := NewService(db, cfg, nil, stubExtractor{})
	svc.connector = stubConnector{messages: []internal.FetchedMailMessage{{
		Provider:   "imap",
		MessageID:  "<1@example.cl>",
		Subject:    "Lista de utiles 5 Basico A",
		From:       "apoderado@example.cl",
		ReceivedAt: "2026-02-20T09:00:00Z",
		Raw:        []byte(raw),
	}}}

	if err := svc.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	courses, err := db.ListCourseRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(courses) != 1 || courses[0].Grade != 5 || util.Deref(courses[0].Section) != "A" {
		t.Fatalf("courses=%+v", courses)
	}
	out := filepath.Join(cfg.OutputDir, "listener", ExportFileName(courses[0].ID, courses[0].Name))
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("export missing: %v", err)
	}

	// A second cycle sees the same message and leaves it processed.
	if err := svc.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	c, err := db.MustCourse(courses[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Versions) != 1 {
		t.Fatalf("versions=%d", len(c.Versions))
	}
}

func TestRunCycleUnknownProvider(t *testing.T) {
	svc := &Service{cfg: config.Config{MailListenerProvider: "pop3"}}
	if err := svc.RunCycle(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestExportFileName(t *testing.T) {
	got := ExportFileName(7, "3° Básico B: 2026/27")
	if got != "7_3_Básico_B__2026_27.xlsx" {
		t.Fatalf("got %q", got)
	}
}
