package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath     string
	PDFDir     string
	RawMailDir string
	OutputDir  string
	LogMode    string

	CMSAPIBaseURL   string
	CMSAPIToken     string
	CMSRateLimitRPS int
	CMSTimeoutMs    int
	CMSPageSize     int

	AutoCreateCourses bool
	AcceptAmbiguous   bool
	BatchWorkers      int
	ConflictRetries   int

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	MailListenerProvider     string
	MailListenerLabel        string
	MailListenerIntervalSec  int
	MailListenerFetchMax     int
	MailListenerProcessBatch int
	MailListenerAutoExport   bool
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, "data", "utiles.db")),
		PDFDir:     getEnv("PDF_DIR", filepath.Join(cwd, "data", "pdf")),
		RawMailDir: getEnv("MAIL_RAW_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir:  getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),
		LogMode:    getEnv("LOG_MODE", "development"),

		CMSAPIBaseURL:   getEnv("CMS_API_BASE_URL", "http://localhost:1337/api"),
		CMSAPIToken:     getEnv("CMS_API_TOKEN", ""),
		CMSRateLimitRPS: getEnvInt("CMS_RATE_LIMIT_RPS", 5),
		CMSTimeoutMs:    getEnvInt("CMS_TIMEOUT_MS", 30000),
		CMSPageSize:     getEnvInt("CMS_PAGE_SIZE", 100),

		AutoCreateCourses: getEnvBool("AUTO_CREATE_COURSES", true),
		AcceptAmbiguous:   getEnvBool("ACCEPT_AMBIGUOUS", false),
		BatchWorkers:      getEnvInt("BATCH_WORKERS", 4),
		ConflictRetries:   getEnvInt("CONFLICT_RETRIES", 3),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailListenerProvider:     getEnv("MAIL_LISTENER_PROVIDER", "imap"),
		MailListenerLabel:        getEnv("MAIL_LISTENER_LABEL", "INBOX"),
		MailListenerIntervalSec:  getEnvInt("MAIL_LISTENER_INTERVAL_SEC", 60),
		MailListenerFetchMax:     getEnvInt("MAIL_LISTENER_FETCH_MAX", 20),
		MailListenerProcessBatch: getEnvInt("MAIL_LISTENER_PROCESS_BATCH", 20),
		MailListenerAutoExport:   getEnvBool("MAIL_LISTENER_AUTO_EXPORT", true),
	}

	if cfg.BatchWorkers < 1 {
		cfg.BatchWorkers = 1
	}
	if cfg.ConflictRetries < 1 {
		cfg.ConflictRetries = 1
	}
	if cfg.MailListenerIntervalSec < 1 {
		cfg.MailListenerIntervalSec = 60
	}

	return cfg, cfg.Validate()
}

// Validate reports settings that can never work. Missing credentials are
// checked later, by the command that needs them.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(strings.TrimSpace(c.MailListenerProvider)) {
	case "gmail", "imap":
	default:
		errs = append(errs, fmt.Errorf("MAIL_LISTENER_PROVIDER: unsupported provider %q", c.MailListenerProvider))
	}
	if c.IMAPPort < 1 || c.IMAPPort > 65535 {
		errs = append(errs, fmt.Errorf("IMAP_PORT: %d out of range", c.IMAPPort))
	}
	if c.CMSRateLimitRPS < 1 {
		errs = append(errs, fmt.Errorf("CMS_RATE_LIMIT_RPS: must be positive, got %d", c.CMSRateLimitRPS))
	}
	if c.CMSPageSize < 1 {
		errs = append(errs, fmt.Errorf("CMS_PAGE_SIZE: must be positive, got %d", c.CMSPageSize))
	}
	return errors.Join(errs...)
}

func (c Config) ListenerInterval() time.Duration {
	return time.Duration(c.MailListenerIntervalSec) * time.Second
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	switch value {
	case "1", "true", "yes", "on", "si", "sí":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
