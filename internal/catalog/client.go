package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"utiles/internal"
	"utiles/internal/config"
	"utiles/internal/course"
	"utiles/internal/util"
)

const maxAttempts = 5

// Client reads the course collection of the headless CMS.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

type pageResponse struct {
	Data []map[string]any `json:"data"`
	Meta struct {
		Pagination struct {
			Page      int `json:"page"`
			PageCount int `json:"pageCount"`
			Total     int `json:"total"`
		} `json:"pagination"`
	} `json:"meta"`
	Error *struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewClient(cfg config.Config) *Client {
	rps := cfg.CMSRateLimitRPS
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.CMSTimeoutMs) * time.Millisecond},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// ListCourses walks every page of the course collection. Entries that cannot
// be read as a course are skipped.
func (c *Client) ListCourses(ctx context.Context) ([]internal.CourseRecord, error) {
	pageSize := c.cfg.CMSPageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	all := make([]internal.CourseRecord, 0)
	for page := 1; ; page++ {
		body, err := c.fetchJSON(ctx, "cursos", map[string]string{
			"pagination[page]":     strconv.Itoa(page),
			"pagination[pageSize]": strconv.Itoa(pageSize),
			"sort":                 "id:asc",
		})
		if err != nil {
			return nil, err
		}

		var payload pageResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("decode cms page %d: %w", page, err)
		}
		for _, raw := range payload.Data {
			rec, err := toCourseRecord(raw)
			if err != nil {
				continue
			}
			all = append(all, rec)
		}

		if len(payload.Data) == 0 || page >= payload.Meta.Pagination.PageCount {
			break
		}
	}
	return all, nil
}

func (c *Client) fetchJSON(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	if strings.TrimSpace(c.cfg.CMSAPIToken) == "" {
		return nil, errors.New("missing CMS_API_TOKEN")
	}

	u, err := url.Parse(strings.TrimRight(c.cfg.CMSAPIBaseURL, "/") + "/" + endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for k, v := range params {
		if strings.TrimSpace(v) != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.CMSAPIToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if isRetryableStatus(resp.StatusCode) && attempt < maxAttempts {
				lastErr = fmt.Errorf("cms status %d", resp.StatusCode)
				backoff := time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(backoff):
				}
				continue
			}
			return nil, fmt.Errorf("cms api error: status=%d body=%s", resp.StatusCode, string(body))
		}
		return body, nil
	}

	if lastErr == nil {
		lastErr = errors.New("cms request failed")
	}
	return nil, lastErr
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// toCourseRecord accepts both the nested {"id", "attributes": {...}} and the
// flat entry layouts. When level or grade fields are missing the course name
// is run through the inferencer.
func toCourseRecord(raw map[string]any) (internal.CourseRecord, error) {
	externalID := toStringPtr(raw["documentId"])
	if externalID == nil {
		id, ok := toInt(raw["id"])
		if !ok {
			return internal.CourseRecord{}, errors.New("missing id")
		}
		externalID = util.StringPtr(strconv.Itoa(id))
	}

	fields := raw
	if attrs, ok := raw["attributes"].(map[string]any); ok {
		fields = attrs
	}

	rec := internal.CourseRecord{ExternalID: externalID}
	rec.Name = strings.TrimSpace(firstString(fields, "nombre_curso", "nombre", "name"))
	rec.Level = toLevel(firstString(fields, "nivel", "level"))
	rec.Grade, _ = toInt(fields["grado"])
	rec.Section = toStringPtr(fields["letra"])
	if rec.Section == nil {
		rec.Section = toStringPtr(fields["paralelo"])
	}
	if year, ok := toInt(fields["anio"]); ok {
		rec.Year = util.IntPtr(year)
	} else if year, ok := toInt(fields["año"]); ok {
		rec.Year = util.IntPtr(year)
	}

	if rec.Level == "" || rec.Grade == 0 {
		desc := course.Infer(rec.Name)
		if desc == nil {
			return internal.CourseRecord{}, fmt.Errorf("cannot read level/grade of %q", rec.Name)
		}
		rec.Level, rec.Grade = desc.Level, desc.Grade
		if rec.Section == nil {
			rec.Section = desc.Section
		}
		if rec.Year == nil {
			rec.Year = desc.Year
		}
	}
	if rec.Grade < 1 || rec.Grade > rec.Level.MaxGrade() {
		return internal.CourseRecord{}, fmt.Errorf("grade %d out of range for %s", rec.Grade, rec.Level)
	}
	if rec.Name == "" {
		rec.Name = DisplayName(rec)
	}
	return rec, nil
}

// DisplayName renders a record the way course names are written in lists: "3° Básico B 2026".
func DisplayName(rec internal.CourseRecord) string {
	level := "Básico"
	if rec.Level == internal.LevelSecondary {
		level = "Medio"
	}
	name := fmt.Sprintf("%d° %s", rec.Grade, level)
	if rec.Section != nil {
		name += " " + strings.ToUpper(*rec.Section)
	}
	if rec.Year != nil {
		name += " " + strconv.Itoa(*rec.Year)
	}
	return name
}

func toLevel(v string) internal.Level {
	switch n := util.Normalize(v); {
	case strings.HasPrefix(n, "basic"):
		return internal.LevelBasic
	case strings.HasPrefix(n, "medi"), strings.HasPrefix(n, "secundari"):
		return internal.LevelSecondary
	default:
		return ""
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func toStringPtr(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return util.StringPtr(s)
}
