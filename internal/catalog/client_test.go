package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"utiles/internal"
	"utiles/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, payload any) *http.Response {
	blob, _ := json.Marshal(payload)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(string(blob))),
		Header:     make(http.Header),
	}
}

func TestListCoursesWithRetryAndPaging(t *testing.T) {
	attempt := 0

	cfg, _ := config.Load()
	cfg.CMSAPIToken = "test"
	cfg.CMSAPIBaseURL = "https://cms.example.test/api"
	cfg.CMSRateLimitRPS = 1000

	client := NewClient(cfg)
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path != "/api/cursos" {
				t.Fatalf("unexpected path %s", r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer test" {
				t.Fatalf("authorization=%q", got)
			}
			attempt++
			switch attempt {
			case 1:
				return jsonResponse(http.StatusServiceUnavailable, map[string]any{"error": "boom"}), nil
			case 2:
				return jsonResponse(http.StatusOK, map[string]any{
					"data": []map[string]any{
						{"id": 7, "attributes": map[string]any{"nombre_curso": "3° Básico A", "nivel": "Basica", "grado": 3, "letra": "A", "anio": 2026}},
						{"id": 8, "attributes": map[string]any{"nombre_curso": "Taller de ajedrez"}},
					},
					"meta": map[string]any{"pagination": map[string]any{"page": 1, "pageCount": 2}},
				}), nil
			default:
				if r.URL.Query().Get("pagination[page]") != "2" {
					t.Fatalf("expected page 2, got %s", r.URL.RawQuery)
				}
				return jsonResponse(http.StatusOK, map[string]any{
					"data": []map[string]any{
						{"id": 9, "nombre_curso": "II° Medio B"},
					},
					"meta": map[string]any{"pagination": map[string]any{"page": 2, "pageCount": 2}},
				}), nil
			}
		}),
	}

	courses, err := client.ListCourses(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(courses) != 2 {
		t.Fatalf("len=%d", len(courses))
	}
	if courses[0].Level != internal.LevelBasic || courses[0].Grade != 3 || *courses[0].Section != "A" || *courses[0].Year != 2026 {
		t.Fatalf("unexpected first course: %+v", courses[0])
	}
	if courses[1].Level != internal.LevelSecondary || courses[1].Grade != 2 || courses[1].Section == nil || *courses[1].Section != "B" {
		t.Fatalf("unexpected inferred course: %+v", courses[1])
	}
	if *courses[1].ExternalID != "9" {
		t.Fatalf("externalId=%s", *courses[1].ExternalID)
	}
}

func TestIndexCandidatesKeepCatalogOrder(t *testing.T) {
	idx := BuildIndex([]internal.CourseRecord{
		{ID: 3, Level: internal.LevelBasic, Grade: 2},
		{ID: 1, Level: internal.LevelBasic, Grade: 2},
		{ID: 2, Level: internal.LevelSecondary, Grade: 2},
	})
	got := idx.Candidates(internal.LevelBasic, 2)
	if len(got) != 2 || got[0].ID != 3 || got[1].ID != 1 {
		t.Fatalf("candidates=%+v", got)
	}
	if idx.Len() != 3 {
		t.Fatalf("len=%d", idx.Len())
	}
	if rec, ok := idx.Get(2); !ok || rec.Level != internal.LevelSecondary {
		t.Fatalf("get=%+v ok=%v", rec, ok)
	}

	got[0].ID = 99
	if again := idx.Candidates(internal.LevelBasic, 2); again[0].ID != 3 {
		t.Fatalf("candidates share storage with the index: %+v", again)
	}
}

func TestIndexConcurrentAddAndCandidates(t *testing.T) {
	idx := BuildIndex(nil)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				idx.Add(internal.CourseRecord{ID: w*100 + i, Level: internal.LevelBasic, Grade: i%8 + 1})
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = idx.Candidates(internal.LevelBasic, i%8+1)
			}
		}()
	}
	wg.Wait()
	if idx.Len() != 400 {
		t.Fatalf("len=%d", idx.Len())
	}
}

func TestDisplayName(t *testing.T) {
	year := 2026
	section := "b"
	got := DisplayName(internal.CourseRecord{Level: internal.LevelBasic, Grade: 3, Section: &section, Year: &year})
	if got != "3° Básico B 2026" {
		t.Fatalf("got %q", got)
	}
}
