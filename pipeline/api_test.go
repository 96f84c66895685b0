package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/fairwaylabs/fairway/acquire"
	"github.com/fairwaylabs/fairway/registry"
)

func newAPIServer(t *testing.T, svc *Service) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	svc.RegisterHTTP(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestAPIProcessAndInspect(t *testing.T) {
	imgSrv := imageServer(t, map[string][]byte{"/a.jpg": validJPEG(11)})
	extractor := &fakeExtractor{extraction: &Extraction{
		Title:  "T",
		Body:   "[IMAGE_1:a]",
		Assets: []acquire.AssetDescriptor{{Index: 1, RemoteURL: imgSrv.URL + "/a.jpg", Caption: "a"}},
	}}
	svc := newTestService(t, t.TempDir(), &fakeRenderer{session: &fakeSession{html: "<html/>"}}, extractor)
	api := newAPIServer(t, svc)

	// Health.
	resp, err := http.Get(api.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()

	// Process a batch.
	body := `{"partition":"2025-01-01","urls":["https://x.com/a","https://x.com/b"]}`
	resp, err = http.Post(api.URL+"/api/v1/process", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("process status: %d", resp.StatusCode)
	}
	var processed struct {
		Results []Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&processed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(processed.Results) != 2 || processed.Results[0].Status != registry.StatusCompleted {
		t.Fatalf("results: %+v", processed.Results)
	}

	// Partition listing reflects the new partition.
	resp, err = http.Get(api.URL + "/api/v1/partitions")
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	defer resp.Body.Close()
	var parts struct {
		Partitions []string `json:"partitions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parts); err != nil {
		t.Fatalf("decode partitions: %v", err)
	}
	if len(parts.Partitions) != 1 || parts.Partitions[0] != "2025-01-01" {
		t.Errorf("partitions: %v", parts.Partitions)
	}

	// Article registry is visible.
	resp, err = http.Get(api.URL + "/api/v1/partitions/2025-01-01/articles")
	if err != nil {
		t.Fatalf("articles: %v", err)
	}
	defer resp.Body.Close()
	var articles map[string]*registry.Record
	if err := json.NewDecoder(resp.Body).Decode(&articles); err != nil {
		t.Fatalf("decode articles: %v", err)
	}
	if rec, ok := articles["01"]; !ok || rec.Status != registry.StatusCompleted {
		t.Errorf("articles: %+v", articles)
	}

	// History endpoint answers.
	resp, err = http.Get(api.URL + "/api/v1/history?limit=10")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("history: %v %v", resp, err)
	}
	resp.Body.Close()

	// Stats aggregate.
	statsCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stats, err := svc.Stat(statsCtx)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stats.Totals[registry.StatusCompleted] != 2 {
		t.Errorf("stats: %+v", stats.Totals)
	}
}

func TestAPIProcessRejectsBadRequest(t *testing.T) {
	svc := newTestService(t, t.TempDir(), &fakeRenderer{session: &fakeSession{html: "<html/>"}},
		&fakeExtractor{extraction: &Extraction{Title: "T", Body: "no images"}})
	api := newAPIServer(t, svc)

	resp, err := http.Post(api.URL+"/api/v1/process", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: %d", resp.StatusCode)
	}
}
