package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fairwaylabs/fairway/registry"
)

var errNoHistory = errors.New("pipeline: history disabled")

// RegisterHTTP mounts the read-only status API on a Chi router.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/api/v1/process", s.handleProcess)
	r.Get("/api/v1/partitions", s.handlePartitions)
	r.Get("/api/v1/partitions/{partition}/articles", s.handleArticles)
	r.Get("/api/v1/partitions/{partition}/assets", s.handleAssets)
	r.Get("/api/v1/history", s.handleHistory)
	r.Get("/api/v1/stats", s.handleStats)
}

// handleProcess runs a batch synchronously. Documents are sequential by
// design, so a large batch holds the connection; operators submit small
// batches or rely on the client timeout.
func (s *Service) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Partition string   `json:"partition"`
		URLs      []string `json:"urls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Partition == "" || len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("partition and urls are required"))
		return
	}

	results, err := s.ProcessBatch(r.Context(), req.Partition, req.URLs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Service) handlePartitions(w http.ResponseWriter, _ *http.Request) {
	partitions, err := s.store.Partitions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if partitions == nil {
		partitions = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"partitions": partitions})
}

func (s *Service) handleArticles(w http.ResponseWriter, r *http.Request) {
	partition := chi.URLParam(r, "partition")
	records, err := s.store.Load(partition)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make(map[string]*registry.Record, len(records))
	for identity, rec := range records {
		out[registry.FormatIdentity(identity)] = rec
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleAssets(w http.ResponseWriter, r *http.Request) {
	partition := chi.URLParam(r, "partition")
	store, err := s.assetsFor(partition)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, store.Stat())
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeError(w, http.StatusNotFound, errNoHistory)
		return
	}
	entries, err := s.hist.Recent(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Stats summarises the data root: record counts per status per partition.
type Stats struct {
	Partitions map[string]map[registry.Status]int `json:"partitions"`
	Totals     map[registry.Status]int            `json:"totals"`
}

// Stat walks every partition registry and aggregates status counts.
func (s *Service) Stat(ctx context.Context) (*Stats, error) {
	partitions, err := s.store.Partitions()
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Partitions: make(map[string]map[registry.Status]int),
		Totals:     make(map[registry.Status]int),
	}
	for _, partition := range partitions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := s.store.Load(partition)
		if err != nil {
			s.logger.Warn("pipeline: partition unreadable for stats",
				"partition", partition, "error", err)
			continue
		}
		counts := make(map[registry.Status]int)
		for _, rec := range records {
			counts[rec.Status]++
			stats.Totals[rec.Status]++
		}
		stats.Partitions[partition] = counts
	}
	return stats, nil
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Stat(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
