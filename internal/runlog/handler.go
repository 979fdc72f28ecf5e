package runlog

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// RegisterRoutes exposes the run history as JSON.
func (s *Store) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/runs", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}", s.handleDetail).Methods(http.MethodGet)
}

func (s *Store) handleList(w http.ResponseWriter, r *http.Request) {
	runs := s.List()

	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := runs[:0]
		for _, run := range runs {
			if run.Kind == kind {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Store) handleDetail(w http.ResponseWriter, r *http.Request) {
	run, err := s.Get(mux.Vars(r)["id"])
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Run not found."})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[Runs] Failed to write response: %v", err)
	}
}
