package cli

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/G1-H25/jenlib/src/feed"
	"github.com/G1-H25/jenlib/src/inter"
	"github.com/G1-H25/jenlib/src/metrics"
	"github.com/G1-H25/jenlib/src/node"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type sessionDetail struct {
	Session  inter.SessionRecord   `json:"session"`
	Readings []inter.StoredReading `json:"readings"`
}

// statusSource is the part of the broker node the HTTP layer reads.
type statusSource interface {
	Status() node.BrokerStatus
}

// newRouter serves the broker's metrics, live feed, status and stored sessions.
func newRouter(m *metrics.Metrics, hub *feed.Hub, b statusSource, store inter.ReadingStore) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", m.Handler())
	r.Get("/feed", hub.ServeWS)
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, b.Status())
	})
	r.Get("/sessions", func(w http.ResponseWriter, req *http.Request) {
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		recs, err := store.ListSessions(limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	})
	r.Get("/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, ok := sessionParam(w, req)
		if !ok {
			return
		}
		rec, err := store.GetSession(id)
		if err != nil {
			writeError(w, err)
			return
		}
		readings, err := store.QueryReadings(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionDetail{Session: rec, Readings: readings})
	})
	return r
}

// newSensorRouter serves a sensor's metrics and session snapshot.
func newSensorRouter(m *metrics.Metrics, s *node.SensorNode) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", m.Handler())
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		snap := s.Snapshot()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"device_id":         s.ID(),
			"state":             snap.State.String(),
			"session_id":        snap.SessionID,
			"broker_id":         snap.BrokerID,
			"reading_count":     snap.ReadingCount,
			"last_acked_offset": snap.LastAckedOffset,
			"sent":              s.Sent(),
		})
	})
	return r
}

func sessionParam(w http.ResponseWriter, r *http.Request) (inter.SessionID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return inter.NoSession, false
	}
	return inter.SessionID(id), true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("HTTP: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, inter.ErrStoreNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	log.Printf("HTTP: %v", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
