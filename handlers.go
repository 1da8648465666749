package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kwv/linkpass/survey"
)

const maxImageBytes = 10 << 20

// newHTTPServer creates an HTTP server with all endpoints. publisher and
// eventLog may be nil when MQTT or the pass log are disabled.
func newHTTPServer(session *survey.Session, network *survey.MemoryNetwork, config *survey.Config, publisher *survey.Publisher, eventLog *survey.EventLog) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	origins := config.HTTP.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			SessionID string    `json:"sessionId"`
			Features  int       `json:"features"`
			MQTT      bool      `json:"mqtt"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			SessionID: session.ID(),
			Features:  network.Len(),
			MQTT:      publisher != nil,
		})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		status, err := session.StatusPayload()
		if errors.Is(err, survey.ErrNoFix) {
			http.Error(w, "No position received yet", http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	r.Post("/survey/start", func(w http.ResponseWriter, r *http.Request) {
		session.Start()
		writeJSON(w, http.StatusOK, map[string]bool{"surveying": true})
	})

	r.Post("/survey/stop", func(w http.ResponseWriter, r *http.Request) {
		session.Stop()
		writeJSON(w, http.StatusOK, map[string]bool{"surveying": false})
	})

	r.Post("/positions", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
		if err != nil {
			http.Error(w, "Failed to read body", http.StatusBadRequest)
			return
		}
		p, err := survey.DecodePosition(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := session.Submit(ctx, p); err != nil {
			log.Printf("[HTTP] position queue full: %v", err)
			http.Error(w, "Position queue full", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	r.Post("/notes", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			http.Error(w, "Note text is required", http.StatusBadRequest)
			return
		}
		note, err := session.TextNote(req.Text)
		sendNote(w, publisher, note, err)
	})

	r.Post("/notes/image", func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBytes))
		if err != nil {
			http.Error(w, "Image too large or unreadable", http.StatusRequestEntityTooLarge)
			return
		}
		if len(data) == 0 {
			http.Error(w, "Image body is required", http.StatusBadRequest)
			return
		}
		contentType := r.Header.Get("Content-Type")
		if contentType == "application/octet-stream" {
			contentType = ""
		}
		note, err := session.ImageNote(data, contentType)
		sendNote(w, publisher, note, err)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		active := *config
		active.Algorithm = session.Config()
		writeJSON(w, http.StatusOK, active)
	})

	r.Put("/config/algorithm", func(w http.ResponseWriter, r *http.Request) {
		cfg := session.Config()
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := survey.ValidateAlgorithm(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		session.SetConfig(cfg)
		log.Printf("[HTTP] algorithm config replaced, applies on next position")
		writeJSON(w, http.StatusOK, cfg)
	})

	r.Get("/network.geojson", func(w http.ResponseWriter, r *http.Request) {
		writeGeoJSON(w, network.FeatureCollection())
	})

	r.Get("/traces", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, session.Traces())
	})

	r.Get("/traces.geojson", func(w http.ResponseWriter, r *http.Request) {
		writeGeoJSON(w, survey.TraceCollection(session.Traces()))
	})

	r.Get("/gpslog.geojson", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="gpslog.geojson"`)
		writeGeoJSON(w, survey.GPSLogCollection(session.GPSLog()))
	})

	r.Get("/passes", func(w http.ResponseWriter, r *http.Request) {
		if eventLog == nil {
			http.Error(w, "Event log not enabled", http.StatusNotFound)
			return
		}
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		recs, err := eventLog.Recent(ctx, limit)
		if err != nil {
			log.Printf("[HTTP] /passes: %v", err)
			http.Error(w, "Failed to read passes", http.StatusInternalServerError)
			return
		}
		if recs == nil {
			recs = []survey.PassRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	})

	return r
}

// sendNote publishes a built note when MQTT is attached and echoes it back.
func sendNote(w http.ResponseWriter, publisher *survey.Publisher, note survey.NotePayload, err error) {
	if errors.Is(err, survey.ErrNoFix) {
		http.Error(w, "No position received yet", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	published := false
	if publisher != nil {
		if err := publisher.PublishNote(note); err != nil {
			log.Printf("[HTTP] publishing note: %v", err)
			http.Error(w, "Failed to publish note", http.StatusBadGateway)
			return
		}
		published = true
	}
	writeJSON(w, http.StatusCreated, struct {
		Note      survey.NotePayload `json:"note"`
		Published bool               `json:"published"`
	}{note, published})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] encoding response: %v", err)
	}
}

func writeGeoJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[HTTP] encoding GeoJSON: %v", err)
		http.Error(w, "Failed to encode GeoJSON", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(data); err != nil {
		log.Printf("[HTTP] writing GeoJSON: %v", err)
	}
}
