package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/embano1/transcribe-longform/internal/store"
	"github.com/embano1/transcribe-longform/internal/types"
)

// RecordStore reads transcription records.
type RecordStore interface {
	Record(ctx context.Context, recordID int64) (*store.Record, error)
	ListRecords(ctx context.Context, limit int) ([]*store.Record, error)
}

// StateSource reports the live state of running pipelines.
type StateSource interface {
	State(recordID int64) (types.PipelineState, bool)
}

// NewRouter returns the read-only status API.
func NewRouter(records RecordStore, runs StateSource, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(corsOptions(allowedOrigins)))

	h := &handler{records: records, runs: runs}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Get("/records", h.listRecords)
		r.Get("/records/{id}", h.getRecord)
		r.Get("/records/{id}/state", h.getState)
	})

	return r
}

func corsOptions(allowedOrigins []string) cors.Options {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}
}
