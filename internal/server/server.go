package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/aryannaik/course-search/internal/embeddings"
	"github.com/aryannaik/course-search/internal/search"
)

type Options struct {
	Port        string
	StaticDir   string
	CORSOrigins []string
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// NewHandler builds the routed, CORS-wrapped handler.
func NewHandler(opts Options, pipeline *search.Pipeline, embedder embeddings.Embedder) http.Handler {
	handlers := NewHandlers(pipeline, embedder)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := mux.NewRouter()
	router.Use(logRequests)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/search", handlers.HandleSearch).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/status", handlers.HandleStatus).Methods(http.MethodGet)

	router.HandleFunc("/search", handlers.HandleSearch).Methods(http.MethodPost)
	router.HandleFunc("/healthz", handlers.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	if opts.StaticDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(opts.StaticDir)))
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	return c.Handler(router)
}

func New(opts Options, pipeline *search.Pipeline, embedder embeddings.Embedder) *http.Server {
	srv := &http.Server{
		Addr:              ":" + opts.Port,
		Handler:           NewHandler(opts, pipeline, embedder),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Msgf("Server listening on http://localhost:%s", opts.Port)
	return srv
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
