package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"comfyrelay/internal/httpapi/handlers"
	"comfyrelay/internal/httpkit"
	"comfyrelay/internal/pkg/logger"
	"comfyrelay/internal/pkg/middleware"
)

type Deps struct {
	Handlers handlers.Deps

	AllowedOrigins []string
	// RequestTimeout bounds every route except /runsync, which lasts as
	// long as the job.
	RequestTimeout time.Duration
	Log            *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	if d.Handlers.Log == nil {
		d.Handlers.Log = log
	}
	if d.RequestTimeout == 0 {
		d.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAgeSeconds:  600,
	}))

	h := handlers.New(d.Handlers)

	r.Post("/runsync", middleware.WrapHandler(log, h.RunSync))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(d.RequestTimeout))

		r.Get("/health", h.Health)
		r.Post("/run", middleware.WrapHandler(log, h.Run))
		r.Get("/status/{id}", middleware.WrapHandler(log, h.Status))
	})

	return r
}
