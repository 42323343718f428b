// Package httpkit holds the JSON and CORS helpers shared by the API handlers.
package httpkit

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSOptions configures CORS. Empty fields take the relay's defaults:
// the API routes' methods, JSON plus request-id headers, a 10 minute
// preflight cache.
type CORSOptions struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	MaxAgeSeconds  int
}

// CORS echoes allowed origins ("*" allows any) and answers preflight
// requests with 204 without reaching the routes.
func CORS(opt CORSOptions) func(http.Handler) http.Handler {
	if len(opt.AllowedMethods) == 0 {
		opt.AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	if len(opt.AllowedHeaders) == 0 {
		opt.AllowedHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}
	if opt.MaxAgeSeconds == 0 {
		opt.MaxAgeSeconds = 600
	}

	origins := make(map[string]struct{}, len(opt.AllowedOrigins))
	for _, o := range opt.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	_, anyOrigin := origins["*"]

	headers := map[string]string{
		"Access-Control-Allow-Methods": strings.Join(opt.AllowedMethods, ", "),
		"Access-Control-Allow-Headers": strings.Join(opt.AllowedHeaders, ", "),
		"Access-Control-Max-Age":       strconv.Itoa(opt.MaxAgeSeconds),
	}
	if len(opt.ExposedHeaders) > 0 {
		headers["Access-Control-Expose-Headers"] = strings.Join(opt.ExposedHeaders, ", ")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" {
				if _, ok := origins[origin]; ok || anyOrigin {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
					for k, v := range headers {
						h.Set(k, v)
					}
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
