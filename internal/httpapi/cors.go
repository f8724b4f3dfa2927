package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"offer_booster/internal/config"
)

func corsMiddleware(cfg config.CorsConfig, next http.Handler) http.Handler {
	allowHeaders := []string{"Content-Type"}
	allowMethods := []string{"GET", "POST", "OPTIONS"}
	maxAge := 600

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigin := matchOrigin(cfg.AllowOrigins, r.Header.Get("Origin"))
		// A wildcard cannot be combined with credentials, so echo the origin instead.
		if allowedOrigin == "*" && cfg.AllowCredentials && r.Header.Get("Origin") != "" {
			allowedOrigin = r.Header.Get("Origin")
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			if cfg.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(allowHeaders, ", "))
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(allowMethods, ", "))
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func matchOrigin(allowed []string, origin string) string {
	for _, o := range allowed {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(strings.TrimRight(o, "/"), origin) {
			return origin
		}
	}
	return ""
}
