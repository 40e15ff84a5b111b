package api

import "net/http"

const (
	corsAllowOrigin  = "*"
	corsAllowHeaders = "Content-Type,X-Amz-Date,Authorization,X-Api-Key"
	corsAllowMethods = "GET,POST,OPTIONS"
)

// withCORS sets the CORS headers on every response and answers preflight
// requests itself with an empty 200.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", corsAllowOrigin)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
