package middleware

import "net/http"

// DefaultMaxBodyBytes bounds provider webhook payloads.
const DefaultMaxBodyBytes int64 = 1 << 20

// BodyLimit caps request bodies at maxBytes. Reads past the cap fail, which
// the handlers surface as a malformed request.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
