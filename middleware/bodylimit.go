package middleware

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dmitrymomot/tailbus/core/response"
)

// Common size constants for convenience
const (
	KB int64 = 1024
	MB       = 1024 * KB
)

// DefaultBodyLimit is used when BodyLimit is given a non-positive size.
const DefaultBodyLimit = 1 * MB

// BodyLimit rejects requests whose Content-Length exceeds maxSize with 413 and
// caps the body reader for the rest. Handlers see *http.MaxBytesError from
// reads past the cap.
func BodyLimit(maxSize int64) mux.MiddlewareFunc {
	if maxSize <= 0 {
		maxSize = DefaultBodyLimit
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				response.JSONErrorHandler(w, r, response.ErrRequestEntityTooLarge.
					WithMessage(fmt.Sprintf("Request body too large. Maximum allowed: %d bytes", maxSize)))
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			}
			next.ServeHTTP(w, r)
		})
	}
}
