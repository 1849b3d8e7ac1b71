package handler

import "net/http"

// Response is a function that renders HTTP responses.
// It sets headers, status code, and writes the response body.
// Rendering errors are passed to the ErrorHandler given to Adapt.
type Response func(w http.ResponseWriter, r *http.Request) error

// HandlerFunc turns a request into a Response.
type HandlerFunc func(r *http.Request) Response

// ErrorHandler renders an error returned by a HandlerFunc or its Response.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Adapt converts fn into an http.Handler. A nil Response writes nothing.
func Adapt(fn HandlerFunc, onError ErrorHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := fn(r)
		if resp == nil {
			return
		}
		if err := resp(w, r); err != nil && onError != nil {
			onError(w, r, err)
		}
	})
}
