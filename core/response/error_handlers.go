package response

import (
	"errors"
	"net/http"
)

// statusCode is an interface that errors can implement
// to provide a custom HTTP status code.
type statusCode interface {
	StatusCode() int
}

// AsHTTPError converts any error to an HTTPError. HTTPErrors pass through,
// errors with a StatusCode method keep their status, everything else is a 500.
func AsHTTPError(err error) HTTPError {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	status := http.StatusInternalServerError
	var sc statusCode
	if errors.As(err, &sc) {
		status = sc.StatusCode()
	}

	base, ok := httpErrorsByStatus[status]
	if !ok {
		base = ErrInternalServerError
	}
	return base.WithError(err)
}

// JSONErrorHandler renders errors as JSON bodies with the matching status code.
func JSONErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	httpErr := AsHTTPError(err)
	_ = JSONWithStatus(httpErr, httpErr.Status)(w, r)
}
