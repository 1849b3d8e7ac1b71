package response

import (
	"net/http"

	"github.com/dmitrymomot/tailbus/core/handler"
)

// Error returns a handler response that propagates err to the error handler.
func Error(err error) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		return err
	}
}
