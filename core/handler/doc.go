// Package handler defines the Response-returning handler shape used by the HTTP
// transport and adapts it to net/http.
//
//	func publish(r *http.Request) handler.Response {
//		if err := decode(r); err != nil {
//			return response.Error(response.ErrBadRequest.WithError(err))
//		}
//		return response.JSONWithStatus(result, http.StatusAccepted)
//	}
//
//	mux.Handle("/publish", handler.Adapt(publish, response.JSONErrorHandler))
package handler
