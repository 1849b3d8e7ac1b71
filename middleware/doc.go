// Package middleware provides the HTTP middleware applied by the transport
// router. Every constructor returns a mux.MiddlewareFunc, i.e. a plain
// func(http.Handler) http.Handler.
//
//	r := mux.NewRouter()
//	r.Use(middleware.RequestID(), middleware.Logging(log))
//	publish := r.Methods(http.MethodPost).Subrouter()
//	limits := middleware.NewLimiterStore(50, 100, 0)
//	go limits.Run(ctx)
//	publish.Use(middleware.RateLimit(limits, nil))
//
// Error responses are rendered through response.JSONErrorHandler so they share
// the JSON error shape with the handlers behind them.
package middleware
