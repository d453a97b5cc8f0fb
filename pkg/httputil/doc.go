// Package httputil holds the JSON response envelopes, request parsing helpers and the
// request id, logging and recovery middleware shared by the HTTP layer.
//
// Two error envelopes are used by the API:
//
//	httputil.WriteErrorMessage(w, http.StatusBadRequest, "...") // {"error": "..."}
//	httputil.WriteDetail(w, http.StatusNotFound, "...")          // {"detail": "..."}
//
// Middleware compose with Chain:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
