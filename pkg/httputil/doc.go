// Package httputil provides HTTP utilities shared by the API handlers.
//
// Responses:
//
//	httputil.WriteJSON(w, http.StatusOK, usage)
//	httputil.WriteBadRequest(w, "Title and content are required")
//	httputil.WriteServiceUnavailable(w, "usage check unavailable")
//
// Every error body has the shape {"error": "..."}.
//
// Requests:
//
//	var req createQuestionRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	limit, err := httputil.QueryInt(r, "limit", 10, 1, 50)
//
// Middleware:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.CORSMiddleware(origins),
//	)(router)
package httputil
