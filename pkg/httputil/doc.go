// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// and parameter parsing used by the API handlers.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, data)
//	httputil.WriteCreated(w, resource)
//
// Error responses:
//
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteBadRequest(w, "Invalid input")
//	httputil.WriteUnauthorized(w, "Session expired")
//	httputil.WriteConflict(w, "User already has an open subscription")
//
// # Request Parsing
//
//	var req CheckoutRequest
//	if err := httputil.ParseJSON(r, &req); err != nil {
//		httputil.WriteBadRequest(w, err.Error())
//		return
//	}
//
//	provider := httputil.GetPathVars(r)["provider"]
//	limit, err := httputil.ParseQueryInt(r, "limit", 50)
//	presign, err := httputil.ParseQueryBool(r, "presign", false)
//
// # Validation
//
//	if !httputil.RequireNonEmpty(w, req.Plan, "plan") {
//		return // Error response already written
//	}
//
// # Related Packages
//
//   - pkg/middleware: Authentication and rate limiting middleware
package httputil
