package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pixelmint/pixelmint/pkg/contextkeys"
)

// RequestIDHeader carries the request id on responses and trusted inbound
// requests.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware assigns each request an id and records the start time.
// An inbound X-Request-ID is honored so ids survive proxy hops.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		ctx = contextkeys.WithRequestStartTime(ctx, time.Now())

		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
