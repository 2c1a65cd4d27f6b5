package middleware

import (
	"fmt"
	"net/http"

	"github.com/cloo-solutions/kbrag/internal/api"
)

// MaxBodyBytes caps request bodies. Requests that declare a larger
// Content-Length are refused up front; streamed bodies are cut off by
// http.MaxBytesReader and surface as *http.MaxBytesError in the handler.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > limit {
				api.JSON(w, http.StatusRequestEntityTooLarge, api.ErrorResponse{
					Error: fmt.Sprintf("request body exceeds %d bytes", limit),
					Code:  api.ErrCodeBodyTooLarge,
				})
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
