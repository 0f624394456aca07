package middleware

import (
	"errors"
	"net/http"

	"github.com/tendant/simple-trustgate/internal/httputil"
)

// RequestSizeLimit creates middleware that limits the maximum request body size.
// A non-positive maxBytes disables the limit.
func RequestSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// HandleMaxBytesError writes a 413 when err came from an oversized body.
func HandleMaxBytesError(w http.ResponseWriter, err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		httputil.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return true
	}
	return false
}
