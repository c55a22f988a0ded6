package middleware

import (
	"net/http"
)

const (
	// DefaultMaxBodySize bounds JSON request bodies.
	DefaultMaxBodySize int64 = 1 << 20

	// uploadEnvelope covers multipart boundaries and form fields around the image.
	uploadEnvelope int64 = 64 << 10
)

// RequestSize wraps the body in http.MaxBytesReader. Handlers see a
// *http.MaxBytesError once the limit is crossed and answer 413.
func RequestSize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UploadRequestSize sizes the limit for a label photo of at most maxImageBytes sent
// either as multipart or base64 inside JSON.
func UploadRequestSize(maxImageBytes int64) func(http.Handler) http.Handler {
	if maxImageBytes <= 0 {
		return RequestSize(DefaultMaxBodySize)
	}
	base64Size := (maxImageBytes + 2) / 3 * 4
	return RequestSize(base64Size + uploadEnvelope)
}
