package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/gatewarden/gatewarden/internal/model"
)

// IPLimit caps requests per client IP ahead of admission, a blunt shield in
// front of the credential machinery. Rejections use the same envelope as
// quota denials.
func IPLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeReject(w, model.CodeQuotaExceeded)
		}),
	)
}
