package httpapi

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sourav-m/portfolio-api/internal/admission"
	"github.com/sourav-m/portfolio-api/internal/log"
)

const (
	headerRateLimitLimit     = "X-Ratelimit-Limit"
	headerRateLimitRemaining = "X-Ratelimit-Remaining"
	headerRetryAfter         = "Retry-After"
)

// KeyFunc derives the rate-limit key from a request. The default is the
// client IP; the admin chain prefers the authenticated token subject.
type KeyFunc func(r *http.Request) string

// RateLimit wraps next with a limiter check against the named class. Denied
// requests get a 429 with Retry-After and never reach the wrapped handler;
// allowed requests carry X-Ratelimit headers so clients can pace
// themselves.
func RateLimit(svc *admission.Service, class string, keyFn KeyFunc, next http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = func(r *http.Request) string { return ClientIP(r) }
	}
	limit := svc.ClassLimit(class)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := keyFn(r)
		decision := svc.Admit(class, key)

		w.Header().Set(headerRateLimitLimit, strconv.Itoa(limit.Capacity))
		w.Header().Set(headerRateLimitRemaining, strconv.FormatInt(decision.Remaining, 10))

		if !decision.Allowed {
			retrySec := int64(math.Ceil(decision.RetryAfter.Seconds()))
			if retrySec < 1 {
				retrySec = 1
			}
			w.Header().Set(headerRetryAfter, strconv.FormatInt(retrySec, 10))
			log.Logger().Info("request throttled",
				zap.String("class", class),
				zap.String("key", key),
				zap.String("path", r.URL.Path))
			writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Logger().Error("failed to write response body", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
