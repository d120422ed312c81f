package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const rejectRetryAfter = 60 // seconds, fixed contract with clients

// ClientIDFunc derives the rate-limit key for a request.
type ClientIDFunc func(r *http.Request) string

// DefaultClientID prefers the authenticated user id (set by the upstream
// auth layer) and falls back to the client IP. Unauthenticated traffic
// behind a shared NAT or proxy therefore shares one key; that matches the
// upstream behavior and is a known limitation, not something to paper over
// here.
func DefaultClientID(r *http.Request) string {
	if uid := strings.TrimSpace(r.Header.Get("X-User-ID")); uid != "" {
		return "user:" + uid
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

type rejectionBody struct {
	Error      string          `json:"error"`
	Message    string          `json:"message"`
	Status     int             `json:"status"`
	Timestamp  string          `json:"timestamp"`
	RetryAfter int             `json:"retryAfter"`
	Limits     rejectionLimits `json:"limits"`
}

type rejectionLimits struct {
	PerMinute       int `json:"perMinute"`
	PerHour         int `json:"perHour"`
	RemainingMinute int `json:"remainingMinute"`
	RemainingHour   int `json:"remainingHour"`
}

// Middleware applies the limiter to every non-exempt request, attaching the
// allowance headers on success and the 429 contract on rejection.
func Middleware(l *Limiter, clientID ClientIDFunc) func(http.Handler) http.Handler {
	if clientID == nil {
		clientID = DefaultClientID
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if Exempt(path) {
				next.ServeHTTP(w, r)
				return
			}

			cat := CategoryFor(path)
			dec := l.Allow(r.Context(), clientID(r), cat)

			setAllowanceHeaders(w, dec.Status)

			if !dec.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(rejectRetryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(rejectionBody{
					Error:      "Too Many Requests",
					Message:    "Rate limit exceeded for " + string(cat) + " endpoints. Try again in 1 minute.",
					Status:     http.StatusTooManyRequests,
					Timestamp:  time.Now().UTC().Format(time.RFC3339),
					RetryAfter: rejectRetryAfter,
					Limits: rejectionLimits{
						PerMinute:       dec.Status.MinuteLimit,
						PerHour:         dec.Status.HourLimit,
						RemainingMinute: dec.Status.MinuteRemaining,
						RemainingHour:   dec.Status.HourRemaining,
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setAllowanceHeaders(w http.ResponseWriter, st Status) {
	h := w.Header()
	h.Set("X-RateLimit-Limit-Minute", strconv.Itoa(st.MinuteLimit))
	h.Set("X-RateLimit-Remaining-Minute", strconv.Itoa(st.MinuteRemaining))
	h.Set("X-RateLimit-Limit-Hour", strconv.Itoa(st.HourLimit))
	h.Set("X-RateLimit-Remaining-Hour", strconv.Itoa(st.HourRemaining))
}
