package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"

	"payment-session-client/pkg/httputil"
)

// RateLimit はクライアントIP単位でリクエストレートを制限するミドルウェアを返す。
func RateLimit(rps float64, burst int, ttl time.Duration) func(http.Handler) http.Handler {
	lim := tollbooth.NewLimiter(rps, &limiter.ExpirableOptions{DefaultExpirationTTL: ttl})
	lim.SetBurst(burst)
	lim.SetIPLookups([]string{"RemoteAddr"})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if httpErr := tollbooth.LimitByRequest(lim, w, r); httpErr != nil {
				slog.WarnContext(r.Context(), "rate limit exceeded",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				httputil.Error(w, httpErr.StatusCode, "RATE_LIMITED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AttemptLimiter は認証に失敗し続けるクライアントIPを一定時間遮断する。
type AttemptLimiter struct {
	mu          sync.Mutex
	attempts    *cache.Cache
	maxFailures int
	block       time.Duration
}

// NewAttemptLimiter は新しいAttemptLimiterを生成する。
func NewAttemptLimiter(maxFailures int, block time.Duration) *AttemptLimiter {
	return &AttemptLimiter{
		attempts:    cache.New(block, time.Minute),
		maxFailures: maxFailures,
		block:       block,
	}
}

// Middleware は401応答を失敗として数え、上限に達したIPを429で拒否する。
// maxFailuresが0以下の場合は何もしない。
func (l *AttemptLimiter) Middleware(next http.Handler) http.Handler {
	if l.maxFailures <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if until, ok := l.blockedUntil(ip); ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(until).Seconds())+1))
			httputil.Error(w, http.StatusTooManyRequests, "TOO_MANY_FAILURES", "too many failed attempts, try again later")
			return
		}

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if ww.Status() == http.StatusUnauthorized {
			l.recordFailure(r, ip)
		}
	})
}

func (l *AttemptLimiter) blockedUntil(ip string) (time.Time, bool) {
	v, found := l.attempts.Get("block_" + ip)
	if !found {
		return time.Time{}, false
	}
	until, ok := v.(time.Time)
	if !ok || !time.Now().Before(until) {
		return time.Time{}, false
	}
	return until, true
}

func (l *AttemptLimiter) recordFailure(r *http.Request, ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := "fail_" + ip
	count := 0
	if v, found := l.attempts.Get(key); found {
		count = v.(int)
	}
	count++

	if count >= l.maxFailures {
		l.attempts.Set("block_"+ip, time.Now().Add(l.block), l.block)
		l.attempts.Delete(key)
		slog.WarnContext(r.Context(), "client blocked after repeated failures",
			"remote_addr", ip,
			"failures", count,
			"block", l.block.String(),
		)
		return
	}
	l.attempts.Set(key, count, l.block)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
