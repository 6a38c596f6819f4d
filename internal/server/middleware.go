package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

type middleware func(http.Handler) http.Handler

type middlewareChain []middleware

func chain(mws ...middleware) middlewareChain {
	return middlewareChain(mws)
}

func (c middlewareChain) extend(mws ...middleware) middlewareChain {
	out := make(middlewareChain, 0, len(c)+len(mws))
	out = append(out, c...)
	return append(out, mws...)
}

func (c middlewareChain) then(h http.Handler) http.Handler {
	for i := len(c) - 1; i >= 0; i-- {
		h = c[i](h)
	}
	return h
}

func (c middlewareChain) thenFunc(fn http.HandlerFunc) http.Handler {
	return c.then(fn)
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// withRequestLog tags every request with an ID (reusing a well-formed one
// supplied by the client) and writes an access log line when it completes.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.logger.Debug("http request",
			zap.String("req_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
		)
	})
}

// withBasicAuth enforces HTTP basic auth against bcrypt hashes when any users
// are configured.
func (s *Server) withBasicAuth(next http.Handler) http.Handler {
	if len(s.cfg.BasicAuth) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !s.checkPassword(user, pass) {
			Unauthorized(w, "valid credentials are required", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// dummyHash keeps the cost of a lookup for an unknown user equal to that of a
// known one.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3nnR9M2/9/m9Ih2HvRRyLey")

func (s *Server) checkPassword(user, pass string) bool {
	hash, known := s.cfg.BasicAuth[strings.ToLower(user)]
	h := []byte(hash)
	if !known {
		h = dummyHash
	}
	match := bcrypt.CompareHashAndPassword(h, []byte(pass)) == nil
	return known && match
}

// withScrapeLimit rejects scrapes beyond the configured rate with 429.
func (s *Server) withScrapeLimit() middleware {
	if s.cfg.ScrapeRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	burst := s.cfg.ScrapeBurst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(s.cfg.ScrapeRateLimit), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				RateLimited(w, "scrape rate limit exceeded", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
