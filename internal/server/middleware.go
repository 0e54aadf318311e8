package server

import (
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sigman78/waycms/internal/auth"
)

// withRecovery turns a handler panic into a 500.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic", "err", err, "path", r.URL.Path, "stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
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

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		level := s.logger.Debug
		if rec.status >= 500 {
			level = s.logger.Error
		} else if !strings.HasPrefix(r.URL.Path, "/preview") {
			level = s.logger.Info
		}
		level("request", "method", r.Method, "path", r.URL.Path, "status", rec.status,
			"bytes", rec.bytes, "duration", time.Since(start))
	})
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

// withCSRFCheck rejects state-changing requests whose Origin is neither the
// configured app URL nor the host the request was sent to.
func (s *Server) withCSRFCheck(next http.Handler) http.Handler {
	allowed := originOf(s.opts.AppURL)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !safeMethod(r.Method) {
			if origin := r.Header.Get("Origin"); origin != "" && origin != allowed && !sameHost(origin, r.Host) {
				s.logger.Warn("cross-origin request rejected", "origin", origin, "path", r.URL.Path)
				writeError(w, http.StatusForbidden, "cross-origin request")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func sameHost(origin, host string) bool {
	u, err := url.Parse(origin)
	return err == nil && u.Host != "" && strings.EqualFold(u.Host, host)
}

// protect runs g before h.
func (s *Server) protect(g auth.Guard, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d := g.Check(r); !d.Allowed {
			writeError(w, d.Status, d.Reason)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// limited applies the login rate limiter keyed by client address.
func (s *Server) limited(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.Limiter.Allow(clientIP(r)) {
		return false
	}
	s.logger.Warn("rate limited", "client", clientIP(r), "path", r.URL.Path)
	writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
	return true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestOrigin is "scheme://host" of r as seen by the browser.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
