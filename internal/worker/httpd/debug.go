package httpd

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// DebugPath serves the Go profiler when Options.Debug.Enabled is set.
const DebugPath = "/_willbot/debug"

type DebugOptions struct {
	Enabled bool
	// Token guards the profiler: "Authorization: Bearer <token>" or ?token=.
	// It may be empty only when the worker binds a loopback host.
	Token string
}

var errDebugUnguarded = errors.New("debug endpoints on a non-loopback host require a token")

func (w *Worker) mountDebug() error {
	d := w.opts.Debug
	if strings.TrimSpace(d.Token) == "" && !isLoopbackHost(w.opts.Host) {
		return errDebugUnguarded
	}
	w.router.With(tokenAuth(d.Token)).Mount(DebugPath, middleware.Profiler())
	return nil
}

func tokenAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				got, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(tok)) != 1 {
				http.Error(rw, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(rw, r)
		})
	}
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(host)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
