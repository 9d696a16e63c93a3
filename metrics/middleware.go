package metrics

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// NotMatched is the path_template label recorded for requests that matched
// no route. Raw paths are never used as labels to keep cardinality bounded.
const NotMatched = "__not_matched__"

// StatusCoder is implemented by panic values and errors that carry an HTTP
// status code. Panics implementing it are recorded with that status instead
// of 500.
type StatusCoder interface {
	StatusCode() int
}

// HTTPError is a convenience error for handlers that abort with a specific
// status by panicking. The middleware records its code and re-panics.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Code)
}

// StatusCode returns the HTTP status carried by the error.
func (e *HTTPError) StatusCode() int { return e.Code }

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware wraps handlers with request/response accounting against store.
// The routes argument is used to resolve the route template before the
// handler runs, so the pre-invocation increments already carry the final
// path_template label; pass the router the middleware is mounted on. With a
// nil routes the template is read from an enclosing chi route context, which
// is only populated once routing has happened upstream.
//
// Accounting per request: requests and in-progress are incremented before
// the handler, then exactly once on every exit path the duration is
// observed, in-progress is decremented and responses is incremented with
// the effective status. A handler panic is recorded in the exceptions
// counter under the panic value's type name, classified to its carried
// status code (500 when it has none), and re-raised unchanged.
func Middleware(store *ServerMetrics, routes chi.Routes) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pathTemplate := resolvePathTemplate(routes, r)
			scheme := requestScheme(r)
			remote := remoteHost(r)

			store.Requests.WithLabelValues(r.Method, scheme, remote, pathTemplate).Inc()
			store.RequestsInProgress.WithLabelValues(r.Method, scheme, remote, pathTemplate).Inc()

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				status := wrapped.statusCode
				rec := recover()
				if rec != nil {
					status = panicStatus(rec)
					store.Exceptions.WithLabelValues(r.Method, scheme, remote, pathTemplate, TypeName(rec)).Inc()
				}

				code := strconv.Itoa(status)
				store.RequestDuration.WithLabelValues(r.Method, scheme, remote, pathTemplate, code).Observe(time.Since(start).Seconds())
				store.RequestsInProgress.WithLabelValues(r.Method, scheme, remote, pathTemplate).Dec()
				store.Responses.WithLabelValues(r.Method, scheme, remote, pathTemplate, code).Inc()

				if rec != nil {
					panic(rec)
				}
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}

func resolvePathTemplate(routes chi.Routes, r *http.Request) string {
	if routes != nil {
		rctx := chi.NewRouteContext()
		if routes.Match(rctx, r.Method, r.URL.Path) {
			if pattern := rctx.RoutePattern(); pattern != "" {
				return pattern
			}
		}
		return NotMatched
	}

	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return NotMatched
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func panicStatus(rec any) int {
	if sc, ok := rec.(StatusCoder); ok {
		return sc.StatusCode()
	}
	if err, ok := rec.(error); ok {
		var sc StatusCoder
		if errors.As(err, &sc) {
			return sc.StatusCode()
		}
	}
	return http.StatusInternalServerError
}
