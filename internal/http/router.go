// Package httpserver exposes health, metrics and a read-only view of the station on a local
// listener.
package httpserver

import "net/http"

// Routes groups handlers. Nil routes are not registered.
type Routes struct {
	Health     http.HandlerFunc
	Metrics    http.Handler
	Connectors http.HandlerFunc
	Sessions   http.HandlerFunc
}

func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.Health != nil {
		mux.Handle("/healthz", method(http.MethodGet, routes.Health))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", method(http.MethodGet, routes.Metrics.ServeHTTP))
	}
	if routes.Connectors != nil {
		mux.Handle("/connectors", method(http.MethodGet, routes.Connectors))
	}
	if routes.Sessions != nil {
		mux.Handle("/sessions", method(http.MethodGet, routes.Sessions))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
