// Package httpapi exposes the capability engine over HTTP.
package httpapi

import (
	"net/http"

	"capdist.org/internal/caps"
	"capdist.org/internal/captypes"
	"capdist.org/internal/obs"
	"capdist.org/internal/stream"
)

// API is the HTTP layer over the engine and the type registry.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	engine     *caps.Engine
	types      *captypes.Registry
	stream     *stream.Stream

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, engine *caps.Engine, types *captypes.Registry, st *stream.Stream) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		engine:     engine,
		types:      types,
		stream:     st,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// policies and evaluation
	a.mux.HandleFunc("/v1/policies", a.handlePolicies)
	a.mux.HandleFunc("/v1/policies/", a.handlePolicyResource)
	a.mux.HandleFunc("/v1/evaluate", a.handleEvaluate)

	// resource types
	a.mux.HandleFunc("/v1/types", a.handleTypes)
	a.mux.HandleFunc("/v1/types/", a.handleTypeResource)

	// lifecycle events (SSE)
	a.mux.HandleFunc("/v1/events", a.Stream)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = a.withAuth(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}
