package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dexproxy/dexproxy/core/events"
	"github.com/dexproxy/dexproxy/core/lifecycle"
	"github.com/dexproxy/dexproxy/log"
)

const maxRequestBodyLog = 512 // Maximum length of request body to log

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host    string
	Port    int
	Manager *lifecycle.Manager
	Events  *events.Dispatcher
}

// API type represents the HTTP/WS server exposing the request lifecycle.
type API struct {
	router  *chi.Mux
	manager *lifecycle.Manager
	events  *events.Dispatcher
}

// New creates a new API instance with the given configuration and starts
// the HTTP server in the background.
func New(ctx context.Context, conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Manager == nil {
		return nil, fmt.Errorf("missing lifecycle manager")
	}
	if conf.Events == nil {
		return nil, fmt.Errorf("missing event dispatcher")
	}

	a := &API{
		manager: conf.Manager,
		events:  conf.Events,
	}
	a.initRouter()

	go func() {
		log.Infow("starting API server", "host", conf.Host, "port", conf.Port)
		if err := http.ListenAndServe(fmt.Sprintf("%s:%d", conf.Host, conf.Port), a.router); err != nil {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the HTTP handlers for the API endpoints.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, _ *http.Request) {
		httpWriteOK(w)
	})

	log.Infow("register handler", "endpoint", StatusEndpoint, "method", "GET")
	a.router.Get(StatusEndpoint, a.status)

	log.Infow("register handler", "endpoint", ApproveTokenEndpoint, "method", "POST")
	a.router.Post(ApproveTokenEndpoint, a.approveToken)
	log.Infow("register handler", "endpoint", WithdrawEndpoint, "method", "POST")
	a.router.Post(WithdrawEndpoint, a.withdraw)
	log.Infow("register handler", "endpoint", InsertOrderEndpoint, "method", "POST")
	a.router.Post(InsertOrderEndpoint, a.insertOrder)
	log.Infow("register handler", "endpoint", AmendRequestEndpoint, "method", "POST")
	a.router.Post(AmendRequestEndpoint, a.amendRequest)
	log.Infow("register handler", "endpoint", CancelRequestEndpoint, "method", "DELETE")
	a.router.Delete(CancelRequestEndpoint, a.cancelRequest)
	log.Infow("register handler", "endpoint", CancelAllEndpoint, "method", "DELETE")
	a.router.Delete(CancelAllEndpoint, a.cancelAll)

	log.Infow("register handler", "endpoint", GetAllOpenRequestsEndpoint, "method", "GET")
	a.router.Get(GetAllOpenRequestsEndpoint, a.getAllOpenRequests)
	log.Infow("register handler", "endpoint", GetRequestStatusEndpoint, "method", "GET")
	a.router.Get(GetRequestStatusEndpoint, a.getRequestStatus)

	log.Infow("register handler", "endpoint", WebSocketEndpoint, "method", "GET")
	a.router.Get(WebSocketEndpoint, a.ws)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	a.router.Use(loggingMiddleware(maxRequestBodyLog))
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	a.registerHandlers()
}
