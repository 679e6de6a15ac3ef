package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/db"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/events"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/ipam"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/models"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/response"
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/state"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/logger"
)

// A Daemon can respond to requests from NAPI clients.
type Daemon struct {
	state  *state.State
	events *events.Server
	config *state.Config

	server *http.Server

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewDaemon returns a new Daemon with the given configuration.
func NewDaemon(config *state.Config) *Daemon {
	d := &Daemon{
		config: config,
		events: events.NewServer(),
	}

	d.shutdownCtx, d.shutdownCancel = context.WithCancel(context.Background())

	return d
}

// APIEndpoint represents a URL in our API.
type APIEndpoint struct {
	Name   string // Name for this endpoint.
	Path   string // Path pattern for this endpoint.
	Get    APIEndpointAction
	Put    APIEndpointAction
	Post   APIEndpointAction
	Delete APIEndpointAction
}

// APIEndpointAction represents an action on an API endpoint.
type APIEndpointAction struct {
	Handler func(d *Daemon, r *http.Request) response.Response
}

// State returns the daemon-wide state bundle.
func (d *Daemon) State() *state.State {
	return d.state
}

// Init opens the store, creates the buckets and seeds the built-in NIC tags.
func (d *Daemon) Init() error {
	store, err := db.Open(d.config.DBPath)
	if err != nil {
		return err
	}

	err = models.InitBuckets(d.shutdownCtx, store)
	if err != nil {
		_ = store.Close()
		return err
	}

	d.state = &state.State{
		Store:       store,
		IPAM:        ipam.New(store, d.config.AllocRetries),
		Events:      d.events,
		Config:      d.config,
		ShutdownCtx: d.shutdownCtx,
	}

	err = d.seedNICTags()
	if err != nil {
		_ = store.Close()
		return err
	}

	return nil
}

// seedNICTags creates the built-in admin and external tags if missing.
func (d *Daemon) seedNICTags() error {
	for _, name := range []string{models.AdminTagName, models.ExternalTagName} {
		_, err := models.GetNICTag(d.shutdownCtx, d.state, name)
		if err == nil {
			continue
		}

		_, err = models.CreateNICTag(d.shutdownCtx, d.state, map[string]any{"name": name})
		if err != nil {
			return fmt.Errorf("Failed to seed nic tag %q: %w", name, err)
		}

		logger.Info("Seeded built-in nic tag", logger.Ctx{"name": name})
	}

	return nil
}

// router builds the daemon's route table.
func (d *Daemon) router() *mux.Router {
	router := mux.NewRouter()
	router.StrictSlash(false)
	router.SkipClean(true)

	for _, c := range apiEndpoints {
		d.createCmd(router, c)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("Sending 404", logger.Ctx{"method": r.Method, "url": r.URL.RequestURI()})
		_ = response.NotFound("no such endpoint").Render(w, r)
	})

	return router
}

// Run serves the API until Stop is called.
func (d *Daemon) Run() error {
	d.server = &http.Server{
		Addr:    d.config.ListenAddress,
		Handler: d.router(),
	}

	logger.Info("Daemon started", logger.Ctx{"listen": d.config.ListenAddress})

	err := d.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop shuts the daemon down.
func (d *Daemon) Stop() error {
	d.shutdownCancel()

	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := d.server.Shutdown(ctx)
		if err != nil {
			return err
		}
	}

	if d.state != nil {
		err := d.state.Store.Close()
		if err != nil {
			return err
		}
	}

	logger.Info("Daemon stopped")

	return nil
}

func (d *Daemon) createCmd(restAPI *mux.Router, c APIEndpoint) {
	uri := "/" + c.Path

	route := restAPI.HandleFunc(uri, func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("Handling request", logger.Ctx{"method": r.Method, "url": r.URL.RequestURI(), "ip": r.RemoteAddr})

		handleRequest := func(action APIEndpointAction) response.Response {
			if action.Handler == nil {
				return response.NotFound("method not supported")
			}

			return action.Handler(d, r)
		}

		var resp response.Response

		switch r.Method {
		case "GET":
			resp = handleRequest(c.Get)
		case "HEAD":
			// HEAD mirrors GET's headers and status without the body.
			resp = handleRequest(c.Get)
			w = headResponseWriter{w}
		case "PUT":
			resp = handleRequest(c.Put)
		case "POST":
			resp = handleRequest(c.Post)
		case "DELETE":
			resp = handleRequest(c.Delete)
		default:
			resp = response.NotFound("method not supported")
		}

		err := resp.Render(w, r)
		if err != nil {
			logger.Error("Failed writing response", logger.Ctx{"url": uri, "err": err})
		}
	})

	if c.Name != "" {
		route.Name(c.Name)
	}
}

// headResponseWriter swallows the body written by a GET handler.
type headResponseWriter struct {
	http.ResponseWriter
}

func (w headResponseWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

// parseBody decodes a JSON request body into a generic map. An empty body is
// an empty map.
func parseBody(r *http.Request) (map[string]any, error) {
	body := map[string]any{}

	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, api.StatusErrorf(http.StatusUnprocessableEntity, "Invalid JSON body: %s", err)
	}

	return body, nil
}

// queryParams flattens the request query string into a parameter map, taking
// the first value of each key.
func queryParams(r *http.Request) map[string]any {
	params := map[string]any{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	return params
}
