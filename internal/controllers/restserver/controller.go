// Package restserver exposes the decoding pipeline over HTTP.
package restserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/chrissnell/riverapi/internal/log"
	"github.com/chrissnell/riverapi/internal/storage"
	"github.com/chrissnell/riverapi/pkg/config"
	"github.com/chrissnell/riverapi/pkg/responseformat"
)

// Dependencies are the components the API serves from. Devices and Poller
// may be nil.
type Dependencies struct {
	Ingestor Ingestor
	Resolver PositionResolver
	Store    Store
	Devices  DeviceCatalog
	Poller   PollerStatus
	Health   *storage.HealthManager

	PersistReadings bool
	HighResolution  bool
}

// Controller represents the REST server controller
type Controller struct {
	ctx        context.Context
	wg         *sync.WaitGroup
	restConfig config.RESTServerData
	Server     http.Server
	logger     *zap.SugaredLogger
	handlers   *Handlers
}

// NewController creates a new REST server controller
func NewController(ctx context.Context, wg *sync.WaitGroup, rc config.RESTServerData, deps Dependencies, logger *zap.SugaredLogger) (*Controller, error) {
	if deps.Ingestor == nil || deps.Resolver == nil || deps.Store == nil {
		return nil, fmt.Errorf("REST server requires an ingestor, a position resolver and a store")
	}

	ctrl := &Controller{
		ctx:        ctx,
		wg:         wg,
		restConfig: rc,
		logger:     logger,
	}

	if ctrl.restConfig.Port == 0 {
		logger.Infof("REST server port not specified; defaulting to %d", config.DefaultPort)
		ctrl.restConfig.Port = config.DefaultPort
	}
	if ctrl.restConfig.ListenAddr == "" {
		logger.Infof("REST server listen-addr not provided; defaulting to %s", config.DefaultListenAddr)
		ctrl.restConfig.ListenAddr = config.DefaultListenAddr
	}

	ctrl.handlers = NewHandlers(deps, responseformat.NewFormatter(), logger)

	ctrl.Server.Addr = fmt.Sprintf("%v:%v", ctrl.restConfig.ListenAddr, ctrl.restConfig.Port)
	ctrl.Server.Handler = ctrl.Handler()
	ctrl.Server.ReadHeaderTimeout = 10 * time.Second

	return ctrl, nil
}

// Handler returns the complete HTTP handler, middleware included
func (c *Controller) Handler() http.Handler {
	var h http.Handler = c.setupRouter()
	if c.restConfig.EnableCORS {
		origins := c.restConfig.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		h = cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Accept"},
		}).Handler(h)
	}
	return h
}

// StartController starts the REST server
func (c *Controller) StartController() error {
	log.Info("Starting REST server controller...")
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		c.logger.Infof("REST server starting on %s", c.Server.Addr)

		var err error
		if c.restConfig.Cert != "" && c.restConfig.Key != "" {
			c.logger.Info("Starting REST server with TLS")
			err = c.Server.ListenAndServeTLS(c.restConfig.Cert, c.restConfig.Key)
		} else {
			c.logger.Info("Starting REST server without TLS")
			err = c.Server.ListenAndServe()
		}

		if err != http.ErrServerClosed {
			log.Errorf("REST server error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		log.Info("Shutting down the REST server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Server.Shutdown(shutdownCtx)
	}()

	return nil
}

// setupRouter configures the HTTP router with all endpoints. Routes sit on
// the root router so that a method mismatch under /v1 answers 405.
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)
	router.MethodNotAllowedHandler = http.HandlerFunc(c.handlers.MethodNotAllowed)
	router.NotFoundHandler = http.HandlerFunc(c.handlers.NotFound)

	router.HandleFunc("/healthz", c.handlers.GetHealth).Methods("GET")

	// Pipeline
	router.HandleFunc("/v1/stationdata", c.handlers.PreviewStationData).Methods("POST")
	router.HandleFunc("/v1/messages/{message_guid}/ingest", c.handlers.IngestMessage).Methods("POST")
	router.HandleFunc("/v1/controlmessages", c.handlers.CreateControlMessage).Methods("POST")

	// Assignments and readings
	router.HandleFunc("/v1/stations/{station_id}/positions", c.handlers.GetStationPositions).Methods("GET")
	router.HandleFunc("/v1/sensors/{sensor_id}/history", c.handlers.GetSensorHistory).Methods("GET")
	router.HandleFunc("/v1/sensors/{sensor_id}/summary", c.handlers.GetSensorSummary).Methods("GET")

	// Satellite provider
	router.HandleFunc("/v1/astrocast/status", c.handlers.GetPollerStatus).Methods("GET")
	router.HandleFunc("/v1/astrocast/devices", c.handlers.GetDevices).Methods("GET")
	router.HandleFunc("/v1/astrocast/devices/summary", c.handlers.GetDeviceSummaries).Methods("GET")
	router.HandleFunc("/v1/astrocast/devices/{device_id}", c.handlers.GetDevice).Methods("GET")

	return router
}

// statusRecorder captures what a handler wrote for the access log
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
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
	r.size += n
	return n, err
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		log.LogHTTPRequest(r.Method, r.URL.Path, rec.status, time.Since(start), rec.size, r.RemoteAddr, r.UserAgent())
	})
}
