package server

import (
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/backendvisor/internal/history"
	"github.com/loykin/backendvisor/internal/metrics"
	"github.com/loykin/backendvisor/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Controller is the lifecycle surface the router drives.
type Controller interface {
	Start() error
	Stop() error
	Status() supervisor.Status
}

// Router exposes backend lifecycle control to the host over HTTP.
// Endpoints:
//
//	GET  {basePath}/status
//	POST {basePath}/start   409 when already running, 502 when the spawn fails
//	POST {basePath}/stop    idempotent
//	GET  {basePath}/history only when a history reader is attached
//	GET  /metrics           only when a gatherer is configured
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      Controller
	basePath string
	gatherer prometheus.Gatherer
	history  history.Reader
}

// cleanBase normalizes a mount prefix to "" or "/a/b".
func cleanBase(bp string) string {
	bp = path.Clean("/" + strings.TrimSpace(bp))
	if bp == "/" {
		return ""
	}
	return bp
}

// NewRouter constructs a Router. A nil gatherer disables /metrics.
func NewRouter(ctl Controller, basePath string, gatherer prometheus.Gatherer) *Router {
	return &Router{ctl: ctl, basePath: cleanBase(basePath), gatherer: gatherer}
}

// WithHistory exposes recent lifecycle events from h.
func (r *Router) WithHistory(h history.Reader) *Router {
	r.history = h
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	if r.history != nil {
		group.GET("/history", r.handleHistory)
	}
	if r.gatherer != nil {
		g.GET("/metrics", gin.WrapH(metrics.HandlerFor(r.gatherer)))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Listen errors after startup are reported on the returned channel.
func NewServer(addr string, r *Router) (*http.Server, <-chan error) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	return srv, errc
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.ctl.Status())
}

func (r *Router) handleStart(c *gin.Context) {
	err := r.ctl.Start()
	switch {
	case err == nil:
		c.JSON(http.StatusOK, r.ctl.Status())
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, errorResp{Error: err.Error()})
	case errors.Is(err, supervisor.ErrSpawn):
		c.JSON(http.StatusBadGateway, errorResp{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.ctl.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, errorResp{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	events, err := r.history.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	c.JSON(http.StatusOK, events)
}
