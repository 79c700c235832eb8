// Package server exposes the bidder registry over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	mng "github.com/chinnucsk/bidder-gateway/internal/manager"
	"github.com/chinnucsk/bidder-gateway/internal/process"
	"github.com/chinnucsk/bidder-gateway/internal/store"
)

// maxConfigBytes bounds the JSON config body of a start request.
const maxConfigBytes = 1 << 20

// Supervisor is the registry surface the router needs.
type Supervisor interface {
	Start(ctx context.Context, req mng.StartRequest) (store.Record, error)
	Stop(ctx context.Context, name string, sig syscall.Signal) error
	Status(ctx context.Context, name string) mng.State
	List() []string
	Lookup(name string) (store.Record, bool)
}

// Options configures a Router.
type Options struct {
	BasePath     string
	ConfigServer string       // agent configuration service, absolute URL
	Logger       *slog.Logger // request and error log
	Metrics      http.Handler // served at GET /metrics when set
}

// Router provides the agent endpoints:
//
//	GET      {base}/v1/agents                  registered names
//	GET      {base}/v1/agents/all              302 to the config service
//	POST     {base}/v1/agents/:name/start      ?executable=exe&k=v..., body: JSON config
//	POST     {base}/v1/agents/:name/stop       ?signal=n (default 9)
//	GET      {base}/v1/agents/:name/status
//	GET|POST {base}/v1/agents/:name/config     302 to the config service
//	POST     {base}/v1/agents/:name/heartbeat  302 to the config service
//
// Outcomes are reported as {resultCode, resultDescription} with status 200;
// malformed requests get 400.
type Router struct {
	sup          Supervisor
	basePath     string
	configServer *url.URL
	log          *slog.Logger
	metrics      http.Handler
}

// NewRouter validates opts and builds a Router.
func NewRouter(sup Supervisor, opts Options) (*Router, error) {
	u, err := url.Parse(opts.ConfigServer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("config server %q is not an absolute URL", opts.ConfigServer)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		sup:          sup,
		basePath:     sanitizeBase(opts.BasePath),
		configServer: u,
		log:          log,
		metrics:      opts.Metrics,
	}, nil
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.logRequests())
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	agents := g.Group(r.basePath + "/v1/agents")
	agents.GET("", r.handleList)
	agents.GET("/all", r.handleAll)
	agents.POST("/:name/start", r.handleStart)
	agents.POST("/:name/stop", r.handleStop)
	agents.GET("/:name/status", r.handleStatus)
	agents.GET("/:name/config", r.redirectTo("config"))
	agents.POST("/:name/config", r.redirectTo("config"))
	agents.POST("/:name/heartbeat", r.redirectTo("heartbeat"))
	return g
}

// NewServer wraps h in an http.Server with the gateway's timeouts. Start
// requests block for up to the pid discovery timeout, which the write
// timeout leaves room for.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (r *Router) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now()
		c.Next()
		r.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(began))
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

// Result is the body of start, stop, status and unmapped-redirect responses.
type Result struct {
	ResultCode        int    `json:"resultCode"`
	ResultDescription string `json:"resultDescription"`
	ExternalReference string `json:"externalReference,omitempty"`
	State             string `json:"state,omitempty"`
}

// Start result codes.
const (
	StartOK              = 0
	StartAlreadyStarted  = 1
	StartPersistFailed   = 2
	StartSpawnFailed     = 3
	StartNoConfigOrPid   = 4
	StartAbortedAtLaunch = 5
)

// Stop result codes.
const (
	StopOK            = 0
	StopNotRunning    = 1
	StopSignalFailed  = 2
	StopPersistFailed = 4
)

// Status result codes.
const (
	StatusDown    = 0
	StatusUp      = 1
	StatusAborted = 2
)

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.List())
}

func (r *Router) handleAll(c *gin.Context) {
	c.Redirect(http.StatusFound, r.configURL("/v1/agents/all"))
}

func (r *Router) handleStart(c *gin.Context) {
	name := c.Param("name")
	if !mng.ValidName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-], not starting with '.' and no '..'"})
		return
	}
	q := c.Request.URL.Query()
	exe := q.Get("executable")
	if exe == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "executable query parameter required"})
		return
	}
	params := make(map[string]string, len(q))
	for k, vs := range q {
		if k == "executable" || k == "bidder_name" || len(vs) == 0 {
			continue
		}
		params[k] = vs[0]
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxConfigBytes+1))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "read body: " + err.Error()})
		return
	}
	if len(body) > maxConfigBytes {
		writeJSON(c, http.StatusRequestEntityTooLarge, errorResp{Error: "config body too large"})
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "config body is not valid JSON"})
		return
	}

	rec, err := r.sup.Start(c.Request.Context(), mng.StartRequest{
		Name:       name,
		Executable: exe,
		Params:     params,
		Config:     json.RawMessage(body),
	})
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, Result{ResultCode: StartOK, ResultDescription: "ok", ExternalReference: rec.ExternalRef})
	case errors.Is(err, mng.ErrAlreadyRunning):
		writeJSON(c, http.StatusOK, Result{ResultCode: StartAlreadyStarted, ResultDescription: "bidder already started"})
	case errors.Is(err, mng.ErrPersistFailed):
		writeJSON(c, http.StatusOK, Result{ResultCode: StartPersistFailed, ResultDescription: "unable to persist bidder record", ExternalReference: rec.ExternalRef})
	case errors.Is(err, process.ErrSpawnFailed):
		writeJSON(c, http.StatusOK, Result{ResultCode: StartSpawnFailed, ResultDescription: "error executing bidder"})
	case errors.Is(err, process.ErrConfigWriteFailed):
		writeJSON(c, http.StatusOK, Result{ResultCode: StartNoConfigOrPid, ResultDescription: "unable to create config file"})
	case errors.Is(err, process.ErrPidNotFound):
		writeJSON(c, http.StatusOK, Result{ResultCode: StartNoConfigOrPid, ResultDescription: "unable to find pid, are you printing it?"})
	case errors.Is(err, process.ErrProcessAbortedImmediately):
		writeJSON(c, http.StatusOK, Result{ResultCode: StartAbortedAtLaunch, ResultDescription: err.Error()})
	default:
		r.log.Error("start failed", "bidder", name, "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Param("name")
	sig := process.DefaultStopSignal
	if s := c.Query("signal"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "signal must be a positive integer"})
			return
		}
		sig = syscall.Signal(n)
	}

	err := r.sup.Stop(c.Request.Context(), name, sig)
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, Result{ResultCode: StopOK, ResultDescription: "ok"})
	case errors.Is(err, mng.ErrNotRunning):
		writeJSON(c, http.StatusOK, Result{ResultCode: StopNotRunning, ResultDescription: "bidder not running"})
	case errors.Is(err, mng.ErrSignalFailed):
		writeJSON(c, http.StatusOK, Result{ResultCode: StopSignalFailed, ResultDescription: "unable to kill process: " + err.Error()})
	case errors.Is(err, mng.ErrPersistFailed):
		writeJSON(c, http.StatusOK, Result{ResultCode: StopPersistFailed, ResultDescription: "unable to delete bidder record"})
	default:
		r.log.Error("stop failed", "bidder", name, "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Param("name")
	rec, known := r.sup.Lookup(name)
	state := r.sup.Status(c.Request.Context(), name)
	res := Result{State: state.String()}
	switch state {
	case mng.Up:
		res.ResultCode, res.ResultDescription = StatusUp, "up"
	case mng.Aborted:
		res.ResultCode, res.ResultDescription = StatusAborted, "bidder aborted"
		if known {
			res.ResultDescription = fmt.Sprintf("process id %d lost", rec.PID)
		}
	default:
		res.ResultCode, res.ResultDescription = StatusDown, "down"
	}
	writeJSON(c, http.StatusOK, res)
}

// redirectTo forwards a per-bidder call to the config service, which keys
// bidders by their external reference.
func (r *Router) redirectTo(suffix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		rec, ok := r.sup.Lookup(name)
		if !ok {
			writeJSON(c, http.StatusOK, Result{ResultCode: 1, ResultDescription: "unable to map " + name})
			return
		}
		c.Redirect(http.StatusFound, r.configURL("/v1/agents/"+url.PathEscape(rec.ExternalRef)+"/"+suffix))
	}
}

func (r *Router) configURL(path string) string {
	return r.configServer.ResolveReference(&url.URL{Path: path}).String()
}
