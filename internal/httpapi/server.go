// Package httpapi is the REST surface of the daemon. It maps job routes onto
// the jobs API and mounts the admin JSON-RPC endpoint under /rpc.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/payloads"
	"github.com/hookcron/hookcron-go/pkg/services/library"
	"go.uber.org/zap"
)

type API struct {
	jobs   library.Jobs
	rpc    http.Handler
	apiKey string
	log    *logger.Logger
}

// EnqueueRequest is the body of PUT /jobs/:name.
type EnqueueRequest struct {
	Payload json.RawMessage `json:"payload"`
	payloads.EnqueueOptions
}

func New(jobs library.Jobs, rpc http.Handler, apiKey string, log *logger.Logger) *API {
	return &API{
		jobs:   jobs,
		rpc:    rpc,
		apiKey: apiKey,
		log:    log.Named("httpapi"),
	}
}

// Router builds a gin engine with every route registered.
func (a *API) Router(development bool) *gin.Engine {
	if !development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), a.logRequests())
	a.SetupRoutes(router)
	return router
}

func (a *API) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", a.healthCheck)

	authed := router.Group("/", a.authenticate())
	authed.PUT("/jobs/:name", a.enqueue)
	authed.PATCH("/jobs/:name", a.update)
	authed.GET("/jobs/:name", a.get)
	authed.DELETE("/jobs/:name", a.delete)
	authed.POST("/jobs/:name/promote", a.promote)
	authed.GET("/jobs/:name/runs", a.runs)
	if a.rpc != nil {
		authed.GET("/rpc", gin.WrapH(a.rpc))
	}
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": core.Version})
}

func (a *API) enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage("null")
	}

	job, err := a.jobs.Enqueue(c.Request.Context(), c.Param("name"), req.Payload, req.EnqueueOptions)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (a *API) update(c *gin.Context) {
	var opts payloads.UpdateOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		a.badRequest(c, err)
		return
	}

	job, err := a.jobs.Update(c.Request.Context(), c.Param("name"), opts)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (a *API) get(c *gin.Context) {
	view, err := a.jobs.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a *API) delete(c *gin.Context) {
	if err := a.jobs.Delete(c.Request.Context(), c.Param("name")); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, core.EmptyResult)
}

func (a *API) promote(c *gin.Context) {
	job, err := a.jobs.Promote(c.Request.Context(), c.Param("name"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (a *API) runs(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			a.badRequest(c, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	runs, err := a.jobs.Runs(c.Request.Context(), c.Param("name"), limit)
	if err != nil {
		a.fail(c, err)
		return
	}
	if runs == nil {
		runs = []*payloads.RunRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(runs), "runs": runs})
}

func (a *API) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.apiKey == "" {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, core.ErrorBody{
				Kind:    "unauthorized",
				Message: "missing or invalid API key",
			})
			return
		}
		c.Next()
	}
}

func (a *API) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		a.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()))
	}
}

func (a *API) badRequest(c *gin.Context, err error) {
	if errors.Is(err, io.EOF) {
		err = errors.New("request body is required")
	}
	c.JSON(http.StatusBadRequest, core.ErrorBody{Kind: "invalid_body", Message: err.Error()})
}

func (a *API) fail(c *gin.Context, err error) {
	kind := core.ErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "not_found":
		status = http.StatusNotFound
	case "invalid_job":
		status = http.StatusBadRequest
	case "signature_mismatch", "envelope":
		status = http.StatusUnprocessableEntity
	default:
		a.log.Error("job request failed",
			zap.String("job", c.Param("name")),
			zap.Error(err))
	}
	c.JSON(status, core.ErrorBody{Kind: kind, Message: err.Error()})
}
