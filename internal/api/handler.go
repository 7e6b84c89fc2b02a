package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"decoration-service/internal/models"
	"decoration-service/internal/service"
	"decoration-service/internal/util"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	headerActor          = "X-Actor"
	headerIdempotencyKey = "Idempotency-Key"
)

// Handler contains HTTP handlers
type Handler struct {
	ledger   *service.LedgerService
	commands *service.CommandProcessor
}

// NewHandler creates a new HTTP handler
func NewHandler(ledger *service.LedgerService, commands *service.CommandProcessor) *Handler {
	return &Handler{
		ledger:   ledger,
		commands: commands,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	// promhttp negotiates its own compression
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:number", h.getOrder)
		v1.POST("/orders/:number/rollback", h.rollbackOrder)
		v1.POST("/commands", h.executeCommand)

		comp := v1.Group("/orders/:number/items/:item/components/:component")
		comp.GET("/teams/:team", h.teamStatus)
		comp.POST("/teams/:team/production", h.reportProduction)
		comp.POST("/teams/:team/dispatch", h.dispatch)
		comp.PUT("/teams/:team/stock", h.reportStock)
		comp.POST("/vehicles/:index/received", h.markVehicleReceived)
		comp.POST("/vehicles/:index/approved", h.markVehicleApproved)
	}
}

type productionBody struct {
	Quantity  int    `json:"quantity"`
	StockUsed int    `json:"stock_used"`
	Notes     string `json:"notes" binding:"max=1000"`
}

type vehicleBody struct {
	Team string `json:"team" binding:"required"`
}

type stockBody struct {
	Available *int `json:"available" binding:"required"`
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports whether the ledger store is reachable
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.ledger.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order intake
func (h *Handler) createOrder(c *gin.Context) {
	var order models.Order
	if err := c.ShouldBindJSON(&order); err != nil {
		writeError(c, models.NewError(models.KindInvalidRequest, "invalid request body: %v", err))
		return
	}

	created, err := h.ledger.CreateOrder(c.Request.Context(), &order)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.ledger.ListOrders(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder returns the full order snapshot
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.ledger.GetOrder(c.Request.Context(), c.Param("number"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) rollbackOrder(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	order, err := h.ledger.RollbackOrder(c.Request.Context(), c.Param("number"), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// executeCommand applies a wire command synchronously and answers with the
// resulting component
func (h *Handler) executeCommand(c *gin.Context) {
	var cmd models.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		writeError(c, models.NewError(models.KindInvalidRequest, "invalid request body: %v", err))
		return
	}
	if cmd.RequestID == "" {
		cmd.RequestID = requestID(c)
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.New().String()
	}
	if cmd.Actor == "" {
		cmd.Actor = c.GetHeader(headerActor)
	}

	comp, err := h.commands.Execute(c.Request.Context(), &cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, comp)
}

func (h *Handler) teamStatus(c *gin.Context) {
	status, err := h.ledger.TeamStatus(c.Request.Context(), componentKey(c), c.Param("team"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// reportProduction records progress by a team. Quantity checks are left to
// the ledger so the caller gets the precise rejection kind.
func (h *Handler) reportProduction(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var body productionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, models.NewError(models.KindInvalidRequest, "invalid request body: %v", err))
		return
	}

	comp, err := h.ledger.ApplyProduction(c.Request.Context(), service.ProductionRequest{
		Origin:    service.Origin{RequestID: requestID(c)},
		Key:       componentKey(c),
		Team:      c.Param("team"),
		Quantity:  body.Quantity,
		StockUsed: body.StockUsed,
		Notes:     body.Notes,
		Actor:     actor,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, comp)
}

func (h *Handler) dispatch(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	comp, err := h.ledger.Dispatch(c.Request.Context(), service.DispatchRequest{
		Origin: service.Origin{RequestID: requestID(c)},
		Key:    componentKey(c),
		Team:   c.Param("team"),
		Actor:  actor,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, comp)
}

func (h *Handler) reportStock(c *gin.Context) {
	var body stockBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, models.NewError(models.KindInvalidRequest, "invalid request body: %v", err))
		return
	}

	if err := h.ledger.ReportStock(c.Request.Context(), componentKey(c), c.Param("team"), *body.Available); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) markVehicleReceived(c *gin.Context) {
	h.vehicleMutation(c, h.ledger.MarkVehicleReceived)
}

func (h *Handler) markVehicleApproved(c *gin.Context) {
	h.vehicleMutation(c, h.ledger.MarkVehicleApproved)
}

func (h *Handler) vehicleMutation(c *gin.Context, apply func(context.Context, service.VehicleRequest) (*models.Component, error)) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		writeError(c, models.NewError(models.KindInvalidRequest, "invalid vehicle index %q", c.Param("index")))
		return
	}

	var body vehicleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, models.NewError(models.KindInvalidRequest, "invalid request body: %v", err))
		return
	}

	comp, err := apply(c.Request.Context(), service.VehicleRequest{
		Origin: service.Origin{RequestID: requestID(c)},
		Key:    componentKey(c),
		Team:   body.Team,
		Actor:  actor,
		Index:  index,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, comp)
}

func componentKey(c *gin.Context) models.ComponentKey {
	return models.ComponentKey{
		OrderNumber: c.Param("number"),
		ItemID:      c.Param("item"),
		ComponentID: c.Param("component"),
	}
}

func requireActor(c *gin.Context) (string, bool) {
	actor := c.GetHeader(headerActor)
	if actor == "" {
		writeError(c, models.NewError(models.KindInvalidRequest, "%s header is required", headerActor))
		return "", false
	}
	return actor, true
}

// requestID makes retries with the same Idempotency-Key apply at most once
func requestID(c *gin.Context) string {
	if key := c.GetHeader(headerIdempotencyKey); key != "" {
		return key
	}
	return uuid.New().String()
}

// writeError maps err to an HTTP status code and writes a JSON error response
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	details := err.Error()
	var de *models.Error
	if errors.As(err, &de) && de.Message != "" {
		details = de.Message
	}

	c.JSON(status, gin.H{
		"error":   http.StatusText(status),
		"kind":    models.KindOf(err),
		"details": details,
	})
}

func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindOrderNotFound, models.KindComponentNotFound, models.KindVehicleNotFound:
		return http.StatusNotFound // 404
	case models.KindInvalidRequest:
		return http.StatusBadRequest // 400
	case models.KindNotAssigned:
		return http.StatusForbidden // 403
	case models.KindOrderExists, models.KindConflict, models.KindMutationInFlight,
		models.KindSequenceViolation, models.KindVehiclesNotApproved, models.KindNotReady,
		models.KindVehicleNotReceived:
		return http.StatusConflict // 409
	case models.KindInvalidQuantity, models.KindOverAllocation, models.KindStockExceeded:
		return http.StatusUnprocessableEntity // 422
	case models.KindTimeout:
		return http.StatusGatewayTimeout // 504
	case models.KindSessionClosed:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
